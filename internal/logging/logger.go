package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// MarshalText renders the level by name in the logs API.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return 0, false
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Category groups entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatCard      Category = "card"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
	CatRegistry  Category = "registry"
	CatGateway   Category = "gateway"
	CatOperation Category = "operation"
)

// Entry is a single log record kept in memory.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarizes the buffer contents.
type Stats struct {
	Total      int              `json:"total"`
	Capacity   int              `json:"capacity"`
	ByLevel    map[string]int   `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Logger keeps the most recent entries in a ring buffer and mirrors them to a console sink.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	minLevel Level
	console  zerolog.Logger
}

var (
	global   *Logger
	globalMu sync.RWMutex
)

// New creates a logger holding up to maxEntries entries at or above minLevel.
// Entries are also written to out; pass nil to disable the console sink.
func New(maxEntries int, minLevel Level, out io.Writer) *Logger {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	console := zerolog.Nop()
	if out != nil {
		console = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(minLevel.zerolog()).
			With().Timestamp().Logger()
	}
	return &Logger{
		entries:  make([]Entry, maxEntries),
		minLevel: minLevel,
		console:  console,
	}
}

// Init sets up the process-wide logger writing to stderr.
func Init(maxEntries int, minLevel Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = New(maxEntries, minLevel, os.Stderr)
}

// Get returns the process-wide logger, creating a default one if Init was never called.
func Get() *Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(1000, LevelInfo, os.Stderr)
	}
	return global
}

// Log records an entry if level passes the minimum level.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	if level < l.minLevel {
		return
	}

	l.mu.Lock()
	l.entries[l.next] = Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	ev := l.console.WithLevel(level.zerolog()).Str("category", string(cat))
	if len(data) > 0 {
		ev = ev.Fields(data)
	}
	ev.Msg(msg)
}

// GetEntries returns up to limit entries, newest first, optionally filtered.
// A limit of zero or less returns every matching entry.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count()
	out := make([]Entry, 0, min(n, max(limit, 0)))
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stats returns counts by level and category.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Capacity:   len(l.entries),
		ByLevel:    make(map[string]int),
		ByCategory: make(map[Category]int),
	}
	n := l.count()
	for i := 0; i < n; i++ {
		e := l.entries[i]
		s.ByLevel[e.Level.String()]++
		s.ByCategory[e.Category]++
	}
	s.Total = n
	return s
}

// Clear drops all entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, len(l.entries))
	l.next = 0
	l.full = false
}

func (l *Logger) count() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Debug logs at debug level on the process-wide logger.
func Debug(cat Category, msg string, data map[string]any) {
	Get().Log(LevelDebug, cat, msg, data)
}

// Info logs at info level on the process-wide logger.
func Info(cat Category, msg string, data map[string]any) {
	Get().Log(LevelInfo, cat, msg, data)
}

// Warn logs at warn level on the process-wide logger.
func Warn(cat Category, msg string, data map[string]any) {
	Get().Log(LevelWarn, cat, msg, data)
}

// Error logs at error level on the process-wide logger.
func Error(cat Category, msg string, data map[string]any) {
	Get().Log(LevelError, cat, msg, data)
}
