// Package registry maps card ATRs to the known ways of opening their keystores.
// Re-probing a token is expensive, so every distinct ATR gets exactly one bucket
// and identical connection recipes are stored once.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
	"github.com/SimplyPrint/sign-agent/internal/tokencache"
)

// DefaultLookupCacheSize bounds the GetInfo result cache.
const DefaultLookupCacheSize = 500

// Options configures a Database.
type Options struct {
	LookupCacheSize int
	Metrics         *metrics.Metrics
}

type lookupKey struct {
	atr, label, alias string
}

type cachedLookup struct {
	version uint64
	info    core.ConnectionInfo
	matched bool
}

// Database is the ATR registry. It is safe for concurrent use; every reader
// observes either the state before or after a mutation.
type Database struct {
	mu         sync.RWMutex
	buckets    map[string]*SCInfo
	versions   map[string]uint64
	generation uint64 // bumped on every mutation
	savedGen   uint64

	store   Store
	lookups *tokencache.Cache[lookupKey, cachedLookup]
	metrics *metrics.Metrics
}

// Open builds a registry and loads the buckets persisted in store.
// A nil store keeps the registry in memory only.
func Open(ctx context.Context, store Store, opts Options) (*Database, error) {
	size := opts.LookupCacheSize
	if size == 0 {
		size = DefaultLookupCacheSize
	}
	lookups, err := tokencache.New[lookupKey, cachedLookup](size)
	if err != nil {
		return nil, err
	}

	db := &Database{
		buckets:  make(map[string]*SCInfo),
		versions: make(map[string]uint64),
		store:    store,
		lookups:  lookups,
		metrics:  opts.Metrics,
	}

	if store != nil {
		loaded, err := store.Load(ctx)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindDecoding, "registry.load_failed")
		}
		for i := range loaded {
			b := loaded[i]
			atr := NormalizeATR(b.ATR)
			bucket, ok := db.buckets[atr]
			if !ok {
				bucket = newSCInfo(atr)
				db.buckets[atr] = bucket
			}
			for _, info := range b.infos {
				bucket.add(info)
			}
		}
		logging.Info(logging.CatRegistry, "Registry loaded", map[string]any{
			"buckets": len(db.buckets),
		})
	}
	db.reportSize()
	return db, nil
}

// Add records info for the card's ATR. It reports whether the bucket grew;
// an entry with the same API and parameter is never added twice.
// The info's terminal label defaults to the card's.
func (db *Database) Add(card core.DetectedCard, info core.ConnectionInfo) (bool, error) {
	atr := NormalizeATR(card.ATR)
	if atr == "" {
		return false, apperr.New(apperr.KindConfiguration, "registry.empty_atr")
	}
	if info.SelectedAPI == "" {
		return false, apperr.New(apperr.KindConfiguration, "registry.missing_api", atr)
	}
	if info.TerminalLabel == "" {
		info.TerminalLabel = card.TerminalLabel
	}

	db.mu.Lock()
	bucket, ok := db.buckets[atr]
	if !ok {
		bucket = newSCInfo(atr)
		db.buckets[atr] = bucket
	}
	added := bucket.add(info)
	if added {
		db.touch(atr)
	}
	db.mu.Unlock()

	if added {
		logging.Info(logging.CatRegistry, "Connection info added", map[string]any{
			"atr":   atr,
			"api":   info.SelectedAPI,
			"param": info.APIParam,
		})
		db.reportSize()
	}
	return added, nil
}

// Update merges probe results into the entry sharing info's access key:
// digests are added, and the certificate chain and key alias are set if missing.
func (db *Database) Update(atr string, info core.ConnectionInfo) (bool, error) {
	atr = NormalizeATR(atr)

	db.mu.Lock()
	defer db.mu.Unlock()

	bucket, ok := db.buckets[atr]
	if !ok {
		return false, apperr.New(apperr.KindNotFound, "registry.atr_not_found", atr)
	}
	idx := bucket.indexOf(info)
	if idx < 0 {
		return false, apperr.New(apperr.KindNotFound, "registry.connection_not_found", atr, info.SelectedAPI, info.APIParam)
	}

	entry := bucket.infos[idx].Clone()
	changed := false
	for _, d := range info.SupportedDigests {
		if entry.AddDigest(d) {
			changed = true
		}
	}
	if entry.CertificateChain.Empty() && !info.CertificateChain.Empty() {
		entry.CertificateChain = info.CertificateChain
		changed = true
	}
	if entry.KeyAlias == "" && info.KeyAlias != "" {
		entry.KeyAlias = info.KeyAlias
		changed = true
	}
	if changed {
		bucket.infos[idx] = entry
		db.touch(atr)
	}
	return changed, nil
}

// GetInfo returns the connection info for atr, narrowed by terminal label and
// key alias when given. If a bucket exists but no entry matches the narrowing
// criteria, the bucket's first entry is returned.
func (db *Database) GetInfo(atr, terminalLabel, alias string) (core.ConnectionInfo, error) {
	atr = NormalizeATR(atr)
	key := lookupKey{atr: atr, label: terminalLabel, alias: alias}

	db.mu.RLock()
	defer db.mu.RUnlock()

	bucket, ok := db.buckets[atr]
	if !ok || bucket.Len() == 0 {
		return core.ConnectionInfo{}, apperr.New(apperr.KindNotFound, "registry.atr_not_found", atr)
	}

	version := db.versions[atr]
	if hit, ok := db.lookups.Get(key); ok && hit.version == version {
		return hit.info.Clone(), nil
	}

	info, matched := bucket.Match(terminalLabel, alias)
	if !matched {
		logging.Debug(logging.CatRegistry, "No entry matched, using first entry", map[string]any{
			"atr":           atr,
			"terminalLabel": terminalLabel,
			"alias":         alias,
		})
	}
	db.lookups.Put(key, cachedLookup{version: version, info: info, matched: matched})
	return info, nil
}

// Bucket returns a snapshot of the bucket for atr.
func (db *Database) Bucket(atr string) (SCInfo, bool) {
	atr = NormalizeATR(atr)

	db.mu.RLock()
	defer db.mu.RUnlock()

	bucket, ok := db.buckets[atr]
	if !ok {
		return SCInfo{}, false
	}
	return bucket.clone(), true
}

// ATRs returns every known ATR, sorted.
func (db *Database) ATRs() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	atrs := make([]string, 0, len(db.buckets))
	for atr := range db.buckets {
		atrs = append(atrs, atr)
	}
	sort.Strings(atrs)
	return atrs
}

// Len returns the number of buckets.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.buckets)
}

// Dirty reports whether there are mutations not yet saved.
func (db *Database) Dirty() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.generation != db.savedGen
}

// Save persists a snapshot of every bucket.
func (db *Database) Save(ctx context.Context) error {
	if db.store == nil {
		return nil
	}

	db.mu.RLock()
	gen := db.generation
	snapshot := make([]SCInfo, 0, len(db.buckets))
	for _, b := range db.buckets {
		snapshot = append(snapshot, b.clone())
	}
	db.mu.RUnlock()

	if err := db.store.Save(ctx, snapshot); err != nil {
		db.metrics.IncrementRegistrySaveFailures()
		return apperr.Wrap(err, apperr.KindInternal, "registry.save_failed")
	}

	db.mu.Lock()
	if gen > db.savedGen {
		db.savedGen = gen
	}
	db.mu.Unlock()

	logging.Debug(logging.CatRegistry, "Registry saved", map[string]any{
		"buckets": len(snapshot),
	})
	return nil
}

// RunAutosave saves the registry every interval while it is dirty, until ctx is done.
func (db *Database) RunAutosave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return apperr.New(apperr.KindConfiguration, "registry.invalid_autosave_interval", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !db.Dirty() {
				continue
			}
			if err := db.Save(ctx); err != nil {
				logging.Warn(logging.CatRegistry, "Autosave failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

// Close saves pending changes and closes the store.
func (db *Database) Close() error {
	if db.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	saveErr := db.Save(ctx)
	if err := db.store.Close(); err != nil {
		return err
	}
	return saveErr
}

// touch must be called with db.mu held for writing.
func (db *Database) touch(atr string) {
	db.versions[atr]++
	db.generation++
}

func (db *Database) reportSize() {
	if db.metrics == nil {
		return
	}
	db.mu.RLock()
	buckets, infos := len(db.buckets), 0
	for _, b := range db.buckets {
		infos += b.Len()
	}
	db.mu.RUnlock()
	db.metrics.SetRegistrySize(buckets, infos)
}
