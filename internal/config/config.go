package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 32146
	DefaultCacheSize      = 500
	DefaultAutosave       = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Config holds the agent's startup configuration.
type Config struct {
	Host           string        `validate:"required,hostname|ip"`
	Port           int           `validate:"min=1,max=65535"`
	DataDir        string        `validate:"required"`
	PlatformURL    string        `validate:"omitempty,url"`
	ClientID       string        `validate:"required_with=PlatformURL"`
	ClientSecret   string        `validate:"required_with=ClientID"`
	CacheSize      int           `validate:"min=1"`
	Autosave       time.Duration `validate:"min=1s"`
	ConnectTimeout time.Duration `validate:"min=100ms"`
	P12Path        string        `validate:"omitempty,file"`
	P12Password    string
	AllowedOrigins []string `validate:"dive,url"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration from SIGN_AGENT_* environment variables.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		DataDir:        defaultDataDir(),
		CacheSize:      DefaultCacheSize,
		Autosave:       DefaultAutosave,
		ConnectTimeout: DefaultConnectTimeout,
	}

	if v := getenv("SIGN_AGENT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("SIGN_AGENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.PlatformURL = strings.TrimRight(getenv("SIGN_AGENT_PLATFORM_URL"), "/")
	cfg.ClientID = getenv("SIGN_AGENT_CLIENT_ID")
	cfg.ClientSecret = getenv("SIGN_AGENT_CLIENT_SECRET")
	cfg.P12Path = getenv("SIGN_AGENT_P12")
	cfg.P12Password = getenv("SIGN_AGENT_P12_PASSWORD")

	var err error
	if cfg.AllowedOrigins, err = originsEnv(getenv, cfg.PlatformURL); err != nil {
		return nil, err
	}
	if cfg.Port, err = intEnv(getenv, "SIGN_AGENT_PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = intEnv(getenv, "SIGN_AGENT_CACHE_SIZE", cfg.CacheSize); err != nil {
		return nil, err
	}
	if cfg.Autosave, err = durationEnv(getenv, "SIGN_AGENT_AUTOSAVE", cfg.Autosave); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = durationEnv(getenv, "SIGN_AGENT_CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intEnv(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindConfiguration, "config.invalid_integer", name, v)
	}
	return n, nil
}

func durationEnv(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindConfiguration, "config.invalid_duration", name, v)
	}
	return d, nil
}

// originsEnv reads SIGN_AGENT_ALLOWED_ORIGINS, a comma separated list of web
// origins allowed to call the local server. It defaults to the platform's origin.
func originsEnv(getenv func(string) string, platformURL string) ([]string, error) {
	v := getenv("SIGN_AGENT_ALLOWED_ORIGINS")
	if v == "" {
		if platformURL == "" {
			return nil, nil
		}
		v = platformURL
	}
	var origins []string
	for _, raw := range strings.Split(v, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		origin, err := Origin(raw)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindConfiguration, "config.invalid_origin", raw)
		}
		origins = append(origins, origin)
	}
	return origins, nil
}

// Origin reduces a URL to its web origin, scheme://host[:port], lower case.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("origin %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q: missing host", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sign-agent")
	}
	return filepath.Join(dir, "sign-agent")
}

// Validate checks field constraints. The first violation is reported as a
// KindConfiguration error naming the field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Wrap(err, apperr.KindConfiguration, "config.invalid_field", fe.Field(), fe.ActualTag())
	}
	return apperr.Wrap(err, apperr.KindConfiguration, "config.invalid")
}

// Address returns the host:port the local server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PlatformEnabled reports whether a signing platform is configured.
func (c *Config) PlatformEnabled() bool {
	return c.PlatformURL != ""
}

func (c *Config) String() string {
	secret := ""
	if c.ClientSecret != "" {
		secret = "***"
	}
	return fmt.Sprintf("addr=%s data=%s platform=%q client=%q secret=%s cache=%d autosave=%s connect=%s p12=%q origins=%q",
		c.Address(), c.DataDir, c.PlatformURL, c.ClientID, secret, c.CacheSize, c.Autosave, c.ConnectTimeout, c.P12Path, c.AllowedOrigins)
}
