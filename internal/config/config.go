package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvGraveyard overrides the configured graveyard root.
const EnvGraveyard = "RIP_GRAVEYARD"

type LoggingCfg struct {
	File         string `yaml:"file" json:"file"`                   // Log file path; empty keeps logs off disk
	RotationDays int    `yaml:"rotation_days" json:"rotation_days"` // Days to keep logs before rotation
	Verbose      bool   `yaml:"verbose" json:"verbose"`             // Mirror log lines to stderr
}

type MetricsCfg struct {
	Textfile string `yaml:"textfile" json:"textfile"` // node_exporter textfile collector output; empty disables
}

type RetentionCfg struct {
	MaxAgeDays      int     `yaml:"max_age_days" json:"max_age_days"`         // Reap graves older than this; 0 keeps them
	MaxUsedPercent  float64 `yaml:"max_used_percent" json:"max_used_percent"` // Reap oldest graves while the filesystem is fuller; 0 disables
	IntervalMinutes int     `yaml:"interval_minutes" json:"interval_minutes"` // How often rip-web reaps
}

type WebUser struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"` // bcrypt
	Role         string `yaml:"role" json:"role"`       // admin, operator or viewer
}

type WebCfg struct {
	Addr            string    `yaml:"addr" json:"addr"`
	JWTSecretFile   string    `yaml:"jwt_secret_file" json:"jwt_secret_file"`
	TokenTTLMinutes int       `yaml:"token_ttl_minutes" json:"token_ttl_minutes"`
	TLSCert         string    `yaml:"tls_cert" json:"tls_cert"`
	TLSKey          string    `yaml:"tls_key" json:"tls_key"`
	Users           []WebUser `yaml:"users" json:"users"`
}

type Config struct {
	Graveyard          string       `yaml:"graveyard" json:"graveyard"`
	LockTimeoutSeconds int          `yaml:"lock_timeout_seconds" json:"lock_timeout_seconds"`
	RenameAttempts     int          `yaml:"rename_attempts" json:"rename_attempts"`
	HistoryDB          string       `yaml:"history_db" json:"history_db"` // SQLite audit trail; empty disables
	ProtectedPaths     []string     `yaml:"protected_paths" json:"protected_paths"`
	Logging            LoggingCfg   `yaml:"logging" json:"logging"`
	Metrics            MetricsCfg   `yaml:"metrics" json:"metrics"`
	Retention          RetentionCfg `yaml:"retention" json:"retention"`
	Web                WebCfg       `yaml:"web" json:"web"`
}

var (
	errInvalidPath     = errors.New("path must be absolute")
	errNegativeTimeout = errors.New("lock_timeout_seconds cannot be negative")
	errNegativeAttempt = errors.New("rename_attempts cannot be negative")
	errHalfTLS         = errors.New("web: tls_cert and tls_key must be set together")
)

// DefaultWebAddr is where rip-web listens unless configured otherwise.
const DefaultWebAddr = "127.0.0.1:8470"

var webRoles = map[string]bool{"admin": true, "operator": true, "viewer": true}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when no file
// exists at path.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.validateAndDefault()
	return cfg
}

// DefaultPath is where the config is looked for when none is given:
// $XDG_CONFIG_HOME/rip-sage/config.yaml, falling back to ~/.config.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "rip-sage", "config.yaml")
	}
	return filepath.Join(".config", "rip-sage", "config.yaml")
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file, all defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) validateAndDefault() error {
	if c.LockTimeoutSeconds < 0 {
		return errNegativeTimeout
	}
	if c.LockTimeoutSeconds == 0 {
		c.LockTimeoutSeconds = 10
	}

	if c.RenameAttempts < 0 {
		return errNegativeAttempt
	}
	if c.RenameAttempts == 0 {
		c.RenameAttempts = 1024
	}

	if c.Logging.RotationDays <= 0 {
		c.Logging.RotationDays = 30 // Default: keep logs for 30 days
	}

	if c.Graveyard != "" {
		cp, err := cleanAbsolute(c.Graveyard)
		if err != nil {
			return fmt.Errorf("graveyard: %w", err)
		}
		c.Graveyard = cp
	}
	if c.HistoryDB != "" {
		cp, err := cleanAbsolute(c.HistoryDB)
		if err != nil {
			return fmt.Errorf("history_db: %w", err)
		}
		c.HistoryDB = cp
	}

	cleaned := make([]string, 0, len(c.ProtectedPaths))
	for _, p := range c.ProtectedPaths {
		cp, err := cleanAbsolute(p)
		if err != nil {
			return fmt.Errorf("protected_paths: %w", err)
		}
		cleaned = append(cleaned, cp)
	}
	c.ProtectedPaths = cleaned

	if err := c.Retention.validateAndDefault(); err != nil {
		return err
	}
	return c.Web.validateAndDefault()
}

func (r *RetentionCfg) validateAndDefault() error {
	if r.MaxAgeDays < 0 {
		return fmt.Errorf("retention: max_age_days cannot be negative")
	}
	if r.MaxUsedPercent < 0 || r.MaxUsedPercent > 100 {
		return fmt.Errorf("retention: max_used_percent must be between 0 and 100")
	}
	if r.IntervalMinutes < 0 {
		return fmt.Errorf("retention: interval_minutes cannot be negative")
	}
	if r.IntervalMinutes == 0 {
		r.IntervalMinutes = 60
	}
	return nil
}

// Enabled reports whether any retention limit is set.
func (r RetentionCfg) Enabled() bool {
	return r.MaxAgeDays > 0 || r.MaxUsedPercent > 0
}

// MaxAge returns max_age_days as a duration; zero when unset.
func (r RetentionCfg) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

// Interval returns how often rip-web reaps.
func (r RetentionCfg) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

func (w *WebCfg) validateAndDefault() error {
	if w.Addr == "" {
		w.Addr = DefaultWebAddr
	}
	if w.TokenTTLMinutes < 0 {
		return fmt.Errorf("web: token_ttl_minutes cannot be negative")
	}
	if w.TokenTTLMinutes == 0 {
		w.TokenTTLMinutes = 60
	}
	if w.JWTSecretFile != "" {
		cp, err := cleanAbsolute(w.JWTSecretFile)
		if err != nil {
			return fmt.Errorf("web: jwt_secret_file: %w", err)
		}
		w.JWTSecretFile = cp
	}
	if (w.TLSCert == "") != (w.TLSKey == "") {
		return errHalfTLS
	}

	seen := make(map[string]bool, len(w.Users))
	for i, u := range w.Users {
		switch {
		case u.Username == "":
			return fmt.Errorf("web: users[%d]: empty username", i)
		case seen[u.Username]:
			return fmt.Errorf("web: users[%d]: duplicate username %q", i, u.Username)
		case u.PasswordHash == "":
			return fmt.Errorf("web: user %q: empty password_hash", u.Username)
		case !webRoles[u.Role]:
			return fmt.Errorf("web: user %q: unknown role %q", u.Username, u.Role)
		}
		seen[u.Username] = true
	}
	return nil
}

// TokenTTL returns how long rip-web tokens stay valid.
func (w WebCfg) TokenTTL() time.Duration {
	return time.Duration(w.TokenTTLMinutes) * time.Minute
}

func cleanAbsolute(p string) (string, error) {
	if p == "" {
		return "", errInvalidPath
	}
	cp := filepath.Clean(p)
	if !filepath.IsAbs(cp) {
		return "", fmt.Errorf("%w: %s", errInvalidPath, p)
	}
	return cp, nil
}

// LockTimeout returns the configured lock wait as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// ResolveGraveyard picks the graveyard root. In order: flag, the
// RIP_GRAVEYARD environment variable, the config file, $XDG_DATA_HOME/graveyard
// and finally a per-user directory under the system temp dir.
func (c *Config) ResolveGraveyard(flag string, getenv func(string) string) string {
	if flag != "" {
		return flag
	}
	if env := getenv(EnvGraveyard); env != "" {
		return env
	}
	if c.Graveyard != "" {
		return c.Graveyard
	}
	if data := getenv("XDG_DATA_HOME"); data != "" {
		return filepath.Join(data, "graveyard")
	}
	user := getenv("USER")
	if user == "" {
		user = getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	return filepath.Join(os.TempDir(), "graveyard-"+user)
}
