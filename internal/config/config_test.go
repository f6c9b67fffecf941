package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeAndDefaults(t *testing.T) {
	cfg, err := decode(strings.NewReader(`
graveyard: /srv/graveyard
history_db: /var/lib/rip-sage/history.db
protected_paths: [/data/keep/]
logging:
  file: /var/log/rip-sage.log
  verbose: true
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := cfg.validateAndDefault(); err != nil {
		t.Fatalf("validateAndDefault: %v", err)
	}

	if cfg.Graveyard != "/srv/graveyard" {
		t.Errorf("Graveyard = %q", cfg.Graveyard)
	}
	if cfg.LockTimeout() != 10*time.Second {
		t.Errorf("LockTimeout = %v, want 10s", cfg.LockTimeout())
	}
	if cfg.RenameAttempts != 1024 {
		t.Errorf("RenameAttempts = %d, want 1024", cfg.RenameAttempts)
	}
	if cfg.Logging.RotationDays != 30 {
		t.Errorf("RotationDays = %d, want 30", cfg.Logging.RotationDays)
	}
	if !cfg.Logging.Verbose {
		t.Error("Verbose should be true")
	}
	if len(cfg.ProtectedPaths) != 1 || cfg.ProtectedPaths[0] != "/data/keep" {
		t.Errorf("ProtectedPaths = %v", cfg.ProtectedPaths)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"relative graveyard", "graveyard: graves\n"},
		{"negative timeout", "lock_timeout_seconds: -1\n"},
		{"negative attempts", "rename_attempts: -5\n"},
		{"relative protected", "protected_paths: [data]\n"},
		{"relative history", "history_db: history.db\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := decode(strings.NewReader(tt.yaml))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if err := cfg.validateAndDefault(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	if _, err := decode(strings.NewReader("graveyrd: /x\n")); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOptional(missing): %v", err)
	}
	if cfg.RenameAttempts != 1024 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("rename_attempts: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(path)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.RenameAttempts != 7 {
		t.Errorf("RenameAttempts = %d, want 7", cfg.RenameAttempts)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err != nil {
		t.Errorf("Load(empty): %v", err)
	}
}

func TestResolveGraveyard(t *testing.T) {
	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}
	withFile := &Config{Graveyard: "/from/config"}

	tests := []struct {
		name string
		cfg  *Config
		flag string
		env  map[string]string
		want string
	}{
		{"flag wins", withFile, "/from/flag", map[string]string{EnvGraveyard: "/from/env"}, "/from/flag"},
		{"env beats config", withFile, "", map[string]string{EnvGraveyard: "/from/env"}, "/from/env"},
		{"config", withFile, "", nil, "/from/config"},
		{"xdg data home", &Config{}, "", map[string]string{"XDG_DATA_HOME": "/home/u/.local/share"}, "/home/u/.local/share/graveyard"},
		{"temp per user", &Config{}, "", map[string]string{"USER": "u"}, filepath.Join(os.TempDir(), "graveyard-u")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolveGraveyard(tt.flag, env(tt.env)); got != tt.want {
				t.Errorf("ResolveGraveyard = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSection(t *testing.T) {
	cfg, err := decode(strings.NewReader(`
web:
  jwt_secret_file: /run/secrets/rip-web
  users:
    - {username: alice, password_hash: "$2a$10$abc", role: operator}
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := cfg.validateAndDefault(); err != nil {
		t.Fatalf("validateAndDefault: %v", err)
	}
	if cfg.Web.Addr != DefaultWebAddr {
		t.Errorf("Addr = %q, want %q", cfg.Web.Addr, DefaultWebAddr)
	}
	if cfg.Web.TokenTTL() != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.Web.TokenTTL())
	}

	bad := []struct {
		name string
		web  WebCfg
	}{
		{"half tls", WebCfg{TLSCert: "/etc/cert.pem"}},
		{"unknown role", WebCfg{Users: []WebUser{{Username: "a", PasswordHash: "h", Role: "root"}}}},
		{"no hash", WebCfg{Users: []WebUser{{Username: "a", Role: "viewer"}}}},
		{"duplicate", WebCfg{Users: []WebUser{
			{Username: "a", PasswordHash: "h", Role: "viewer"},
			{Username: "a", PasswordHash: "h", Role: "admin"},
		}}},
		{"relative secret", WebCfg{JWTSecretFile: "secret"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Web: tt.web}
			if err := c.validateAndDefault(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRetentionSection(t *testing.T) {
	cfg, err := decode(strings.NewReader(`
retention:
  max_age_days: 30
  max_used_percent: 92.5
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := cfg.validateAndDefault(); err != nil {
		t.Fatalf("validateAndDefault: %v", err)
	}
	if !cfg.Retention.Enabled() {
		t.Error("retention should be enabled")
	}
	if got := cfg.Retention.MaxAge(); got != 30*24*time.Hour {
		t.Errorf("MaxAge = %v", got)
	}
	if got := cfg.Retention.Interval(); got != time.Hour {
		t.Errorf("Interval = %v, want default 1h", got)
	}

	if Default().Retention.Enabled() {
		t.Error("graves must be kept forever by default")
	}

	for name, r := range map[string]RetentionCfg{
		"negative age":      {MaxAgeDays: -1},
		"percent above 100": {MaxUsedPercent: 101},
		"negative percent":  {MaxUsedPercent: -5},
		"negative interval": {IntervalMinutes: -1},
	} {
		t.Run(name, func(t *testing.T) {
			c := &Config{Retention: r}
			if err := c.validateAndDefault(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
