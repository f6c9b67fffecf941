package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"rip-sage/internal/config"
	"rip-sage/internal/exitcodes"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func noEnv(string) string { return "" }

func envWith(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

// writeConfig writes a config with one admin user "ada" (password
// "pw-ada") and returns its path. extra is appended under web:.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw-ada"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := fmt.Sprintf(`graveyard: %s
history_db: %s
web:
  addr: 127.0.0.1:0
  users:
    - username: ada
      password_hash: %q
      role: admin
%s`, filepath.Join(dir, "graveyard"), filepath.Join(dir, "history.db"), string(hash), extra)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runQuiet(t *testing.T, args []string, getenv func(string) string) (int, string) {
	t.Helper()
	var stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &bytes.Buffer{}, &stderr, getenv, nil)
	return code, stderr.String()
}

func TestHashPassword(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--hash-password"}, strings.NewReader("s3cret\n"), &stdout, &stderr, noEnv, nil)
	require.Equal(t, exitcodes.Success, code, stderr.String())
	hash := strings.TrimSpace(stdout.String())
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	code = run(context.Background(), []string{"--hash-password"}, strings.NewReader("\n"), &stdout, &stderr, noEnv, nil)
	require.Equal(t, exitcodes.InvalidConfig, code)
}

func TestRefusesToStartMisconfigured(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Run("no secret", func(t *testing.T) {
		code, stderr := runQuiet(t, []string{"--config", writeConfig(t, "")}, noEnv)
		require.Equal(t, exitcodes.InvalidConfig, code)
		require.Contains(t, stderr, EnvJWTSecret)
	})

	t.Run("weak secret", func(t *testing.T) {
		code, _ := runQuiet(t, []string{"--config", writeConfig(t, "")}, envWith(map[string]string{EnvJWTSecret: "short"}))
		require.Equal(t, exitcodes.InvalidConfig, code)
	})

	t.Run("no users", func(t *testing.T) {
		code, stderr := runQuiet(t, nil, envWith(map[string]string{EnvJWTSecret: testSecret}))
		require.Equal(t, exitcodes.InvalidConfig, code)
		require.Contains(t, stderr, "no users")
	})

	t.Run("missing config", func(t *testing.T) {
		code, _ := runQuiet(t, []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, noEnv)
		require.Equal(t, exitcodes.InvalidConfig, code)
	})

	t.Run("bad flag", func(t *testing.T) {
		code, _ := runQuiet(t, []string{"--bogus"}, noEnv)
		require.Equal(t, exitcodes.InvalidConfig, code)
	})
}

func TestLoadSecret(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(file, []byte(testSecret+"\n"), 0o600))

	secret, err := loadSecret(config.WebCfg{JWTSecretFile: file}, envWith(map[string]string{EnvJWTSecret: "ignored"}))
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)

	secret, err = loadSecret(config.WebCfg{}, envWith(map[string]string{EnvJWTSecret: " " + testSecret + " "}))
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)

	_, err = loadSecret(config.WebCfg{}, noEnv)
	require.ErrorIs(t, err, errNoSecret)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = loadSecret(config.WebCfg{JWTSecretFile: empty}, noEnv)
	require.Error(t, err)
}

func TestServesUntilCancelled(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretFile, []byte(testSecret), 0o600))
	cfgPath := writeConfig(t, "  jwt_secret_file: "+secretFile+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan string, 1)
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"--config", cfgPath}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}, noEnv, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case code := <-done:
		t.Fatalf("rip-web exited early with %d", code)
	case <-time.After(10 * time.Second):
		t.Fatal("rip-web did not start")
	}

	resp, err := http.Post("http://"+addr+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"ada","password":"pw-ada"}`))
	require.NoError(t, err)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/v1/graves", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case code := <-done:
		require.Equal(t, exitcodes.Success, code)
	case <-time.After(15 * time.Second):
		t.Fatal("rip-web did not shut down")
	}
}
