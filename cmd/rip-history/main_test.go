package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rip-sage/internal/database"
	"rip-sage/internal/exitcodes"
)

func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := database.NewHistoryDB(path)
	require.NoError(t, err)
	defer db.Close()

	events := []database.Event{
		{Action: database.ActionBury, Original: "/home/me/report.pdf", Grave: "/g/home/me/report.pdf", ObjectType: "file", Size: 4096},
		{Action: database.ActionBury, Original: "/home/me/build", Grave: "/g/home/me/build", ObjectType: "directory", Size: 10 << 20},
		{Action: database.ActionExhume, Original: "/home/me/report.pdf", Grave: "/g/home/me/report.pdf", ObjectType: "file", Size: 4096},
		{Action: database.ActionError, Original: "/etc", ErrorMessage: "bury: protected path"},
	}
	for _, e := range events {
		_, err := db.RecordEvent(e)
		require.NoError(t, err)
	}
	return path
}

func runHistory(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRecent(t *testing.T) {
	db := seededDB(t)
	code, out, stderr := runHistory(t, "--db", db, "--recent", "10")
	require.Equal(t, exitcodes.Success, code, stderr)
	require.Contains(t, out, "/home/me/build")
	require.Contains(t, out, "10 MiB")
	require.Contains(t, out, "protected path")
}

func TestFilters(t *testing.T) {
	db := seededDB(t)

	code, out, _ := runHistory(t, "--db", db, "--action", database.ActionExhume)
	require.Equal(t, exitcodes.Success, code)
	require.Contains(t, out, "report.pdf")
	require.NotContains(t, out, "/home/me/build")

	code, out, _ = runHistory(t, "--db", db, "--path", "/home/me/b%")
	require.Equal(t, exitcodes.Success, code)
	require.Contains(t, out, "/home/me/build")
	require.NotContains(t, out, "report.pdf")

	code, out, _ = runHistory(t, "--db", db, "--largest", "1")
	require.Equal(t, exitcodes.Success, code)
	require.Contains(t, out, "/home/me/build")

	code, out, _ = runHistory(t, "--db", db, "--action", "NOPE")
	require.Equal(t, exitcodes.Success, code)
	require.Contains(t, out, "No events found")
}

func TestStatsJSON(t *testing.T) {
	db := seededDB(t)
	code, out, stderr := runHistory(t, "--db", db, "--stats", "--json")
	require.Equal(t, exitcodes.Success, code, stderr)

	var stats database.HistoryStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.TotalBuried)
	require.Equal(t, 1, stats.TotalExhumed)
	require.Equal(t, 1, stats.TotalErrors)
}

func TestTopPaths(t *testing.T) {
	db := seededDB(t)
	code, out, _ := runHistory(t, "--db", db, "--top", "5")
	require.Equal(t, exitcodes.Success, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
}

func TestUsageErrors(t *testing.T) {
	db := seededDB(t)

	code, _, stderr := runHistory(t, "--db", db)
	require.Equal(t, exitcodes.InvalidConfig, code)
	require.Contains(t, stderr, "Usage")

	code, _, _ = runHistory(t, "--bogus")
	require.Equal(t, exitcodes.InvalidConfig, code)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	code, _, stderr = runHistory(t, "--recent", "1")
	require.Equal(t, exitcodes.InvalidConfig, code)
	require.Contains(t, stderr, "history_db")
}

func TestDatabaseFromConfig(t *testing.T) {
	db := seededDB(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("history_db: "+db+"\n"), 0o600))

	code, out, stderr := runHistory(t, "--config", cfg, "--recent", "1")
	require.Equal(t, exitcodes.Success, code, stderr)
	require.Contains(t, out, "Timestamp")
}
