package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rip-sage/internal/config"
	"rip-sage/internal/database"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/logging"
	"rip-sage/internal/metrics"
)

func init() {
	// Initialize metrics once for all integration tests
	metrics.Init()
}

// openFromConfig wires a graveyard the way the rip command does: YAML
// config, file logger, history database.
func openFromConfig(t *testing.T, cfgPath string) (*graveyard.Graveyard, *database.HistoryDB, *config.Config) {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.NewHistoryDB(cfg.HistoryDB)
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	g, err := graveyard.Open(graveyard.Options{
		Root:           cfg.ResolveGraveyard("", func(string) string { return "" }),
		LockTimeout:    cfg.LockTimeout(),
		RenameAttempts: cfg.RenameAttempts,
		ProtectedPaths: cfg.ProtectedPaths,
		Logger:         logging.New(cfg.Logging),
		History:        db,
	})
	if err != nil {
		t.Fatalf("Failed to open graveyard: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g, db, cfg
}

// TestGraveyardSafetyIntegration verifies the safety contract end to end
// against a real filesystem.
func TestGraveyardSafetyIntegration(t *testing.T) {
	// 1. Create temporary filesystem structure
	tmpRoot, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	workDir := filepath.Join(tmpRoot, "work")
	protectedDir := filepath.Join(tmpRoot, "protected")
	for _, dir := range []string{workDir, protectedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	junkFile := filepath.Join(workDir, "junk.log")
	if err := os.WriteFile(junkFile, []byte("deletable content"), 0644); err != nil {
		t.Fatalf("Failed to create junk file: %v", err)
	}
	protectedFile := filepath.Join(protectedDir, "keep.txt")
	if err := os.WriteFile(protectedFile, []byte("MUST KEEP"), 0644); err != nil {
		t.Fatalf("Failed to create protected file: %v", err)
	}
	linkToProtected := filepath.Join(workDir, "link_to_protected")
	if err := os.Symlink(protectedFile, linkToProtected); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	// 2. Configure through a real YAML file
	cfgPath := filepath.Join(tmpRoot, "config.yaml")
	cfgYAML := fmt.Sprintf(`graveyard: %s
history_db: %s
protected_paths:
  - %s
logging:
  file: %s
`, filepath.Join(tmpRoot, "graveyard"), filepath.Join(tmpRoot, "history.db"), protectedDir, filepath.Join(tmpRoot, "rip.log"))
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	g, db, cfg := openFromConfig(t, cfgPath)
	ctx := context.Background()

	t.Run("ProtectedTree_Blocked", func(t *testing.T) {
		for _, p := range []string{protectedDir, protectedFile} {
			_, err := g.Bury(ctx, p)
			if !errors.Is(err, graveyard.ErrProtectedPath) {
				t.Errorf("SAFETY VIOLATION: %s not blocked (err=%v)", p, err)
			}
		}
		if _, err := os.Stat(protectedFile); err != nil {
			t.Errorf("CRITICAL SAFETY VIOLATION: protected file touched: %v", err)
		}
	})

	t.Run("Symlink_BuriedAsLink", func(t *testing.T) {
		buried, err := g.Bury(ctx, linkToProtected)
		if err != nil {
			t.Fatalf("Bury symlink failed: %v", err)
		}
		info, err := os.Lstat(buried.Grave)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			t.Errorf("grave %s should be a symlink (err=%v)", buried.Grave, err)
		}
		data, err := os.ReadFile(protectedFile)
		if err != nil || string(data) != "MUST KEEP" {
			t.Error("CRITICAL SAFETY VIOLATION: symlink target was moved or altered")
		}
	})

	t.Run("BuryAndRestore", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.BuriesTotal)
		if _, err := g.Bury(ctx, junkFile); err != nil {
			t.Fatalf("Bury failed: %v", err)
		}
		if got := testutil.ToFloat64(metrics.BuriesTotal); got != before+1 {
			t.Errorf("buries counter = %v, want %v", got, before+1)
		}
		if _, err := os.Stat(junkFile); !os.IsNotExist(err) {
			t.Error("junk.log should be in the graveyard")
		}

		if _, err := g.ExhumeAll(ctx, graveyard.Under(g.Root())); !errors.Is(err, graveyard.ErrNotFound) {
			t.Errorf("nothing was buried from inside the graveyard, got %v", err)
		}
		restored, err := g.ExhumeAll(ctx, graveyard.All())
		if err != nil {
			t.Fatalf("ExhumeAll failed: %v", err)
		}
		if len(restored) != 2 {
			t.Errorf("Expected 2 restores, got %d", len(restored))
		}
		data, err := os.ReadFile(junkFile)
		if err != nil || string(data) != "deletable content" {
			t.Errorf("junk.log not restored intact: %q, %v", data, err)
		}
		if target, err := os.Readlink(linkToProtected); err != nil || target != protectedFile {
			t.Errorf("symlink not restored: %q, %v", target, err)
		}
	})

	t.Run("DecomposeLeavesOutsideAlone", func(t *testing.T) {
		if _, err := g.Bury(ctx, junkFile); err != nil {
			t.Fatalf("Bury failed: %v", err)
		}
		if err := g.Decompose(ctx); err != nil {
			t.Fatalf("Decompose failed: %v", err)
		}
		if _, err := os.Stat(protectedFile); err != nil {
			t.Error("CRITICAL SAFETY VIOLATION: decompose reached outside the graveyard")
		}
		if _, err := os.Stat(workDir); err != nil {
			t.Error("work directory should survive decompose")
		}
	})

	// 3. The audit trail saw all of it
	t.Run("HistoryRecorded", func(t *testing.T) {
		counts, err := db.GetEventCountByAction(time.Time{})
		if err != nil {
			t.Fatalf("Failed to count events: %v", err)
		}
		want := map[string]int{
			database.ActionBury:      3,
			database.ActionExhume:    2,
			database.ActionDecompose: 1,
			database.ActionError:     2,
		}
		for action, n := range want {
			if counts[action] != n {
				t.Errorf("%s events = %d, want %d", action, counts[action], n)
			}
		}
		if cfg.Logging.File == "" {
			t.Fatal("logging file not configured")
		}
		if info, err := os.Stat(cfg.Logging.File); err != nil || info.Size() == 0 {
			t.Errorf("log file %s empty or missing: %v", cfg.Logging.File, err)
		}
	})
}
