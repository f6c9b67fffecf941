package graveyard

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	helperEnv      = "RIP_SAGE_HELPER"
	helperRootEnv  = "RIP_SAGE_HELPER_ROOT"
	helperSrcEnv   = "RIP_SAGE_HELPER_SRC"
	helperCountEnv = "RIP_SAGE_HELPER_COUNT"
)

// TestHelperProcess is not a real test. It is re-executed by
// TestManyProcessesShareOneRecord to bury files from a separate process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if err := buryFromHelper(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func buryFromHelper() error {
	n, err := strconv.Atoi(os.Getenv(helperCountEnv))
	if err != nil {
		return err
	}
	g, err := Open(Options{Root: os.Getenv(helperRootEnv), LockTimeout: 30 * time.Second})
	if err != nil {
		return err
	}
	defer g.Close()

	src := os.Getenv(helperSrcEnv)
	for i := 0; i < n; i++ {
		p := filepath.Join(src, fmt.Sprintf("f%d", i))
		if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
			return err
		}
		if _, err := g.Bury(context.Background(), p); err != nil {
			return err
		}
	}
	return nil
}

func TestManyProcessesShareOneRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	const procs, perProc = 4, 15

	f := newFixture(t)
	cmds := make([]*exec.Cmd, procs)
	for i := range cmds {
		src := filepath.Join(f.src, fmt.Sprintf("p%d", i))
		require.NoError(t, os.MkdirAll(src, 0o755))

		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(),
			helperEnv+"=1",
			helperRootEnv+"="+f.root,
			helperSrcEnv+"="+src,
			helperCountEnv+"="+strconv.Itoa(perProc),
		)
		cmd.Stderr = os.Stderr
		require.NoError(t, cmd.Start())
		cmds[i] = cmd
	}
	for _, cmd := range cmds {
		require.NoError(t, cmd.Wait())
	}

	snap, err := f.g.store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Corrupt)
	require.Len(t, snap.Entries, procs*perProc)

	seen := make(map[string]bool)
	for _, e := range snap.Entries {
		require.False(t, seen[e.Grave], "grave %s recorded twice", e.Grave)
		seen[e.Grave] = true
		data, err := os.ReadFile(e.Grave)
		require.NoError(t, err)
		require.Equal(t, filepath.Dir(e.Original), string(data))
	}
}
