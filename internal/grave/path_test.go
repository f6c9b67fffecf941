package grave

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeRelativePath(t *testing.T) {
	dir, err := CanonicalizeDir(t.TempDir())
	require.NoError(t, err)
	t.Chdir(string(dir))

	got, err := Canonicalize("sub/../file.txt")
	require.NoError(t, err)
	require.Equal(t, Path(filepath.Join(string(dir), "file.txt")), got)
}

func TestCanonicalizeKeepsFinalSymlink(t *testing.T) {
	dir, err := CanonicalizeDir(t.TempDir())
	require.NoError(t, err)

	target := filepath.Join(string(dir), "target")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o600))
	link := filepath.Join(string(dir), "link")
	require.NoError(t, os.Symlink(target, link))

	got, err := Canonicalize(link)
	require.NoError(t, err)
	require.Equal(t, Path(link), got)
}

func TestCanonicalizeResolvesParentSymlinks(t *testing.T) {
	dir, err := CanonicalizeDir(t.TempDir())
	require.NoError(t, err)

	real := filepath.Join(string(dir), "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	alias := filepath.Join(string(dir), "alias")
	require.NoError(t, os.Symlink(real, alias))

	got, err := Canonicalize(filepath.Join(alias, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, Path(filepath.Join(real, "file.txt")), got)
}

func TestCanonicalizeRejectsEmpty(t *testing.T) {
	_, err := Canonicalize("  ")
	require.Error(t, err)
}

func TestPathWithin(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		dir      string
		expected bool
	}{
		{"same", "/g", "/g", true},
		{"child", "/g/a", "/g", true},
		{"deep child", "/g/a/b/c", "/g", true},
		{"sibling with prefix", "/graveyard", "/g", false},
		{"parent", "/", "/g", false},
		{"root contains all", "/g/a", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Path(filepath.FromSlash(tt.path))
			d := Path(filepath.FromSlash(tt.dir))
			require.Equal(t, tt.expected, p.Within(d))
		})
	}
}

func TestPathEqualFollowsPlatformCase(t *testing.T) {
	a := Path(filepath.FromSlash("/Tmp/File"))
	b := Path(filepath.FromSlash("/tmp/file"))

	switch runtime.GOOS {
	case "darwin", "windows":
		require.True(t, a.Equal(b))
	default:
		require.False(t, a.Equal(b))
	}
	require.True(t, a.Equal(a))
}
