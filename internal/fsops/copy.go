package fsops

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

const preservedModeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// copyTree copies src to dst, which must not exist yet. Permissions and
// modification times are carried over, symlinks are recreated as links and
// named pipes as pipes. Every regular file is verified against a BLAKE3
// digest of what was read from the source.
func copyTree(src, dst string, info fs.FileInfo) error {
	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		return copySymlink(src, dst, info)
	case mode.IsDir():
		return copyDir(src, dst, info)
	case mode.IsRegular():
		return copyFile(src, dst, info)
	case mode&fs.ModeNamedPipe != 0:
		if err := mkfifo(dst, mode); err != nil {
			return err
		}
		return os.Chtimes(dst, accessTime(info), info.ModTime())
	default:
		return fmt.Errorf("%w: unsupported file type %s for %s", ErrCrossDeviceCopy, mode.Type(), src)
	}
}

func copySymlink(src, dst string, info fs.FileInfo) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Symlink(target, dst); err != nil {
		return err
	}
	return setLinkTimes(dst, accessTime(info), info.ModTime())
}

func copyDir(src, dst string, info fs.FileInfo) error {
	// owner-only until the children are in, then the real mode
	if err := os.Mkdir(dst, 0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		childInfo, err := entry.Info()
		if err != nil {
			return err
		}
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()), childInfo); err != nil {
			return err
		}
	}
	if err := os.Chmod(dst, info.Mode()&preservedModeBits); err != nil {
		return err
	}
	return os.Chtimes(dst, accessTime(info), info.ModTime())
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	want := hasher.Sum(nil)
	got, err := digest(dst)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w: content of %s does not match %s after copy", ErrCrossDeviceCopy, dst, src)
	}

	if err := os.Chmod(dst, info.Mode()&preservedModeBits); err != nil {
		return err
	}
	return os.Chtimes(dst, accessTime(info), info.ModTime())
}

func digest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// accessTime is not portable through fs.FileInfo; the copy gets "now",
// which is what reading the source just did to it anyway.
func accessTime(fs.FileInfo) time.Time {
	return time.Now()
}
