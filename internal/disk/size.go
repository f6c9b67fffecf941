package disk

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// SizeOf returns the bytes held by path. Directories are summed over their
// regular files; a symlink counts as the length of its own target string and
// is never followed. Unreadable entries below path are skipped, but a
// missing path itself is an error.
func SizeOf(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if d.Type().IsRegular() || d.Type()&fs.ModeSymlink != 0 {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// SizeResult is one path's outcome from SizeOfAll.
type SizeResult struct {
	Bytes int64
	Err   error
}

// SizeOfAll sizes paths concurrently, at most workers at a time (GOMAXPROCS
// when workers <= 0). Every path gets a result; errors are per path.
func SizeOfAll(paths []string, workers int) map[string]SizeResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make(map[string]SizeResult, len(paths))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			n, err := SizeOf(p)

			mu.Lock()
			results[p] = SizeResult{Bytes: n, Err: err}
			mu.Unlock()
		}(path)
	}

	wg.Wait()
	return results
}
