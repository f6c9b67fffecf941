package disk

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrInsufficientSpace is returned by EnsureFree.
var ErrInsufficientSpace = errors.New("insufficient free space")

// EnsureFree fails with ErrInsufficientSpace unless the filesystem holding
// dir has at least need bytes available.
func EnsureFree(dir string, need int64) error {
	_, free, _, err := GetDiskUsage(dir)
	if err != nil {
		return err
	}
	if free < need {
		return fmt.Errorf("%w on %s: need %s, have %s", ErrInsufficientSpace, dir,
			humanize.IBytes(uint64(need)), humanize.IBytes(uint64(free)))
	}
	return nil
}
