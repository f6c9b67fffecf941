//go:build !darwin && !windows

package grave

func samePath(a, b string) bool {
	return a == b
}
