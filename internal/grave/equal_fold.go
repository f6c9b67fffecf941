//go:build darwin || windows

package grave

import "strings"

// Default volumes on macOS and Windows are case-insensitive.
func samePath(a, b string) bool {
	return strings.EqualFold(a, b)
}
