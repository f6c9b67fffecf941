package main

import (
	"bufio"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"rip-sage/internal/disk"
)

const previewLines = 6

// describe prints the size of path and a preview: the first few entries
// of a directory or the first few lines of a text file.
func (a *app) describe(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	size, err := disk.SizeOf(path)
	if err != nil {
		a.log.Warn("could not size target", "path", path, "error", err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			fmt.Fprintf(a.stdout, "%s: directory, %s\n", path, humanize.IBytes(uint64(size)))
			return
		}
		fmt.Fprintf(a.stdout, "%s: directory, %s, %d %s\n",
			path, humanize.IBytes(uint64(size)), len(entries), plural(len(entries), "entry", "entries"))
		for i, e := range entries {
			if i == previewLines {
				fmt.Fprintln(a.stdout, "  ...")
				break
			}
			fmt.Fprintf(a.stdout, "  %s\n", e.Name())
		}
		return
	}

	fmt.Fprintf(a.stdout, "%s: %s\n", path, humanize.IBytes(uint64(size)))
	if !info.Mode().IsRegular() {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for n := 0; n < previewLines && sc.Scan(); n++ {
		if !utf8.Valid(sc.Bytes()) {
			fmt.Fprintln(a.stdout, "  (binary)")
			return
		}
		fmt.Fprintf(a.stdout, "  %s\n", sc.Text())
	}
}
