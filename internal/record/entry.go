// Package record persists the log of buried items. The log is a tab
// separated text file with a versioned header, guarded by an advisory lock
// so that independent processes can share one graveyard.
package record

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	formatName    = "rip-sage-record"
	formatVersion = "v3"
	timeLayout    = time.RFC3339Nano
)

var (
	ErrCorruptRecord  = errors.New("corrupt record row")
	ErrMissingHeader  = errors.New("record has no header")
	ErrFormatMismatch = errors.New("record format mismatch")
)

var (
	header       = []string{formatName, formatVersion, "original", "grave", "time", "is_dir"}
	legacyHeader = []string{"Time", "Original", "Destination"}
)

// encoding/csv reads a quoted "\r\n" back as "\n", so carriage returns are
// percent-escaped in path fields before they reach it.
var (
	pathEscaper   = strings.NewReplacer("%", "%25", "\r", "%0D")
	pathUnescaper = strings.NewReplacer("%25", "%", "%0D", "\r")
)

// Entry is one bury event.
type Entry struct {
	Original string    // absolute path the item was buried from
	Grave    string    // absolute path inside the graveyard, never reused
	Time     time.Time // when it was buried
	IsDir    bool
}

// CorruptRowError describes a row that could not be parsed. The row is
// skipped and the rest of the record is still usable.
type CorruptRowError struct {
	Line int
	Err  error
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("record line %d: %v", e.Line, e.Err)
}

func (e *CorruptRowError) Unwrap() []error {
	return []error{ErrCorruptRecord, e.Err}
}

func newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	return cr
}

func encodeHeader() []byte {
	var buf bytes.Buffer
	w := newWriter(&buf)
	_ = w.Write(header)
	w.Flush()
	return buf.Bytes()
}

// encodeRow renders e as a single line (or several, when a path contains a
// newline, in which case the field is quoted).
func encodeRow(e Entry) ([]byte, error) {
	if e.Original == "" || e.Grave == "" {
		return nil, fmt.Errorf("encode entry: empty path")
	}
	var buf bytes.Buffer
	w := newWriter(&buf)
	if err := w.Write([]string{
		pathEscaper.Replace(e.Original),
		pathEscaper.Replace(e.Grave),
		e.Time.Format(timeLayout),
		strconv.FormatBool(e.IsDir),
	}); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkHeader validates the first row of a record.
func checkHeader(row []string) error {
	switch {
	case slices.Equal(row, header):
		return nil
	case slices.Equal(row, legacyHeader):
		return fmt.Errorf("%w: found a legacy rip header (%s), move the old record aside and start over",
			ErrFormatMismatch, strings.Join(row, " "))
	case len(row) >= 2 && row[0] == formatName:
		return fmt.Errorf("%w: version %s, expected %s", ErrFormatMismatch, row[1], formatVersion)
	default:
		return fmt.Errorf("%w: first row is %q", ErrMissingHeader, strings.Join(row, "\t"))
	}
}

func parseRow(row []string) (Entry, error) {
	if len(row) != 4 {
		return Entry{}, fmt.Errorf("expected 4 fields, got %d", len(row))
	}
	if !filepath.IsAbs(row[0]) || !filepath.IsAbs(row[1]) {
		return Entry{}, fmt.Errorf("paths must be absolute")
	}
	ts, err := time.Parse(timeLayout, row[2])
	if err != nil {
		return Entry{}, fmt.Errorf("parse time %q: %w", row[2], err)
	}
	isDir, err := strconv.ParseBool(row[3])
	if err != nil {
		return Entry{}, fmt.Errorf("parse is_dir %q: %w", row[3], err)
	}
	return Entry{Original: pathUnescaper.Replace(row[0]), Grave: pathUnescaper.Replace(row[1]), Time: ts, IsDir: isDir}, nil
}

// decode parses a whole record. Malformed rows are reported in corrupt and
// skipped; a bad header fails the whole read. An empty input is an empty
// record.
func decode(r io.Reader) (entries []Entry, corrupt []error, err error) {
	cr := newReader(r)

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMissingHeader, err)
	}
	if err := checkHeader(first); err != nil {
		return nil, nil, err
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			corrupt = append(corrupt, &CorruptRowError{Line: perr.StartLine, Err: perr.Err})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		line, _ := cr.FieldPos(0)
		e, err := parseRow(row)
		if err != nil {
			corrupt = append(corrupt, &CorruptRowError{Line: line, Err: err})
			continue
		}
		entries = append(entries, e)
	}
	return entries, corrupt, nil
}
