package graveyard

import (
	"rip-sage/internal/grave"
	"rip-sage/internal/record"
)

// Predicate selects record entries. Paths handed to the constructors below
// must be canonical (see grave.Canonicalize).
type Predicate func(e record.Entry) bool

// All matches every entry.
func All() Predicate {
	return func(record.Entry) bool { return true }
}

// Original matches entries buried from exactly p.
func Original(p grave.Path) Predicate {
	return func(e record.Entry) bool { return grave.Path(e.Original).Equal(p) }
}

// AtGrave matches the entry stored at exactly p inside the graveyard.
func AtGrave(p grave.Path) Predicate {
	return func(e record.Entry) bool { return grave.Path(e.Grave).Equal(p) }
}

// Target matches p given either as the original location or as the grave.
func Target(p grave.Path) Predicate {
	return Any(Original(p), AtGrave(p))
}

// Under matches entries buried from dir or anywhere below it.
func Under(dir grave.Path) Predicate {
	return func(e record.Entry) bool { return grave.Path(e.Original).Within(dir) }
}

// Any matches when at least one of preds does.
func Any(preds ...Predicate) Predicate {
	return func(e record.Entry) bool {
		for _, p := range preds {
			if p(e) {
				return true
			}
		}
		return false
	}
}

func filter(entries []record.Entry, pred Predicate) []indexed {
	if pred == nil {
		pred = All()
	}
	var out []indexed
	for i, e := range entries {
		if pred(e) {
			out = append(out, indexed{Entry: e, row: i})
		}
	}
	return out
}

type indexed struct {
	record.Entry
	row int
}

// newestFirst orders by deletion time, latest first. Equal times keep the
// later row first, since it was appended after the other.
func newestFirst(a, b indexed) int {
	if c := b.Time.Compare(a.Time); c != 0 {
		return c
	}
	return b.row - a.row
}
