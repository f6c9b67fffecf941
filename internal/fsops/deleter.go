package fsops

// Deleter abstracts permanent removal so tests can observe or fail it.
// The graveyard uses it for sources after a verified cross-device copy,
// for partial copies, and for explicit unrecorded deletions.
type Deleter interface {
	Remove(path string) error
	RemoveAll(path string) error
}
