package fsops

import "strings"

// FakeDeleter implements Deleter for testing. It records every call and
// returns Err for paths containing FailOn (or for all paths when FailOn is
// empty). With Err nil nothing is removed at all.
type FakeDeleter struct {
	Calls  []string
	Err    error
	FailOn string
}

func (f *FakeDeleter) Remove(path string) error {
	f.Calls = append(f.Calls, "rm:"+path)
	return f.result(path)
}

func (f *FakeDeleter) RemoveAll(path string) error {
	f.Calls = append(f.Calls, "rmall:"+path)
	return f.result(path)
}

func (f *FakeDeleter) result(path string) error {
	if f.Err == nil {
		return nil
	}
	if f.FailOn == "" || strings.Contains(path, f.FailOn) {
		return f.Err
	}
	return nil
}
