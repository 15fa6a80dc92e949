package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every LookupError.
	ErrNotFound = errors.New("not found")
	// ErrNotLoaded is returned when a dependent entity was never fetched.
	ErrNotLoaded = errors.New("dependent entity not loaded")
	// ErrAccountMissing is returned by fetchers for an address with no account.
	ErrAccountMissing = errors.New("account does not exist")
	ErrWrongDataType  = errors.New("unexpected data type")
	ErrBadMagic       = errors.New("bad account padding")
)

// LookupError reports an index lookup that matched no entry.
type LookupError struct {
	Kind string
	Key  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.Key)
}

func (e *LookupError) Is(target error) bool { return target == ErrNotFound }

// StaleError reports a cache entry older than the group's valid interval.
type StaleError struct {
	Kind  string
	Index int
	Age   uint64
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stale %s cache at index %d (age %ds)", e.Kind, e.Index, e.Age)
}
