package layout

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrShortBuffer is recorded when a read or write runs past the end of its span.
	ErrShortBuffer = errors.New("short buffer")
	// ErrSpanMismatch is returned when a buffer length differs from the exact layout span.
	ErrSpanMismatch = errors.New("span mismatch")
	// ErrUnknownDiscriminant is returned for an unrecognized union tag.
	ErrUnknownDiscriminant = errors.New("unknown discriminant")
)

// EnumError reports an enum byte with no symbolic name.
type EnumError struct {
	Enum  string
	Value uint8
}

func (e *EnumError) Error() string {
	return fmt.Sprintf("invalid %s value %d", e.Enum, e.Value)
}

// DecodeError carries enough context to tell a layout mismatch from a state problem.
type DecodeError struct {
	Entity  string
	Address solana.PublicKey
	Length  int
	Offset  int
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Address.IsZero() {
		return fmt.Sprintf("decode %s (len=%d, offset=%d): %v", e.Entity, e.Length, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode %s %s (len=%d, offset=%d): %v", e.Entity, e.Address, e.Length, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError is the encode-side counterpart of DecodeError.
type EncodeError struct {
	Entity string
	Offset int
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s (offset=%d): %v", e.Entity, e.Offset, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
