package decoder

import (
	"errors"
	"fmt"
)

// Sentinel errors for decode failure modes. All of these are per-access-unit
// conditions except ErrStreamUnusable, which signals a structural bitstream
// violation the decoder cannot recover from on its own.
var (
	// ErrMissingReference: a slice referenced a reference-set index that
	// holds no picture. The access unit is dropped; decode continues.
	ErrMissingReference = errors.New("decoder: referenced picture absent from reference set")

	// ErrParameterSetMissing: a predicted slice arrived before any key
	// frame established a decodable sequence.
	ErrParameterSetMissing = errors.New("decoder: predicted slice before key frame")

	// ErrCorruptSlice: the slice header or payload is malformed.
	ErrCorruptSlice = errors.New("decoder: corrupt slice")

	// ErrInterViewTimeout: the required base-view picture did not
	// materialize within the bounded wait.
	ErrInterViewTimeout = errors.New("decoder: inter-view reference wait timed out")

	// ErrStoreReset: the picture store was reset (seek) while a wait or
	// borrow was outstanding.
	ErrStoreReset = errors.New("decoder: picture store reset")

	// ErrStreamUnusable: the parameter set failed to parse on every
	// retry; the caller must reset the whole pipeline to continue.
	ErrStreamUnusable = errors.New("decoder: stream unusable, parameter set never parsed")
)

// SliceError wraps a per-slice failure with the timestamp it affected.
type SliceError struct {
	PTS int64
	Err error
}

func (e *SliceError) Error() string {
	return fmt.Sprintf("decoder: slice at pts %d: %v", e.PTS, e.Err)
}

func (e *SliceError) Unwrap() error { return e.Err }
