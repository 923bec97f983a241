package types

import "fmt"

// StateError reports an operation invoked outside its valid state.
type StateError struct {
	Op    string // attempted operation
	State string // state the component was in
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %q", e.Op, e.State)
}

// RangeError reports an out-of-bounds trim or seek request.
type RangeError struct {
	Op       string
	Start    float64
	End      float64
	Duration float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: range [%g, %g) outside [0, %g)", e.Op, e.Start, e.End, e.Duration)
}

// EncodingError reports a failed file export. Path identifies the attempted
// destination so the caller can offer a retry.
type EncodingError struct {
	Path   string
	Format ExportFormat
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s to %s: %v", e.Format, e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodeError reports corrupt or unsupported downloaded audio.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError reports a failed or timed-out download.
type FetchError struct {
	URL    string
	Status int // HTTP status, 0 for transport errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CapacityError reports a single cache entry exceeding the whole byte budget.
// Policy: the entry is admitted anyway and pinned only while playing; callers
// log a warning rather than failing playback.
type CapacityError struct {
	URL    string
	Bytes  int64
	Budget int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cache entry %s (%d bytes) exceeds budget (%d bytes)", e.URL, e.Bytes, e.Budget)
}
