package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAvailable reports the expected absence of a source (no
	// manifest, no cache entry, no URL). It is never logged as an error, the
	// orchestrator silently moves on to the next source.
	ErrNotAvailable = errors.New("not available")

	// ErrNetwork reports a non-success HTTP status or a connection failure.
	ErrNetwork = errors.New("network error")

	// ErrTimeout reports an elapsed deadline, either waiting for the
	// emulator runtime or for data during a fetch.
	ErrTimeout = errors.New("timeout")

	// ErrValidation reports a payload that doesn't look like a ROM.
	ErrValidation = errors.New("invalid payload")

	// ErrStorage reports a cache or save store failure.
	ErrStorage = errors.New("storage error")

	// ErrExhausted is returned when no source could provide a payload.
	ErrExhausted = errors.New("no ROM source available")
)

// A FetchError describes a failed fetch.
type FetchError struct {
	URL    string
	Status int   // HTTP status, 0 when no response was received
	Kind   error // ErrNetwork or ErrTimeout
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// transportFailure reports whether err is a connection level failure, one
// that another transport might not hit.
func transportFailure(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == ErrNetwork && fe.Status == 0
}
