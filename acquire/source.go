package acquire

import (
	"context"
	"fmt"
)

// Kind identifies an acquisition source.
type Kind int

//go:generate go tool stringer -type=Kind -linecomment

const (
	Cached    Kind = iota // cache
	Segmented             // segments
	SingleURL             // url
	UserFile              // file
)

// A Source is one step of the acquisition plan. Sources are tried in order,
// the first that succeeds wins.
type Source struct {
	Kind Kind

	// URL locates the payload: the cache key for Cached, the manifest for
	// Segmented, the payload itself for SingleURL. Unused for UserFile.
	URL string
}

func (s Source) String() string {
	if s.URL == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.URL)
}

// A Cache stores acquired payloads, keyed by source URL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

// A FileSelector asks the user for a ROM file.
type FileSelector interface {
	// SelectFile blocks until the user provides a file and returns its name
	// and content. rejected is non-nil when the previously selected file has
	// been refused, and explains why. If the user gives up, SelectFile
	// returns an error wrapping ErrNotAvailable.
	SelectFile(ctx context.Context, rejected error) (name string, data []byte, err error)
}

// FileSelectorFunc adapts a function to the FileSelector interface.
type FileSelectorFunc func(ctx context.Context, rejected error) (string, []byte, error)

func (f FileSelectorFunc) SelectFile(ctx context.Context, rejected error) (string, []byte, error) {
	return f(ctx, rejected)
}
