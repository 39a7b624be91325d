package store

import (
	"errors"
	"fmt"
)

// MaxSaveSize is the largest battery save accepted on import. DS cartridges
// carry at most 8 Mbit of backup memory, anything larger isn't a save.
const MaxSaveSize = 3 * 1024 * 1024

// ErrSaveTooLarge is returned when importing a file larger than MaxSaveSize.
var ErrSaveTooLarge = errors.New("file too large for a DS battery save")

// Saves holds battery saves, one per game, keyed by save key. It lives in
// its own bucket, clearing the ROM cache never touches saves.
type Saves struct {
	bucket *Bucket
}

func NewSaves(s *Store) *Saves {
	return &Saves{bucket: s.Bucket("saves")}
}

// SaveStatus describes the save of a game.
type SaveStatus struct {
	Key     string
	Present bool
	Size    int
}

func (st SaveStatus) String() string {
	if !st.Present {
		return "none yet"
	}
	return fmt.Sprintf("present (%d KB)", st.Size/1024)
}

// Status reports whether a save exists under key.
func (s *Saves) Status(key string) (SaveStatus, error) {
	st := SaveStatus{Key: key}
	data, err := s.bucket.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return st, nil
	case err != nil:
		return st, err
	}
	st.Present = len(data) > 0
	st.Size = len(data)
	return st, nil
}

// Get returns the save stored under key, nil if there's none.
func (s *Saves) Get(key string) ([]byte, error) {
	data, err := s.bucket.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// Put stores the save written by the emulator.
func (s *Saves) Put(key string, data []byte) error {
	return s.bucket.Put(key, data)
}

// Export returns the save stored under key along with the file name to
// offer for download.
func (s *Saves) Export(key string) ([]byte, string, error) {
	data, err := s.bucket.Get(key)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", ErrNotFound
	}
	return data, ExportName(key), nil
}

// ExportName is the file name of an exported save.
func ExportName(key string) string {
	return key + ".dsv"
}

// Import replaces the save stored under key with data.
func (s *Saves) Import(key string, data []byte) error {
	if len(data) > MaxSaveSize {
		return ErrSaveTooLarge
	}
	return s.bucket.Put(key, data)
}

// Clear deletes the save stored under key.
func (s *Saves) Clear(key string) error {
	return s.bucket.Delete(key)
}
