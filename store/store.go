// Package store implements the durable key/value storage used for ROM
// payloads and battery saves.
//
// Each logical store (a bucket) is a directory, each entry a file named after
// the hash of its key. Entries start with a small header recording the key,
// which lets buckets be listed and protects against hash collisions.
package store

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kirsle/configdir"
	"github.com/spf13/afero"

	"dsplay/log"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.New("no such entry")

// ErrCorrupt is returned for entries that can't be decoded.
var ErrCorrupt = errors.New("corrupt entry")

const (
	entryMagic = "DSPB"
	entryExt   = ".bin"
	dirMode    = os.FileMode(0755)
)

// A Store roots a set of buckets in a directory.
type Store struct {
	fs         afero.Fs
	dir        string
	persistent bool

	// serializes all operations, a read never sees a partial write.
	mu sync.Mutex
}

// New returns a Store rooted at dir in fs.
func New(fs afero.Fs, dir string, persistent bool) *Store {
	return &Store{fs: fs, dir: dir, persistent: persistent}
}

// Open returns a store rooted at dir on the OS filesystem. An empty dir
// requests the persistent location (the user configuration directory, never
// evicted). If it can't be obtained, Open downgrades to the user cache
// directory, which the system may purge, then to a temporary directory.
func Open(dir string) (*Store, error) {
	osfs := afero.NewOsFs()
	if dir != "" {
		if err := osfs.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return New(osfs, dir, true), nil
	}

	candidates := []struct {
		dir        string
		persistent bool
	}{
		{configdir.LocalConfig("dsplay", "store"), true},
		{configdir.LocalCache("dsplay"), false},
		{filepath.Join(os.TempDir(), "dsplay"), false},
	}
	for _, c := range candidates {
		if err := osfs.MkdirAll(c.dir, dirMode); err != nil {
			log.ModCache.DebugZ("storage location unavailable").String("dir", c.dir).Error("err", err).End()
			continue
		}
		if !c.persistent {
			log.ModCache.InfoZ("persistent storage unavailable, using best-effort storage").String("dir", c.dir).End()
		}
		return New(osfs, c.dir, c.persistent), nil
	}
	return nil, fmt.Errorf("no usable storage location")
}

// Persistent reports whether the store lives in a location the system
// doesn't evict.
func (s *Store) Persistent() bool { return s.persistent }

// Dir returns the store root directory.
func (s *Store) Dir() string { return s.dir }

// Bucket returns the logical store named name.
func (s *Store) Bucket(name string) *Bucket {
	return &Bucket{store: s, dir: filepath.Join(s.dir, name)}
}

// A Bucket is a namespace of entries.
type Bucket struct {
	store *Store
	dir   string
}

func (b *Bucket) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:])+entryExt)
}

// Get returns the data stored under key.
func (b *Bucket) Get(key string) ([]byte, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	buf, err := afero.ReadFile(b.store.fs, b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	k, data, err := decodeEntry(buf)
	if err != nil {
		return nil, err
	}
	if k != key {
		// sha1 collision, or a file dropped there by hand.
		return nil, ErrNotFound
	}
	return data, nil
}

// Put stores data under key, replacing any previous entry. The entry is
// written to a temporary file first so that a failed write never leaves a
// truncated entry behind.
func (b *Bucket) Put(key string, data []byte) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	fs := b.store.fs
	if err := fs.MkdirAll(b.dir, dirMode); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, b.dir, "put-*")
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(tmp)
	err = encodeEntry(bw, key, data)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fs.Remove(tmp.Name())
		return err
	}

	if err := fs.Rename(tmp.Name(), b.path(key)); err != nil {
		fs.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes the entry stored under key. Deleting a missing key is not
// an error.
func (b *Bucket) Delete(key string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	err := b.store.fs.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// An Info describes a bucket entry.
type Info struct {
	Key  string
	Size int64
}

// List returns the entries of the bucket, sorted by key.
func (b *Bucket) List() ([]Info, error) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	fis, err := afero.ReadDir(b.store.fs, b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, fi := range fis {
		if fi.IsDir() || filepath.Ext(fi.Name()) != entryExt {
			continue
		}
		f, err := b.store.fs.Open(filepath.Join(b.dir, fi.Name()))
		if err != nil {
			return nil, err
		}
		key, hdrsz, err := readEntryKey(bufio.NewReader(f))
		f.Close()
		if err != nil {
			log.ModCache.WarnZ("skipping unreadable entry").String("file", fi.Name()).Error("err", err).End()
			continue
		}
		infos = append(infos, Info{Key: key, Size: fi.Size() - int64(hdrsz)})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Clear removes all entries of the bucket.
func (b *Bucket) Clear() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	return b.store.fs.RemoveAll(b.dir)
}

func encodeEntry(w io.Writer, key string, data []byte) error {
	var hdr [len(entryMagic) + binary.MaxVarintLen64]byte
	n := copy(hdr[:], entryMagic)
	n += binary.PutUvarint(hdr[n:], uint64(len(key)))
	if _, err := w.Write(hdr[:n]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func decodeEntry(buf []byte) (string, []byte, error) {
	key, hdrsz, err := readEntryKey(bytes.NewReader(buf))
	if err != nil {
		return "", nil, err
	}
	return key, buf[hdrsz:], nil
}

// readEntryKey reads the entry header, returning the key and the header size.
func readEntryKey(r io.ByteReader) (string, int, error) {
	for i := range len(entryMagic) {
		c, err := r.ReadByte()
		if err != nil || c != entryMagic[i] {
			return "", 0, ErrCorrupt
		}
	}

	cr := &countingByteReader{r: r}
	klen, err := binary.ReadUvarint(cr)
	if err != nil || klen > 1<<16 {
		return "", 0, ErrCorrupt
	}

	key := make([]byte, klen)
	for i := range key {
		if key[i], err = r.ReadByte(); err != nil {
			return "", 0, ErrCorrupt
		}
	}
	return string(key), len(entryMagic) + cr.n + int(klen), nil
}

type countingByteReader struct {
	r io.ByteReader
	n int
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}
