// Package romfile reads user provided ROM files, which may be compressed
// archives (zip, 7z, rar, gzip).
package romfile

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/spf13/afero"

	"dsplay/log"
)

// MaxSize bounds the size of an extracted ROM.
const MaxSize = 512 * 1024 * 1024

var (
	ErrNoROM    = errors.New("no .nds file in archive")
	ErrTooLarge = errors.New("file exceeds maximum ROM size")
)

// Format is a file container format.
type Format int

const (
	Raw Format = iota
	Zip
	SevenZip
	Rar
	Gzip
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case SevenZip:
		return "7z"
	case Rar:
		return "rar"
	case Gzip:
		return "gzip"
	}
	return "raw"
}

var magics = []struct {
	magic  []byte
	format Format
}{
	{[]byte("PK\x03\x04"), Zip},
	{[]byte("PK\x05\x06"), Zip}, // empty archive
	{[]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}, SevenZip},
	{[]byte("Rar!\x1A\x07"), Rar},
	{[]byte{0x1F, 0x8B}, Gzip},
}

// Detect returns the container format of data, from its magic bytes.
// Anything unrecognized is considered a raw ROM.
func Detect(data []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(data, m.magic) {
			return m.format
		}
	}
	return Raw
}

// Load reads the ROM file called name in fs.
func Load(fs afero.Fs, name string) ([]byte, string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := limitedRead(f)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", name, err)
	}
	return Decode(path.Base(strings.ReplaceAll(name, "\\", "/")), data)
}

// Decode returns the ROM contained in data, a file called name. Archives
// are searched for their first .nds entry, gzip streams are decompressed.
// Raw data is returned as is. The returned name is the name of the ROM.
func Decode(name string, data []byte) ([]byte, string, error) {
	format := Detect(data)
	log.ModBoot.DebugZ("decoding user file").String("name", name).Stringer("format", format).Int("size", len(data)).End()

	var (
		rom   []byte
		entry string
		err   error
	)
	switch format {
	case Raw:
		if len(data) > MaxSize {
			return nil, "", ErrTooLarge
		}
		return data, name, nil
	case Zip:
		rom, entry, err = fromZip(data)
	case SevenZip:
		rom, entry, err = from7z(data)
	case Rar:
		rom, entry, err = fromRar(data)
	case Gzip:
		rom, err = fromGzip(data)
		entry = strings.TrimSuffix(name, path.Ext(name))
		if !isROM(entry) {
			entry += ".nds"
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s (%s): %w", name, format, err)
	}
	return rom, entry, nil
}

func isROM(name string) bool {
	return strings.EqualFold(path.Ext(name), ".nds")
}

func fromZip(data []byte) ([]byte, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isROM(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()

		rom, err := limitedRead(rc)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", f.Name, err)
		}
		return rom, path.Base(f.Name), nil
	}
	return nil, "", ErrNoROM
}

func from7z(data []byte) ([]byte, string, error) {
	zr, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isROM(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()

		rom, err := limitedRead(rc)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", f.Name, err)
		}
		return rom, path.Base(f.Name), nil
	}
	return nil, "", ErrNoROM
}

func fromRar(data []byte) ([]byte, string, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			return nil, "", ErrNoROM
		}
		if err != nil {
			return nil, "", err
		}
		if hdr.IsDir || !isROM(hdr.Name) {
			continue
		}

		rom, err := limitedRead(rr)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", hdr.Name, err)
		}
		return rom, path.Base(hdr.Name), nil
	}
}

func fromGzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return limitedRead(gr)
}

func limitedRead(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
