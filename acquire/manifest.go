package acquire

import (
	"fmt"

	"github.com/go-faster/jx"
)

// A Manifest describes how a payload is split into segments.
//
// Segment lengths only need to sum to TotalBytes. When SegmentSize is
// declared, all segments but the last hold SegmentSize bytes and the last
// one holds the remainder, so segment i lives at offset i*SegmentSize.
type Manifest struct {
	SegmentCount int
	TotalBytes   int64
	SegmentSize  int64 // 0 when not declared
}

// ParseManifest decodes and validates a JSON manifest:
//
//	{"segmentCount": 3, "totalBytes": 300}
//
// segmentSize is optional.
func ParseManifest(data []byte) (Manifest, error) {
	var (
		m         Manifest
		haveCount bool
		haveTotal bool
	)

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "segmentCount":
			m.SegmentCount, err = d.Int()
			haveCount = true
		case "totalBytes":
			m.TotalBytes, err = d.Int64()
			haveTotal = true
		case "segmentSize":
			m.SegmentSize, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("malformed manifest: %w", err)
	}

	if !haveCount || !haveTotal {
		return Manifest{}, fmt.Errorf("manifest lacks segmentCount or totalBytes")
	}
	if m.SegmentCount < 1 {
		return Manifest{}, fmt.Errorf("invalid segment count %d", m.SegmentCount)
	}
	if m.TotalBytes < 0 || m.TotalBytes > MaxPayloadSize {
		return Manifest{}, fmt.Errorf("invalid total size %d", m.TotalBytes)
	}

	if m.SegmentSize == 0 {
		return m, nil
	}
	n := int64(m.SegmentCount)
	if m.SegmentSize < 0 || m.SegmentSize*n < m.TotalBytes ||
		(m.TotalBytes > 0 && m.SegmentSize*(n-1) >= m.TotalBytes) {
		return Manifest{}, fmt.Errorf("segment size %d inconsistent with %d segments totalling %d bytes",
			m.SegmentSize, m.SegmentCount, m.TotalBytes)
	}
	return m, nil
}

// Sized reports whether the manifest declares the segment size, which fixes
// the length and offset of every segment.
func (m Manifest) Sized() bool { return m.SegmentSize > 0 }

// Segment returns the offset and length of segment i of a sized manifest.
func (m Manifest) Segment(i int) (off, size int64) {
	off = int64(i) * m.SegmentSize
	size = min(m.SegmentSize, m.TotalBytes-off)
	return off, max(size, 0)
}

// MarshalJSON encodes the manifest, as produced by the split command.
func (m Manifest) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	e.SetIdent(2)
	e.ObjStart()
	e.FieldStart("segmentCount")
	e.Int(m.SegmentCount)
	e.FieldStart("totalBytes")
	e.Int64(m.TotalBytes)
	e.FieldStart("segmentSize")
	e.Int64(m.SegmentSize)
	e.ObjEnd()
	return e.Bytes(), nil
}
