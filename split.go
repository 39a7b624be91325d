package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"dsplay/acquire"
	"dsplay/config"
	"dsplay/romfile"
)

const manifestName = "manifest.json"

func splitMain(args Split, cfg config.Config) error {
	fs := afero.NewOsFs()
	data, name, err := romfile.Load(fs, args.RomPath)
	if err != nil {
		return err
	}

	m, err := splitROM(fs, data, args.OutDir, cfg.ROM.SegmentPattern, args.Segments)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes in %d segments of %d bytes, manifest at %s\n",
		name, m.TotalBytes, m.SegmentCount, m.SegmentSize, filepath.Join(args.OutDir, manifestName))
	return nil
}

// splitROM writes data as at most n segments in dir, named after pattern,
// along with their manifest.
func splitROM(fs afero.Fs, data []byte, dir, pattern string, n int) (acquire.Manifest, error) {
	if n < 1 {
		return acquire.Manifest{}, fmt.Errorf("invalid segment count %d", n)
	}

	total := int64(len(data))
	size := (total + int64(n) - 1) / int64(n)
	m := acquire.Manifest{
		SegmentCount: 1,
		TotalBytes:   total,
		SegmentSize:  size,
	}
	// Rounding up the size may leave trailing segments empty, drop them.
	if size > 0 {
		m.SegmentCount = int((total + size - 1) / size)
	}

	if err := fs.MkdirAll(dir, config.DefaultFileMode); err != nil {
		return acquire.Manifest{}, err
	}
	for i := range m.SegmentCount {
		off, sz := m.Segment(i)
		name := filepath.Join(dir, fmt.Sprintf(pattern, i))
		if err := afero.WriteFile(fs, name, data[off:off+sz], 0644); err != nil {
			return acquire.Manifest{}, err
		}
	}

	buf, err := m.MarshalJSON()
	if err != nil {
		return acquire.Manifest{}, err
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, manifestName), buf, 0644); err != nil {
		return acquire.Manifest{}, err
	}
	return m, nil
}
