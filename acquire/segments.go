package acquire

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"dsplay/log"
)

// A SegmentLoader loads a payload split into independently fetched segments,
// as described by a manifest.
type SegmentLoader struct {
	Fetcher *Fetcher

	// Pattern is the printf pattern naming segment files from their index,
	// relative to the manifest location (e.g. "rom.part%03d").
	Pattern string

	// Parallel bounds the number of concurrent segment fetches.
	Parallel int
}

// SegmentURL returns the location of segment i of the set described by the
// manifest at manifestURL.
func (l *SegmentLoader) SegmentURL(manifestURL string, i int) string {
	base := manifestURL
	if q := strings.IndexAny(base, "?#"); q >= 0 {
		base = base[:q]
	}
	base = base[:strings.LastIndex(base, "/")+1]
	return base + fmt.Sprintf(l.Pattern, i)
}

// Load fetches the manifest at manifestURL, then all its segments
// concurrently. Segments are placed by index, not arrival order: at their
// declared offset when the manifest gives a segment size, else one after
// the other once all have arrived.
//
// A missing or malformed manifest results in ErrNotAvailable. A single
// failed or inconsistent segment fails the whole load, there's no retry.
func (l *SegmentLoader) Load(ctx context.Context, manifestURL string, m *Meter) ([]byte, error) {
	raw, err := l.Fetcher.Fetch(ctx, manifestURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.ModFetch.DebugZ("no segment manifest").String("url", manifestURL).Error("err", err).End()
		return nil, ErrNotAvailable
	}

	man, err := ParseManifest(raw)
	if err != nil {
		log.ModFetch.DebugZ("ignoring segment manifest").String("url", manifestURL).Error("err", err).End()
		return nil, ErrNotAvailable
	}

	log.ModFetch.InfoZ("loading segments").
		String("manifest", manifestURL).
		Int("count", man.SegmentCount).
		Int64("total", man.TotalBytes).
		Int64("size", man.SegmentSize).
		End()

	var (
		buf  []byte   // sized manifests
		segs [][]byte // unsized manifests, by index
	)
	if man.Sized() {
		buf = make([]byte, man.TotalBytes)
	} else {
		segs = make([][]byte, man.SegmentCount)
	}

	var (
		mu       sync.Mutex
		done     int
		received int64
	)
	m.Update(0, man.TotalBytes)
	m.Detail(fmt.Sprintf("0/%d segments", man.SegmentCount))

	g, gctx := errgroup.WithContext(ctx)
	if l.Parallel > 0 {
		g.SetLimit(l.Parallel)
	}

	for i := range man.SegmentCount {
		segurl := l.SegmentURL(manifestURL, i)
		g.Go(func() error {
			data, err := l.Fetcher.Fetch(gctx, segurl, nil)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}

			if man.Sized() {
				off, size := man.Segment(i)
				if int64(len(data)) != size {
					return fmt.Errorf("segment %d: got %d bytes, want %d: %w", i, len(data), size, ErrValidation)
				}
				copy(buf[off:off+size], data)
			}

			mu.Lock()
			defer mu.Unlock()
			received += int64(len(data))
			if received > man.TotalBytes {
				return fmt.Errorf("segment %d: segments exceed %d bytes: %w", i, man.TotalBytes, ErrValidation)
			}
			if !man.Sized() {
				segs[i] = data
			}
			done++
			m.Update(received, man.TotalBytes)
			m.Detail(fmt.Sprintf("%d/%d segments", done, man.SegmentCount))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if man.Sized() {
		return buf, nil
	}

	if received != man.TotalBytes {
		return nil, fmt.Errorf("segments total %d bytes, want %d: %w", received, man.TotalBytes, ErrValidation)
	}
	buf = make([]byte, 0, man.TotalBytes)
	for _, seg := range segs {
		buf = append(buf, seg...)
	}
	return buf, nil
}
