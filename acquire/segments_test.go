package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func segmentFiles(manifest string, segs ...[]byte) map[string][]byte {
	files := map[string][]byte{"/rom/manifest.json": []byte(manifest)}
	for i, s := range segs {
		files[fmt.Sprintf("/rom/rom.part%03d", i)] = s
	}
	return files
}

func newTestSegmentLoader(rt http.RoundTripper) *SegmentLoader {
	return &SegmentLoader{
		Fetcher:  newTestFetcher(rt),
		Pattern:  "rom.part%03d",
		Parallel: 3,
	}
}

func TestSegmentURL(t *testing.T) {
	l := &SegmentLoader{Pattern: "rom.part%03d"}
	tests := []struct {
		manifest string
		want     string
	}{
		{"http://example.com/rom/manifest.json", "http://example.com/rom/rom.part007"},
		{"http://example.com/rom/manifest.json?v=2", "http://example.com/rom/rom.part007"},
		{"rom/manifest.json", "rom/rom.part007"},
		{"manifest.json", "rom.part007"},
	}
	for _, tt := range tests {
		if got := l.SegmentURL(tt.manifest, 7); got != tt.want {
			t.Errorf("SegmentURL(%q) = %q, want %q", tt.manifest, got, tt.want)
		}
	}
}

// Segment 1 completes before segments 0 and 2 have even been requested. The
// payload must still be laid out by segment index.
func TestSegmentsCompletionOrder(t *testing.T) {
	seg := [3][]byte{
		bytes.Repeat([]byte{0xA0}, 100),
		bytes.Repeat([]byte{0xB1}, 100),
		bytes.Repeat([]byte{0xC2}, 100),
	}

	seg1Done := make(chan struct{})
	var order []string
	done := make(chan string, 4)

	tr := &fakeTransport{
		files: segmentFiles(`{"segmentCount": 3, "totalBytes": 300}`, seg[0], seg[1], seg[2]),
		before: func(path string) {
			if path == "/rom/rom.part000" || path == "/rom/rom.part002" {
				<-seg1Done
			}
		},
		wrap: func(path string, body io.ReadCloser) io.ReadCloser {
			return &onEOF{ReadCloser: body, fn: func() {
				done <- path
				if path == "/rom/rom.part001" {
					close(seg1Done)
				}
			}}
		},
	}

	l := newTestSegmentLoader(tr)
	rec := &progressRecorder{}
	m := NewMeter(rec.record)
	m.Stage(LabelSegments)

	got, err := l.Load(context.Background(), "http://local/rom/manifest.json", m)
	if err != nil {
		t.Fatal(err)
	}

	close(done)
	for p := range done {
		if p != "/rom/manifest.json" {
			order = append(order, p)
		}
	}
	if len(order) == 0 || order[0] != "/rom/rom.part001" {
		t.Fatalf("segment 1 should complete first, order = %v", order)
	}

	if len(got) != 300 {
		t.Fatalf("len = %d, want 300", len(got))
	}
	for i := range seg {
		if !bytes.Equal(got[i*100:(i+1)*100], seg[i]) {
			t.Errorf("segment %d not at offset %d", i, i*100)
		}
	}

	last := rec.reports()[len(rec.reports())-1]
	if last.Received != 300 || last.Total != 300 || last.Detail != "3/3 segments" {
		t.Errorf("last progress = %+v", last)
	}
}

func TestSegmentsNoManifest(t *testing.T) {
	l := newTestSegmentLoader(&fakeTransport{files: map[string][]byte{}})
	_, err := l.Load(context.Background(), "http://local/rom/manifest.json", NewMeter(nil))
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("Load() error = %v, want ErrNotAvailable", err)
	}
}

func TestSegmentsMalformedManifest(t *testing.T) {
	l := newTestSegmentLoader(&fakeTransport{files: segmentFiles(`{"segmentCount": "x"}`)})
	_, err := l.Load(context.Background(), "http://local/rom/manifest.json", NewMeter(nil))
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("Load() error = %v, want ErrNotAvailable", err)
	}
}

func TestSegmentsMissingSegment(t *testing.T) {
	files := segmentFiles(`{"segmentCount": 3, "totalBytes": 300}`, payload(100), payload(100))
	l := newTestSegmentLoader(&fakeTransport{files: files})

	_, err := l.Load(context.Background(), "http://local/rom/manifest.json", NewMeter(nil))
	if err == nil || errors.Is(err, ErrNotAvailable) {
		t.Fatalf("Load() error = %v, want a segment failure", err)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Load() error = %v, want ErrNetwork", err)
	}
}

func TestSegmentsSizeMismatch(t *testing.T) {
	files := segmentFiles(`{"segmentCount": 3, "totalBytes": 300}`, payload(100), payload(99), payload(100))
	l := newTestSegmentLoader(&fakeTransport{files: files})

	_, err := l.Load(context.Background(), "http://local/rom/manifest.json", NewMeter(nil))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Load() error = %v, want ErrValidation", err)
	}
}

// Segment lengths only have to add up to the total, unless the manifest
// declares a segment size. The last segment completes first.
func TestSegmentsUneven(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		sizes    []int
		wantErr  error
	}{
		{
			name:     "short last",
			manifest: `{"segmentCount": 3, "totalBytes": 250}`,
			sizes:    []int{100, 100, 50},
		},
		{
			name:     "short first",
			manifest: `{"segmentCount": 3, "totalBytes": 250}`,
			sizes:    []int{50, 100, 100},
		},
		{
			name:     "sized",
			manifest: `{"segmentCount": 3, "totalBytes": 250, "segmentSize": 100}`,
			sizes:    []int{100, 100, 50},
		},
		{
			name:     "sized short first",
			manifest: `{"segmentCount": 3, "totalBytes": 250, "segmentSize": 100}`,
			sizes:    []int{50, 100, 100},
			wantErr:  ErrValidation,
		},
		{
			name:     "missing bytes",
			manifest: `{"segmentCount": 3, "totalBytes": 250}`,
			sizes:    []int{100, 100, 40},
			wantErr:  ErrValidation,
		},
		{
			name:     "extra bytes",
			manifest: `{"segmentCount": 3, "totalBytes": 250}`,
			sizes:    []int{100, 100, 100},
			wantErr:  ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var segs [][]byte
			for i, n := range tt.sizes {
				segs = append(segs, bytes.Repeat([]byte{byte(0xA0 + i)}, n))
			}

			lastDone := make(chan struct{})
			tr := &fakeTransport{
				files: segmentFiles(tt.manifest, segs...),
				before: func(path string) {
					if path == "/rom/rom.part000" {
						<-lastDone
					}
				},
				wrap: func(path string, body io.ReadCloser) io.ReadCloser {
					if path != "/rom/rom.part002" {
						return body
					}
					return &onEOF{ReadCloser: body, fn: func() { close(lastDone) }}
				},
			}

			got, err := newTestSegmentLoader(tr).Load(context.Background(), "http://local/rom/manifest.json", NewMeter(nil))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if want := bytes.Join(segs, nil); !bytes.Equal(got, want) {
				t.Errorf("Load() = %d bytes, want segments concatenated in index order (%d bytes)", len(got), len(want))
			}
		})
	}
}
