package acquire

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// payload returns n deterministic bytes.
func payload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*31 + i>>8)
	}
	return buf
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// fakeTransport serves files from memory, keyed by URL path.
type fakeTransport struct {
	mu    sync.Mutex
	files map[string][]byte

	// if not nil, called before serving path.
	before func(path string)

	// wraps the body served for path.
	wrap func(path string, body io.ReadCloser) io.ReadCloser

	requests atomic.Int32
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests.Add(1)
	if t.before != nil {
		t.before(req.URL.Path)
	}

	t.mu.Lock()
	data, ok := t.files[req.URL.Path]
	t.mu.Unlock()

	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Status:     "404 Not Found",
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Request:    req,
		}, nil
	}

	var body io.ReadCloser = io.NopCloser(bytes.NewReader(data))
	if t.wrap != nil {
		body = t.wrap(req.URL.Path, body)
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{"Content-Length": {strconv.Itoa(len(data))}},
		ContentLength: int64(len(data)),
		Body:          body,
		Request:       req,
	}, nil
}

func newTestFetcher(rt http.RoundTripper) *Fetcher {
	return &Fetcher{
		Client:      &http.Client{Transport: rt},
		PieceSize:   4096,
		IdleTimeout: 5 * time.Second,
	}
}

// onEOF calls fn once the wrapped body has been read entirely.
type onEOF struct {
	io.ReadCloser
	once sync.Once
	fn   func()
}

func (r *onEOF) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		r.once.Do(r.fn)
	}
	return n, err
}

// progressRecorder records all progress reports.
type progressRecorder struct {
	mu  sync.Mutex
	all []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, p)
}

func (r *progressRecorder) reports() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.all...)
}
