package acquire

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"dsplay/config"
	"dsplay/log"
)

// MaxPayloadSize bounds the size of any acquired payload. The largest DS
// cartridges hold 512MB.
const MaxPayloadSize = 512 * 1024 * 1024

var errIdle = errors.New("no data received before idle deadline")

// A Fetcher retrieves bytes from a URL, reporting progress as data arrives.
//
// http and https URLs go through the network, file URLs and bare paths are
// read from the local filesystem.
type Fetcher struct {
	// Client is the streaming transport.
	Client *http.Client

	// Legacy is the blocking transport retried once when Client fails at
	// the connection level. nil disables the fallback.
	Legacy *http.Client

	// PieceSize is the size of the reads on the response body.
	PieceSize int

	// IdleTimeout is the maximum time to wait for data. 0 waits forever.
	IdleTimeout time.Duration
}

// NewFetcher returns a Fetcher configured from cfg.
func NewFetcher(cfg config.FetchConfig) *Fetcher {
	f := &Fetcher{
		Client:      &http.Client{},
		PieceSize:   cfg.PieceSize,
		IdleTimeout: cfg.IdleTimeout.Duration,
	}
	if cfg.LegacyFallback {
		f.Legacy = &http.Client{Transport: legacyTransport()}
	}
	return f
}

// legacyTransport is a plain HTTP/1.1 transport, without connection reuse.
func legacyTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	tr.DisableKeepAlives = true
	return tr
}

// Fetch retrieves the content at rawurl. onProgress, if not nil, is called
// after each piece with the received byte count and the expected total (0
// when the server doesn't announce a length).
func (f *Fetcher) Fetch(ctx context.Context, rawurl string, onProgress func(received, total int64)) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, &FetchError{URL: rawurl, Kind: ErrNetwork, Err: err}
	}

	switch u.Scheme {
	case "http", "https":
	case "file":
		return f.readFile(ctx, u.Path, onProgress)
	case "":
		return f.readFile(ctx, rawurl, onProgress)
	default:
		if len(u.Scheme) == 1 {
			// windows drive letter.
			return f.readFile(ctx, rawurl, onProgress)
		}
		return nil, &FetchError{URL: rawurl, Kind: ErrNetwork, Err: fmt.Errorf("unsupported URL scheme (%s)", u.Scheme)}
	}

	data, err := f.get(ctx, f.client(), rawurl, onProgress, true)
	if err == nil || f.Legacy == nil || !transportFailure(err) || ctx.Err() != nil {
		return data, err
	}

	log.ModFetch.WarnZ("streaming fetch failed, retrying with legacy transport").String("url", rawurl).Error("err", err).End()
	return f.get(ctx, f.Legacy, rawurl, onProgress, false)
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// get performs a GET with client. When streamed is false the whole body is
// read at once and progress is reported a single time.
func (f *Fetcher) get(ctx context.Context, client *http.Client, rawurl string, onProgress func(int64, int64), streamed bool) ([]byte, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchdog := f.watch(cancel)
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, &FetchError{URL: rawurl, Kind: ErrNetwork, Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, f.wrap(ctx, rawurl, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawurl, Status: resp.StatusCode, Kind: ErrNetwork, Err: errors.New(resp.Status)}
	}

	total := max(resp.ContentLength, 0)
	if total > MaxPayloadSize {
		return nil, fmt.Errorf("fetch %s: %d bytes: %w", rawurl, total, ErrValidation)
	}

	body := &idleReader{r: resp.Body, w: watchdog}
	if !streamed {
		data, err := io.ReadAll(io.LimitReader(body, MaxPayloadSize+1))
		if err != nil {
			return nil, f.wrap(ctx, rawurl, err)
		}
		if len(data) > MaxPayloadSize {
			return nil, fmt.Errorf("fetch %s: %w", rawurl, ErrValidation)
		}
		onProgress(int64(len(data)), max(total, int64(len(data))))
		return data, nil
	}

	data, err := f.readPieces(body, total, onProgress)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, fmt.Errorf("fetch %s: %w", rawurl, err)
		}
		return nil, f.wrap(ctx, rawurl, err)
	}
	return data, nil
}

// readPieces reads r piece by piece, appending pieces in arrival order.
func (f *Fetcher) readPieces(r io.Reader, total int64, onProgress func(int64, int64)) ([]byte, error) {
	size := f.PieceSize
	if size <= 0 {
		size = 64 * 1024
	}

	buf := make([]byte, 0, total)
	piece := make([]byte, size)
	for {
		n, err := r.Read(piece)
		if n > 0 {
			if len(buf)+n > MaxPayloadSize {
				return nil, ErrValidation
			}
			buf = append(buf, piece[:n]...)
			onProgress(int64(len(buf)), total)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) readFile(ctx context.Context, path string, onProgress func(int64, int64)) ([]byte, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &FetchError{URL: path, Status: http.StatusNotFound, Kind: ErrNetwork, Err: err}
		}
		return nil, &FetchError{URL: path, Kind: ErrNetwork, Err: err}
	}
	defer fd.Close()

	var total int64
	if fi, err := fd.Stat(); err == nil {
		total = fi.Size()
	}
	if total > MaxPayloadSize {
		return nil, fmt.Errorf("read %s: %w", path, ErrValidation)
	}

	data, err := f.readPieces(&ctxReader{ctx: ctx, r: fd}, total, onProgress)
	if err != nil {
		if errors.Is(err, ErrValidation) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &FetchError{URL: path, Kind: ErrNetwork, Err: err}
	}
	return data, nil
}

// wrap converts a transport error into a FetchError, distinguishing timeouts
// from network failures.
func (f *Fetcher) wrap(ctx context.Context, rawurl string, err error) error {
	if errors.Is(context.Cause(ctx), errIdle) {
		return &FetchError{URL: rawurl, Kind: ErrTimeout, Err: errIdle}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{URL: rawurl, Kind: ErrTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &FetchError{URL: rawurl, Kind: ErrNetwork, Err: err}
}

// watchdog cancels a fetch when no data has been received for a while.
type watchdog struct {
	timer *time.Timer
	idle  time.Duration
}

func (f *Fetcher) watch(cancel context.CancelCauseFunc) *watchdog {
	w := &watchdog{idle: f.IdleTimeout}
	if w.idle > 0 {
		w.timer = time.AfterFunc(w.idle, func() { cancel(errIdle) })
	}
	return w
}

func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.idle)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// idleReader resets the watchdog each time data is read.
type idleReader struct {
	r io.Reader
	w *watchdog
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.w.kick()
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
