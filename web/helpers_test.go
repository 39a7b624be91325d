package web

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/spf13/afero"

	"dsplay/acquire"
	"dsplay/config"
	"dsplay/store"
)

// memTransport serves files from memory, keyed by URL path.
type memTransport struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests atomic.Int32
}

func (t *memTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests.Add(1)

	t.mu.Lock()
	data, ok := t.files[req.URL.Path]
	t.mu.Unlock()

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(data)),
		Request:    req,
	}
	if !ok {
		resp.StatusCode, resp.Status = http.StatusNotFound, "404 Not Found"
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp, nil
	}
	resp.ContentLength = int64(len(data))
	return resp, nil
}

func newTestFetcher(rt http.RoundTripper) *acquire.Fetcher {
	return &acquire.Fetcher{
		Client:      &http.Client{Transport: rt},
		PieceSize:   1024,
		IdleTimeout: 5 * time.Second,
	}
}

// testROM returns a rom of n bytes with a retail header.
func testROM(n int) []byte {
	rom := make([]byte, n)
	copy(rom, "TESTGAME")
	copy(rom[12:], "ATGE")
	for i := 0x200; i < n; i++ {
		rom[i] = byte(i * 7)
	}
	return rom
}

const testGameID = "TESTGAME    ATGE"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ROM.ManifestURL = ""
	cfg.Boot.ReadyTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Boot.LoadFallback = config.Duration{Duration: 5 * time.Second}
	cfg.Server.PlayerURL = "http://cdn/desmond.min.js"
	return cfg
}

// startServer runs a Server on an httptest server.
func startServer(t *testing.T, cfg config.Config, rt http.RoundTripper) (*Server, *httptest.Server) {
	t.Helper()
	st := store.New(afero.NewMemMapFs(), "/store", true)
	srv, err := NewServer(cfg, st, newTestFetcher(rt))
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.closeSessions()
		ts.Close()
	})
	return srv, ts
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// page is a websocket client acting as the player page.
type page struct {
	t    *testing.T
	conn net.Conn
	id   string
}

func connect(t *testing.T, ts *httptest.Server) *page {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, br, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	if br != nil {
		// Frames sent along the handshake response are buffered in br.
		conn = bufferedConn{conn, br}
	}
	t.Cleanup(func() { conn.Close() })

	p := &page{t: t, conn: conn}
	_, data := p.wait("session")
	p.id = data["id"].(string)
	return p
}

func (p *page) send(msg string) {
	p.t.Helper()
	if err := wsutil.WriteClientText(p.conn, []byte(msg)); err != nil {
		p.t.Fatal(err)
	}
}

// next returns the next server event.
func (p *page) next() (string, map[string]any) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf, err := wsutil.ReadServerText(p.conn)
	if err != nil {
		p.t.Fatalf("reading server event: %v", err)
	}
	return decodeEvent(p.t, buf)
}

// wait skips server events until one of the given names arrives.
func (p *page) wait(names ...string) (string, map[string]any) {
	p.t.Helper()
	for {
		name, data := p.next()
		for _, n := range names {
			if n == name {
				return name, data
			}
		}
	}
}
