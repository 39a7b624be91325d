package web

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dsplay/input"
	"dsplay/store"
)

// waitLoad waits for the load event, failing on fatal errors.
func (p *page) waitLoad() map[string]any {
	p.t.Helper()
	for {
		name, data := p.wait("load", "status")
		if name == "load" {
			return data
		}
		if data["fatal"] == true {
			p.t.Fatalf("boot failed: %v", data["text"])
		}
	}
}

func get(t *testing.T, url string) (int, http.Header, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, resp.Header, body
}

func do(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, buf
}

func TestBootFromURL(t *testing.T) {
	rom := testROM(4096)
	tr := &memTransport{files: map[string][]byte{"/game.nds": rom}}
	srv, ts := startServer(t, testConfig(), tr)

	p := connect(t, ts)
	p.send(`{"event": "hello", "data": {"rom": "http://cdn/game.nds"}}`)
	p.send(`{"event": "ready"}`)

	load := p.waitLoad()
	want := map[string]any{
		"name":    "game.nds",
		"gameId":  testGameID,
		"saveKey": "sav-" + testGameID,
	}
	url := load["url"].(string)
	delete(load, "url")
	if diff := cmp.Diff(want, load); diff != "" {
		t.Errorf("load event mismatch (-want +got):\n%s", diff)
	}

	code, hdr, body := get(t, ts.URL+url)
	if code != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, code)
	}
	if !bytes.Equal(body, rom) {
		t.Errorf("GET %s: got %d bytes, want the rom", url, len(body))
	}
	if cc := hdr.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}

	p.send(`{"event": "loaded"}`)
	_, save := p.wait("save")
	if save["present"] != false || save["text"] != "none yet" {
		t.Errorf("save event = %v", save)
	}
	if _, done := p.wait("done"); done["loaded"] != true {
		t.Errorf("done event = %v, want loaded", done)
	}

	// The rom is eventually cached, a second page doesn't download it again.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := srv.cache.Get("http://cdn/game.nds"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rom not cached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p2 := connect(t, ts)
	p2.send(`{"event": "hello", "data": {"rom": "http://cdn/game.nds"}}`)
	p2.send(`{"event": "ready"}`)
	if load := p2.waitLoad(); load["gameId"] != testGameID {
		t.Errorf("load event = %v", load)
	}
	if n := tr.requests.Load(); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}
}

func TestBootReadyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Boot.ReadyTimeout.Duration = 50 * time.Millisecond
	tr := &memTransport{files: map[string][]byte{"/game.nds": testROM(4096)}}
	_, ts := startServer(t, cfg, tr)

	p := connect(t, ts)
	p.send(`{"event": "hello", "data": {"rom": "http://cdn/game.nds"}}`)

	_, status := p.wait("status")
	if status["fatal"] != true {
		t.Errorf("status = %v, want fatal", status)
	}
	if text := status["text"].(string); !strings.HasPrefix(text, "Timed out") {
		t.Errorf("status text = %q", text)
	}
	if n := tr.requests.Load(); n != 0 {
		t.Errorf("got %d requests, want 0", n)
	}
}

func TestBootLoadFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Boot.LoadFallback.Duration = 50 * time.Millisecond
	tr := &memTransport{files: map[string][]byte{"/game.nds": testROM(4096)}}
	_, ts := startServer(t, cfg, tr)

	p := connect(t, ts)
	p.send(`{"event": "hello", "data": {"rom": "http://cdn/game.nds"}}`)
	p.send(`{"event": "ready"}`)
	p.waitLoad()

	// No loaded event, post-load actions run anyway.
	if _, done := p.wait("done"); done["loaded"] != false {
		t.Errorf("done event = %v, want not loaded", done)
	}
}

func zipped(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBootUserFile(t *testing.T) {
	_, ts := startServer(t, testConfig(), &memTransport{})

	p := connect(t, ts)
	p.send(`{"event": "hello"}`)
	p.send(`{"event": "ready"}`)

	_, sel := p.wait("select-file")
	if sel["reason"] != "" {
		t.Errorf("select-file reason = %q, want none", sel["reason"])
	}

	upload := func(name string, data []byte) int {
		t.Helper()
		code, _ := do(t, http.MethodPost, fmt.Sprintf("%s/upload/%s?name=%s", ts.URL, p.id, name), data)
		return code
	}

	// Too small, the user is asked again.
	if code := upload("tiny.nds", []byte("0123456789")); code != http.StatusAccepted {
		t.Fatalf("upload: status %d", code)
	}
	_, sel = p.wait("select-file")
	if sel["reason"] == "" {
		t.Error("select-file should give the rejection reason")
	}

	rom := testROM(2048)
	if code := upload("pack.zip", zipped(t, "roms/My Game.nds", rom)); code != http.StatusAccepted {
		t.Fatalf("upload: status %d", code)
	}
	load := p.waitLoad()
	if load["name"] != "My Game.nds" || load["gameId"] != testGameID {
		t.Errorf("load event = %v", load)
	}

	_, _, body := get(t, ts.URL+load["url"].(string))
	if !bytes.Equal(body, rom) {
		t.Errorf("served rom differs from the archived one")
	}

	if code, _ := do(t, http.MethodPost, ts.URL+"/upload/nope", rom); code != http.StatusNotFound {
		t.Errorf("upload to unknown session: status %d, want 404", code)
	}
}

func TestSessionInput(t *testing.T) {
	_, ts := startServer(t, testConfig(), &memTransport{})
	p := connect(t, ts)

	p.send(`{"event": "layout", "data": {
		"width": 1280, "height": 480,
		"buttons": [{"x": 0, "y": 0, "w": 60, "h": 40, "button": "l"}],
		"passthrough": [{"x": 600, "y": 440, "w": 80, "h": 40}]
	}}`)
	_, screens := p.wait("screens")
	want := map[string]any{
		"scale":  2.5,
		"top":    map[string]any{"x": 0.0, "y": 0.0, "w": 640.0, "h": 480.0},
		"bottom": map[string]any{"x": 640.0, "y": 0.0, "w": 640.0, "h": 480.0},
	}
	if diff := cmp.Diff(want, screens); diff != "" {
		t.Errorf("screens mismatch (-want +got):\n%s", diff)
	}

	p.send(`{"event": "touch", "data": {"points": [{"id": 1, "x": 960, "y": 240}, {"id": 2, "x": 10, "y": 10}]}}`)
	_, in := p.wait("input")
	buttons := in["buttons"].([]any)
	if buttons[input.L] != true {
		t.Errorf("buttons = %v, want L pressed", buttons)
	}
	if in["touched"] != true || in["x"] != 128.0 || in["y"] != 96.0 || in["preventDefault"] != true {
		t.Errorf("input = %v", in)
	}

	// Unmapped keys produce no input.
	p.send(`{"event": "key", "data": {"code": "F5", "down": true}}`)
	p.send(`{"event": "touch", "data": {"points": [{"id": 3, "x": 620, "y": 460}]}}`)
	_, in = p.next()
	if in["touched"] != false || in["preventDefault"] != false {
		t.Errorf("input = %v, want pass-through touch", in)
	}

	p.send(`{"event": "key", "data": {"code": "KeyX", "down": true}}`)
	_, in = p.wait("input")
	if buttons := in["buttons"].([]any); buttons[input.A] != true {
		t.Errorf("buttons = %v, want A pressed", buttons)
	}
}

func TestSaves(t *testing.T) {
	_, ts := startServer(t, testConfig(), &memTransport{})
	base := ts.URL + "/save/sav-TESTGAME%20%20%20%20ATGE"

	save := bytes.Repeat([]byte{0xa5}, 8192)
	code, body := do(t, http.MethodPut, base, save)
	if code != http.StatusOK {
		t.Fatalf("PUT: status %d: %s", code, body)
	}
	_, st := decodeEvent(t, []byte(`{"event":"save","data":`+string(body)+`}`))
	want := map[string]any{
		"key":     "sav-" + testGameID,
		"present": true,
		"size":    8192.0,
		"text":    "present (8 KB)",
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	code, hdr, got := get(t, base)
	if code != http.StatusOK || !bytes.Equal(got, save) {
		t.Errorf("GET: status %d, %d bytes", code, len(got))
	}
	if cd := hdr.Get("Content-Disposition"); !strings.Contains(cd, store.ExportName("sav-"+testGameID)) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	code, _ = do(t, http.MethodPut, base, make([]byte, store.MaxSaveSize+1))
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("PUT too large: status %d, want 413", code)
	}

	// The rejected import left the save untouched.
	code, body = do(t, http.MethodGet, base+"/status", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"size":8192`) {
		t.Errorf("GET status: %d %s", code, body)
	}

	code, body = do(t, http.MethodDelete, base, nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"present":false`) {
		t.Errorf("DELETE: %d %s", code, body)
	}
	if code, _, _ := get(t, base); code != http.StatusNotFound {
		t.Errorf("GET after clear: status %d, want 404", code)
	}

	if code, _, _ := get(t, ts.URL+"/save/rom-1"); code != http.StatusBadRequest {
		t.Errorf("GET invalid key: status %d, want 400", code)
	}
}

func TestStatic(t *testing.T) {
	tr := &memTransport{files: map[string][]byte{"/desmond.min.js": []byte(testScript)}}
	_, ts := startServer(t, testConfig(), tr)

	code, _, body := get(t, ts.URL+"/")
	if code != http.StatusOK || !bytes.Contains(body, []byte("desmond-player")) {
		t.Errorf("GET /: status %d", code)
	}

	code, hdr, body := get(t, ts.URL+"/player.js")
	if code != http.StatusOK || bytes.Contains(body, []byte(iosSaveGuard)) {
		t.Errorf("GET /player.js: status %d, %q", code, body)
	}
	if ct := hdr.Get("Content-Type"); !strings.HasPrefix(ct, "text/javascript") {
		t.Errorf("Content-Type = %q", ct)
	}

	if code, _, _ := get(t, ts.URL+"/rom/unknown"); code != http.StatusNotFound {
		t.Errorf("GET unknown rom: status %d, want 404", code)
	}
}
