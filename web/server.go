// Package web is the host side of the player page: it serves the page and
// the emulator script, acquires the ROM on behalf of the page, maps its
// touch and keyboard events to emulator input, and stores battery saves.
package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"embed"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/gobwas/ws"

	"dsplay/acquire"
	"dsplay/config"
	"dsplay/input"
	"dsplay/log"
	"dsplay/romfile"
	"dsplay/store"
)

//go:embed assets
var assets embed.FS

// Server serves the player page.
type Server struct {
	cfg     config.Config
	store   *store.Store
	cache   *store.Cache
	saves   *store.Saves
	fetcher *acquire.Fetcher
	player  *Player
	roms    romTable
	mux     *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer returns a server configured by cfg, storing ROMs and saves in
// st. fetcher, if nil, is created from cfg.
func NewServer(cfg config.Config, st *store.Store, fetcher *acquire.Fetcher) (*Server, error) {
	// Fail early on keymap errors.
	if _, err := input.NewMapper(cfg.Input); err != nil {
		return nil, err
	}
	if fetcher == nil {
		fetcher = acquire.NewFetcher(cfg.Fetch)
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		cache:    store.NewCache(st, cfg.ROM.MinSize),
		saves:    store.NewSaves(st),
		fetcher:  fetcher,
		roms:     romTable{m: make(map[string][]byte)},
		mux:      http.NewServeMux(),
		sessions: make(map[string]*session),
	}
	s.player = newPlayer(cfg.Server.PlayerURL, cfg.Server.PatchIOSSave, fetcher, st.Bucket("player"))

	static, err := fs.Sub(assets, "assets")
	if err != nil {
		return nil, err
	}

	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
	s.mux.HandleFunc("GET /rom/{token}", s.handleROM)
	s.mux.HandleFunc("POST /upload/{session}", s.handleUpload)
	s.mux.HandleFunc("GET /player.js", s.handlePlayer)
	s.mux.HandleFunc("GET /save/{key}", s.handleSaveExport)
	s.mux.HandleFunc("GET /save/{key}/status", s.handleSaveStatus)
	s.mux.HandleFunc("PUT /save/{key}", s.handleSaveImport)
	s.mux.HandleFunc("DELETE /save/{key}", s.handleSaveClear)
	s.mux.Handle("GET /", http.FileServer(http.FS(static)))
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on the configured address until ctx is done.
// onListen, if not nil, is called with the page URL once the server
// accepts connections.
func (s *Server) ListenAndServe(ctx context.Context, onListen func(url string)) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := "http://" + ln.Addr().String() + "/"
	log.ModWeb.InfoZ("player listening").String("url", url).End()
	if onListen != nil {
		onListen(url)
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeSessions()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	return nil
}

// orchestrator returns the ROM acquisition orchestrator of sess.
func (s *Server) orchestrator(sess *session) *acquire.Orchestrator {
	return &acquire.Orchestrator{
		Fetcher: s.fetcher,
		Segments: &acquire.SegmentLoader{
			Fetcher:  s.fetcher,
			Pattern:  s.cfg.ROM.SegmentPattern,
			Parallel: s.cfg.Segments.Parallel,
		},
		Cache:        s.cache,
		Files:        sess,
		DefaultURL:   s.cfg.ROM.DefaultURL,
		ManifestURL:  s.cfg.ROM.ManifestURL,
		MinSize:      s.cfg.ROM.MinSize,
		Ready:        sess.ready,
		ReadyTimeout: s.cfg.Boot.ReadyTimeout.Duration,
		OnProgress:   sess.onProgress,
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.ModWeb.WarnZ("websocket handshake failed").Error("err", err).End()
		return
	}

	mapper, err := input.NewMapper(s.cfg.Input)
	if err != nil {
		// Validated by NewServer.
		panic(err)
	}

	sess := newSession(s, rand.Text(), newSocket(conn), mapper)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	log.ModWeb.DebugZ("websocket handshake success").String("session", sess.id).End()

	go func() {
		if err := sess.drive(); err != nil {
			log.ModWeb.ErrorZ("page connection ended").Error("err", err).End()
		}
	}()
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.sock.Close()
	}
}

// handleROM serves a ROM handed to the emulator. The location is only
// valid for the lifetime of the session that acquired it.
func (s *Server) handleROM(w http.ResponseWriter, r *http.Request) {
	data, ok := s.roms.get(r.PathValue("token"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "rom.nds", time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r.PathValue("session"))
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, romfile.MaxSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "game.nds"
	}
	if !sess.deliver(upload{name: name, data: data}) {
		http.Error(w, "a file is already pending", http.StatusConflict)
		return
	}
	log.ModBoot.InfoZ("user file received").String("name", name).Int("size", len(data)).End()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	script, err := s.player.Script(r.Context())
	if err != nil {
		log.ModWeb.ErrorZ("player script unavailable").Error("err", err).End()
		http.Error(w, "emulator script unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Write(script)
}

// saveKey returns the save key of the request, if valid.
func saveKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.PathValue("key")
	if !strings.HasPrefix(key, "sav-") || len(key) > 255 {
		http.Error(w, "invalid save key", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	key, ok := saveKey(w, r)
	if !ok {
		return
	}

	data, name, err := s.saves.Export(key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "no save data yet", http.StatusNotFound)
		return
	case err != nil:
		log.ModSave.ErrorZ("save export failed").String("key", key).Error("err", err).End()
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}

func (s *Server) handleSaveStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := saveKey(w, r)
	if !ok {
		return
	}
	s.writeSaveStatus(w, key)
}

func (s *Server) handleSaveImport(w http.ResponseWriter, r *http.Request) {
	key, ok := saveKey(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, store.MaxSaveSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch err := s.saves.Import(key, data); {
	case errors.Is(err, store.ErrSaveTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		log.ModSave.ErrorZ("save import failed").String("key", key).Error("err", err).End()
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	log.ModSave.InfoZ("save stored").String("key", key).Int("size", len(data)).End()
	s.writeSaveStatus(w, key)
}

func (s *Server) handleSaveClear(w http.ResponseWriter, r *http.Request) {
	key, ok := saveKey(w, r)
	if !ok {
		return
	}
	if err := s.saves.Clear(key); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.ModSave.ErrorZ("save clear failed").String("key", key).Error("err", err).End()
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	log.ModSave.InfoZ("save cleared").String("key", key).End()
	s.writeSaveStatus(w, key)
}

func (s *Server) writeSaveStatus(w http.ResponseWriter, key string) {
	st, err := s.saves.Status(key)
	if err != nil {
		log.ModSave.WarnZ("save status unavailable").String("key", key).Error("err", err).End()
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	encodeSaveStatus(&e, st)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Write(e.Bytes())
}

// romTable holds the ROMs handed to the emulator, by token.
type romTable struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (t *romTable) add(data []byte) string {
	token := rand.Text()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[token] = data
	return token
}

func (t *romTable) get(token string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.m[token]
	return data, ok
}

func (t *romTable) remove(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, token)
}
