package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dsplay/acquire"
	"dsplay/input"
	"dsplay/layout"
	"dsplay/log"
	"dsplay/nds"
	"dsplay/romfile"
)

// progressInterval throttles progress messages. Stage changes and
// completion are always sent.
const progressInterval = 100 * time.Millisecond

// An upload is a file given by the user through the page.
type upload struct {
	name string
	data []byte
}

// A session is the lifetime of a page connected to the server: one ROM
// acquisition, one emulator run.
type session struct {
	id   string
	srv  *Server
	sock *Socket

	mapper *input.Mapper
	ready  *acquire.Signal // emulator runtime initialized
	loaded *acquire.Signal // emulator started the ROM
	files  chan upload

	ctx    context.Context
	cancel context.CancelFunc

	handlers map[string]func(message) error

	mu        sync.Mutex
	booting   bool
	placement layout.Placement
	game      game
	token     string

	lastProgress struct {
		t     time.Time
		label string
	}

	postLoad sync.Once
	wg       sync.WaitGroup
}

func newSession(srv *Server, id string, sock *Socket, mapper *input.Mapper) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     id,
		srv:    srv,
		sock:   sock,
		mapper: mapper,
		ready:  acquire.NewSignal("emulator runtime"),
		loaded: acquire.NewSignal("emulator load callback"),
		files:  make(chan upload, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.handlers = map[string]func(message) error{
		"hello":  s.handleHello,
		"ready":  s.handleReady,
		"loaded": s.handleLoaded,
		"layout": s.handleLayout,
		"touch":  s.handleTouch,
		"key":    s.handleKey,
	}
	return s
}

// drive processes the page messages until the connection ends.
func (s *session) drive() error {
	defer s.close()

	s.send(sessionEvent(s.id, s.srv.store.Persistent()))

	for {
		buf, err := s.sock.read()
		if err != nil {
			if isClosed(err) || s.ctx.Err() != nil {
				return nil
			}
			return err
		}

		msg, err := decodeMessage(buf)
		if err != nil {
			log.ModWeb.WarnZ("malformed page message").Error("err", err).End()
			continue
		}

		log.ModWeb.DebugZ("page message").String("session", s.id).String("event", msg.Event).End()

		handler, ok := s.handlers[msg.Event]
		if !ok {
			log.ModWeb.WarnZ("unknown page event").String("event", msg.Event).End()
			continue
		}
		if err := handler(msg); err != nil {
			log.ModWeb.ErrorZ("error handling page event").
				String("event", msg.Event).
				Error("err", err).
				End()
		}
	}
}

func (s *session) close() {
	s.cancel()
	s.sock.Close()
	s.wg.Wait()

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		s.srv.roms.remove(token)
	}
	s.srv.removeSession(s.id)
	log.ModWeb.DebugZ("session closed").String("session", s.id).End()
}

func (s *session) send(msg []byte) {
	s.sock.Send(msg)
}

func (s *session) handleHello(m message) error {
	rom, err := decodeHello(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.booting {
		s.mu.Unlock()
		return errors.New("session already booted")
	}
	s.booting = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.boot(rom)
	}()
	return nil
}

func (s *session) handleReady(message) error {
	s.ready.Fire()
	return nil
}

func (s *session) handleLoaded(message) error {
	s.loaded.Fire()
	return nil
}

func (s *session) handleLayout(m message) error {
	pl, err := decodeLayout(m)
	if err != nil {
		return err
	}

	placement := layout.SideBySide(pl.Width, pl.Height)
	zones := pl.Zones
	zones.Screen = placement.Bottom
	s.mapper.SetLayout(zones)

	s.mu.Lock()
	s.placement = placement
	s.mu.Unlock()

	s.send(screensEvent(placement))
	return nil
}

func (s *session) handleTouch(m message) error {
	pts, err := decodeTouch(m)
	if err != nil {
		return err
	}
	s.send(inputEvent(s.mapper.Map(pts)))
	return nil
}

func (s *session) handleKey(m message) error {
	ev, err := decodeKey(m)
	if err != nil {
		return err
	}
	f := s.mapper.Key(ev.Code, ev.Down)
	if len(f.Transitions) > 0 || f.PreventDefault {
		s.send(inputEvent(f))
	}
	return nil
}

// boot acquires the ROM, hands it to the page and waits for the emulator to
// start it.
func (s *session) boot(requested string) {
	o := s.srv.orchestrator(s)
	res, err := o.Acquire(s.ctx, requested)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.ModBoot.ErrorZ("boot failed").String("session", s.id).Error("err", err).End()
		s.send(statusEvent(errorText(err), true))
		return
	}

	if _, err := nds.ParseHeader(res.Data); err != nil {
		log.ModBoot.WarnZ("payload has no rom header").Error("err", err).End()
	}

	g := game{
		Name: res.Name,
		ID:   nds.GameID(res.Data, res.Name),
	}
	g.SaveKey = nds.SaveKey(g.ID)
	token := s.srv.roms.add(res.Data)
	g.URL = "/rom/" + token

	s.mu.Lock()
	s.game = g
	s.token = token
	s.mu.Unlock()

	log.ModBoot.InfoZ("handing ROM to emulator").
		String("game", g.ID).
		String("save", g.SaveKey).
		Stringer("source", res.Source).
		End()

	s.send(statusEvent(acquire.LabelCompleted, false))
	s.send(loadEvent(g))

	err = s.loaded.Wait(s.ctx, s.srv.cfg.Boot.LoadFallback.Duration)
	switch {
	case errors.Is(err, acquire.ErrTimeout):
		log.ModBoot.WarnZ("no load callback, forcing post-load actions").Error("err", err).End()
	case err != nil:
		return
	}
	s.afterLoad()

	// Flush the cache write before the session can be torn down.
	o.Wait()
}

// afterLoad runs the post-load actions, once.
func (s *session) afterLoad() {
	s.postLoad.Do(func() {
		s.mu.Lock()
		placement := s.placement
		key := s.game.SaveKey
		s.mu.Unlock()

		if placement.Scale > 0 {
			s.send(screensEvent(placement))
		}
		if st, err := s.srv.saves.Status(key); err == nil {
			s.send(saveEvent(st))
		} else {
			log.ModSave.WarnZ("save status unavailable").String("key", key).Error("err", err).End()
		}
		loaded := s.loaded.Fired()
		log.ModBoot.DebugZ("post-load actions done").Bool("callback", loaded).End()
		s.send(doneEvent(loaded))
	})
}

// onProgress forwards p to the page, throttled.
func (s *session) onProgress(p acquire.Progress) {
	now := time.Now()
	s.mu.Lock()
	last := s.lastProgress
	complete := !p.Indeterminate() && p.Received >= p.Total
	if p.Label == last.label && !complete && now.Sub(last.t) < progressInterval {
		s.mu.Unlock()
		return
	}
	s.lastProgress.t = now
	s.lastProgress.label = p.Label
	s.mu.Unlock()

	s.send(progressEvent(p))
}

// SelectFile asks the page for a file and waits until the user provides one.
// Archives are unpacked, unreadable files are refused and the user asked
// again.
func (s *session) SelectFile(ctx context.Context, rejected error) (string, []byte, error) {
	reason := ""
	if rejected != nil {
		reason = rejected.Error()
	}

	for {
		s.send(selectFileEvent(reason))

		select {
		case up := <-s.files:
			data, name, err := romfile.Decode(up.name, up.data)
			if err != nil {
				log.ModBoot.WarnZ("unreadable user file").String("name", up.name).Error("err", err).End()
				reason = err.Error()
				continue
			}
			return name, data, nil
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-s.sock.Closed():
			return "", nil, fmt.Errorf("page closed: %w", acquire.ErrNotAvailable)
		}
	}
}

// deliver hands a user uploaded file to the session. It reports false if a
// file is already pending.
func (s *session) deliver(up upload) bool {
	select {
	case s.files <- up:
		return true
	default:
		return false
	}
}
