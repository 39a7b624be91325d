package web

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"dsplay/acquire"
	"dsplay/log"
	"dsplay/store"
)

// iosSaveGuard is the condition under which the emulator disables battery
// saves on iOS, unless running as a home screen web app.
const iosSaveGuard = "isIOS&&!isWebApp"

// A Player provides the emulator script. The script is downloaded once,
// then served from the store.
type Player struct {
	URL string

	// PatchIOSSave enables saves on iOS browsers.
	PatchIOSSave bool

	fetcher *acquire.Fetcher
	bucket  *store.Bucket

	mu     sync.Mutex
	script []byte
}

func newPlayer(url string, patch bool, fetcher *acquire.Fetcher, bucket *store.Bucket) *Player {
	return &Player{
		URL:          url,
		PatchIOSSave: patch,
		fetcher:      fetcher,
		bucket:       bucket,
	}
}

// Script returns the, possibly patched, emulator script.
func (p *Player) Script(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.script != nil {
		return p.script, nil
	}

	src, err := p.bucket.Get(p.URL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.ModWeb.WarnZ("stored player script unreadable").Error("err", err).End()
		}
		if src, err = p.fetcher.Fetch(ctx, p.URL, nil); err != nil {
			return nil, err
		}
		if err := p.bucket.Put(p.URL, src); err != nil {
			log.ModWeb.WarnZ("failed to store player script").Error("err", err).End()
		}
		log.ModWeb.InfoZ("player script downloaded").String("url", p.URL).Int("size", len(src)).End()
	}

	if p.PatchIOSSave {
		src = patchIOSSave(src)
	}
	p.script = src
	return src, nil
}

func patchIOSSave(src []byte) []byte {
	n := bytes.Count(src, []byte(iosSaveGuard))
	if n == 0 {
		log.ModWeb.WarnZ("iOS save guard not found in player script").End()
		return src
	}
	log.ModWeb.DebugZ("patched iOS save guard").Int("count", n).End()
	return bytes.ReplaceAll(src, []byte(iosSaveGuard), []byte("false"))
}
