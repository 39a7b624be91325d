// Package acquire turns a ROM available from one of several sources (cache,
// local segment set, URL, user provided file) into a single buffer, with
// progress reporting and transparent caching.
package acquire

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"dsplay/config"
	"dsplay/log"
)

// Stage labels, as shown to the user.
const (
	LabelCache     = "Checking cache…"
	LabelCached    = "Loaded from cache"
	LabelSegments  = "Loading ROM chunks…"
	LabelDownload  = "Downloading…"
	LabelUserFile  = "Waiting for a ROM file…"
	LabelCompleted = "Starting emulator…"
)

// maxFileAttempts bounds how many times the user is asked for a file after
// rejecting one.
const maxFileAttempts = 5

// defaultName names payloads whose source carries no file name.
const defaultName = "game.nds"

// Result is the outcome of a successful acquisition.
type Result struct {
	Data   []byte
	Source Source

	// Key is the cache key of the payload: the resolved key, or the
	// manifest location for payloads assembled from segments.
	Key string

	// Name is the file name of the payload, used to identify homebrew roms.
	Name string
}

// An Orchestrator acquires a payload by trying each source of its plan in
// order.
type Orchestrator struct {
	Fetcher  *Fetcher
	Segments *SegmentLoader
	Cache    Cache        // nil disables caching
	Files    FileSelector // nil disables the user file source

	// DefaultURL is used when Acquire isn't given a URL.
	DefaultURL string

	// ManifestURL locates the segment manifest, empty disables segments.
	ManifestURL string

	// MinSize is the size below which a cached or user provided payload is
	// rejected.
	MinSize int

	// Ready, if not nil, gates acquisition: Acquire waits at most
	// ReadyTimeout for it to fire.
	Ready        *Signal
	ReadyTimeout time.Duration

	// OnProgress receives every progress change.
	OnProgress func(Progress)

	wg sync.WaitGroup
}

// NewOrchestrator returns an Orchestrator configured from cfg.
func NewOrchestrator(cfg config.Config, cache Cache, files FileSelector) *Orchestrator {
	fetcher := NewFetcher(cfg.Fetch)
	return &Orchestrator{
		Fetcher: fetcher,
		Segments: &SegmentLoader{
			Fetcher:  fetcher,
			Pattern:  cfg.ROM.SegmentPattern,
			Parallel: cfg.Segments.Parallel,
		},
		Cache:        cache,
		Files:        files,
		DefaultURL:   cfg.ROM.DefaultURL,
		ManifestURL:  cfg.ROM.ManifestURL,
		MinSize:      cfg.ROM.MinSize,
		ReadyTimeout: cfg.Boot.ReadyTimeout.Duration,
	}
}

// Key returns the cache key of the payload acquired for requested: the
// requested URL, else the default URL, else the manifest location.
func (o *Orchestrator) Key(requested string) string {
	switch {
	case requested != "":
		return requested
	case o.DefaultURL != "":
		return o.DefaultURL
	}
	return o.ManifestURL
}

// Plan returns the ordered list of sources tried for requested.
func (o *Orchestrator) Plan(requested string) []Source {
	var plan []Source
	key := o.Key(requested)
	if o.Cache != nil && key != "" {
		plan = append(plan, Source{Kind: Cached, URL: key})
	}
	if o.ManifestURL != "" && o.Segments != nil {
		plan = append(plan, Source{Kind: Segmented, URL: o.ManifestURL})
	}
	if u := cmp.Or(requested, o.DefaultURL); u != "" {
		plan = append(plan, Source{Kind: SingleURL, URL: u})
	}
	if o.Files != nil {
		plan = append(plan, Source{Kind: UserFile})
	}
	return plan
}

// Acquire returns the payload for requested (a URL, or empty to use the
// default). Sources are tried in plan order, the first success wins.
//
// Missing and failing sources are skipped. Only a timeout, cancellation of
// ctx, or the exhaustion of all sources make Acquire fail.
//
// After a success from any source but the cache, the payload is written to
// the cache in the background. Wait blocks until that write is done.
func (o *Orchestrator) Acquire(ctx context.Context, requested string) (*Result, error) {
	if o.Ready != nil {
		log.ModBoot.DebugZ("waiting for emulator runtime").Duration("timeout", o.ReadyTimeout).End()
		if err := o.Ready.Wait(ctx, o.ReadyTimeout); err != nil {
			return nil, err
		}
	}

	meter := NewMeter(o.OnProgress)
	key := o.Key(requested)

	var lastErr error
	for _, src := range o.Plan(requested) {
		res, err := o.try(ctx, src, meter)
		switch {
		case err == nil:
			res.Source = src
			res.Key = cacheKey(src, key)
			log.ModBoot.InfoZ("ROM acquired").
				Stringer("source", src).
				Int("size", len(res.Data)).
				End()

			meter.Complete(int64(len(res.Data)), "")
			if src.Kind != Cached {
				o.store(res.Key, res.Data)
			}
			return res, nil

		case ctx.Err() != nil:
			return nil, ctx.Err()

		case errors.Is(err, ErrNotAvailable):
			log.ModBoot.DebugZ("source not available").Stringer("source", src).End()

		case errors.Is(err, ErrTimeout):
			return nil, fmt.Errorf("%s: %w", src.Kind, err)

		default:
			log.ModBoot.WarnZ("source failed").Stringer("source", src).Error("err", err).End()
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

func (o *Orchestrator) try(ctx context.Context, src Source, meter *Meter) (*Result, error) {
	switch src.Kind {
	case Cached:
		meter.Stage(LabelCache)
		data, ok := o.Cache.Get(src.URL)
		if !ok {
			return nil, ErrNotAvailable
		}
		if len(data) < o.MinSize {
			return nil, ErrNotAvailable
		}
		meter.Complete(int64(len(data)), LabelCached)
		return &Result{Data: data, Name: baseName(src.URL)}, nil

	case Segmented:
		meter.Stage(LabelSegments)
		data, err := o.Segments.Load(ctx, src.URL, meter)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Name: defaultName}, nil

	case SingleURL:
		meter.Stage(LabelDownload)
		data, err := o.Fetcher.Fetch(ctx, src.URL, meter.Update)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Name: baseName(src.URL)}, nil

	case UserFile:
		meter.Stage(LabelUserFile)
		return o.selectFile(ctx, meter)
	}
	return nil, fmt.Errorf("unknown source kind %d", src.Kind)
}

// selectFile asks the user for a file until one of plausible size is given.
func (o *Orchestrator) selectFile(ctx context.Context, meter *Meter) (*Result, error) {
	var rejected error
	for range maxFileAttempts {
		name, data, err := o.Files.SelectFile(ctx, rejected)
		if err != nil {
			return nil, err
		}
		if len(data) >= o.MinSize {
			meter.Complete(int64(len(data)), "")
			return &Result{Data: data, Name: name}, nil
		}

		rejected = fmt.Errorf("%s: %d bytes is too small for a ROM: %w", name, len(data), ErrValidation)
		log.ModBoot.WarnZ("rejected user file").Error("err", rejected).End()
	}
	return nil, rejected
}

// cacheKey returns the key a payload from src is cached under. Payloads
// assembled from segments are cached under their manifest location, never
// under a requested URL.
func cacheKey(src Source, key string) string {
	if src.Kind == Segmented {
		return src.URL
	}
	return key
}

// store writes data to the cache in the background. Failures are logged and
// otherwise ignored.
func (o *Orchestrator) store(key string, data []byte) {
	if o.Cache == nil || key == "" {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Cache.Put(key, data); err != nil {
			log.ModCache.WarnZ("failed to cache ROM").String("key", key).Error("err", fmt.Errorf("%w: %w", ErrStorage, err)).End()
			return
		}
		log.ModCache.DebugZ("ROM cached").String("key", key).Int("size", len(data)).End()
	}()
}

// Wait blocks until pending cache writes are done.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func baseName(rawurl string) string {
	p := rawurl
	if u, err := url.Parse(rawurl); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return defaultName
	}
	return name
}
