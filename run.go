package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/afero"
	"github.com/sqweek/dialog"

	"dsplay/acquire"
	"dsplay/config"
	"dsplay/log"
	"dsplay/nds"
	"dsplay/romfile"
	"dsplay/store"
	"dsplay/web"
)

// serveMain serves the player page until ctx is done.
func serveMain(ctx context.Context, args Serve, cfg config.Config) error {
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}
	if args.NoBrowser {
		cfg.Server.OpenBrowser = false
	}

	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	srv, err := web.NewServer(cfg, st, nil)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx, func(url string) {
		fmt.Println("player page at", url)
		if !cfg.Server.OpenBrowser {
			return
		}
		if err := open.Run(url); err != nil {
			log.ModWeb.WarnZ("failed to open browser").Error("err", err).End()
		}
	})
}

// fetchMain acquires a ROM without the player page, the user file source
// being a native file dialog.
func fetchMain(ctx context.Context, args Fetch, cfg config.Config) error {
	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return err
	}

	var files acquire.FileSelector
	if !args.NoDialog {
		files = dialogSelector{fs: afero.NewOsFs()}
	}

	o := acquire.NewOrchestrator(cfg, store.NewCache(st, cfg.ROM.MinSize), files)
	pl := &progressLine{}
	o.OnProgress = pl.update

	res, err := o.Acquire(ctx, "")
	pl.end()
	if err != nil {
		return err
	}
	o.Wait()

	if err := os.WriteFile(args.Out, res.Data, 0644); err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes from %s, game %q\n", args.Out, len(res.Data), res.Source, nds.GameID(res.Data, res.Name))
	return nil
}

// progressLine prints the acquisition progress on a single terminal line.
type progressLine struct {
	last string
}

func (pl *progressLine) update(p acquire.Progress) {
	s := p.String()
	if s == pl.last {
		return
	}
	pl.last = s
	fmt.Fprintf(os.Stderr, "\r\033[K%s", s)
}

func (pl *progressLine) end() {
	if pl.last != "" {
		fmt.Fprintln(os.Stderr)
	}
}

// dialogSelector asks for a ROM with the native file dialog.
type dialogSelector struct {
	fs afero.Fs
}

func (ds dialogSelector) SelectFile(ctx context.Context, rejected error) (string, []byte, error) {
	if rejected != nil {
		dialog.Message("%s", rejected).Title("Invalid ROM").Error()
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		path, err := dialog.File().
			Title("Select a Nintendo DS ROM").
			Filter("Nintendo DS ROM", "nds", "zip", "7z", "rar", "gz").
			Load()
		if err != nil {
			if errors.Is(err, dialog.ErrCancelled) {
				return "", nil, fmt.Errorf("file selection cancelled: %w", acquire.ErrNotAvailable)
			}
			return "", nil, err
		}

		data, name, err := romfile.Load(ds.fs, path)
		if err != nil {
			log.ModBoot.WarnZ("unreadable user file").String("path", path).Error("err", err).End()
			dialog.Message("%s: %s", filepath.Base(path), err).Title("Invalid ROM").Error()
			continue
		}
		return name, data, nil
	}
}

func romInfosMain(args RomInfos) error {
	if strings.EqualFold(filepath.Ext(args.RomPath), ".nds") {
		hdr, err := nds.Open(args.RomPath)
		if err != nil {
			return err
		}
		hdr.PrintInfos(os.Stdout)
		return nil
	}

	// Archived rom.
	data, name, err := romfile.Load(afero.NewOsFs(), args.RomPath)
	if err != nil {
		return err
	}
	hdr, err := nds.ParseHeader(data)
	if err != nil {
		return err
	}
	fmt.Printf("file:      %s\n", name)
	hdr.PrintInfos(os.Stdout)
	return nil
}

func cacheMain(cmd string, st *store.Store, cfg config.Config) error {
	cache := store.NewCache(st, cfg.ROM.MinSize)

	switch cmd {
	case "cache clear":
		if err := cache.Clear(); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	}

	infos, err := cache.List()
	if err != nil {
		return err
	}
	fmt.Println("storage:", st.Dir(), persistence(st))

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer tw.Flush()
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\n", info.Key, acquire.FormatMB(info.Size))
	}
	return nil
}

func persistence(st *store.Store) string {
	if st.Persistent() {
		return "(persistent)"
	}
	return "(may be evicted)"
}
