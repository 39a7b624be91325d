package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"

	"github.com/BurntSushi/toml"

	"dsplay/config"
	"dsplay/store"
)

func main() {
	cli, cmd := parseArgs(os.Args[1:])
	cfg := loadConfig(cli)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch strings.Fields(cmd)[0] {
	case "serve":
		checkf(serveMain(ctx, cli.Serve, cfg), "server error")
	case "fetch":
		checkf(fetchMain(ctx, cli.Fetch, cfg), "fetch failed")
	case "split":
		checkf(splitMain(cli.Split, cfg), "split failed")
	case "rom-infos":
		checkf(romInfosMain(cli.RomInfos), "failed to read rom")
	case "cache":
		st, err := store.Open(cfg.Store.Dir)
		checkf(err, "failed to open storage")
		checkf(cacheMain(cmd, st, cfg), "cache error")
	case "config":
		checkf(configMain(cli.Config, cfg), "config error")
	case "version":
		fmt.Println("dsplay", version())
	}
}

// loadConfig returns the configuration with command line overrides applied.
func loadConfig(cli CLI) config.Config {
	cfg := config.LoadOrDefault()
	if cli.ConfigPath != "" {
		var err error
		cfg, err = config.Load(cli.ConfigPath)
		checkf(err, "failed to load configuration %s", cli.ConfigPath)
	}
	if cli.ROM != "" {
		cfg.ROM.DefaultURL = cli.ROM
	}
	return cfg
}

func configMain(args Config, cfg config.Config) error {
	if args.Write {
		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "configuration written to", config.ConfigDir())
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func version() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" {
		return "(devel)"
	}
	return bi.Main.Version
}
