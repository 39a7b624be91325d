// Package config holds the dsplay configuration, persisted as TOML in the
// user configuration directory.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kirsle/configdir"

	"dsplay/log"
)

type Config struct {
	ROM      ROMConfig      `toml:"rom"`
	Fetch    FetchConfig    `toml:"fetch"`
	Segments SegmentsConfig `toml:"segments"`
	Boot     BootConfig     `toml:"boot"`
	Store    StoreConfig    `toml:"store"`
	Server   ServerConfig   `toml:"server"`
	Input    InputConfig    `toml:"input"`
}

type ROMConfig struct {
	// DefaultURL is used when no ?rom= override is given. Empty disables
	// the single URL source unless overridden.
	DefaultURL string `toml:"default_url"`

	// ManifestURL locates the local chunk set manifest.
	ManifestURL string `toml:"manifest_url"`

	// SegmentPattern is a printf pattern receiving the segment index,
	// resolved relative to the manifest.
	SegmentPattern string `toml:"segment_pattern"`

	// MinSize is the smallest payload accepted from cache or user files.
	MinSize int `toml:"min_size"`
}

type FetchConfig struct {
	IdleTimeout    Duration `toml:"idle_timeout"`
	PieceSize      int      `toml:"piece_size"`
	LegacyFallback bool     `toml:"legacy_fallback"`
}

type SegmentsConfig struct {
	Parallel int `toml:"parallel"`
}

type BootConfig struct {
	ReadyTimeout Duration `toml:"ready_timeout"`
	LoadFallback Duration `toml:"load_fallback"`
}

type StoreConfig struct {
	// Dir overrides the storage location. Empty selects the persistent
	// location, falling back to the user cache directory.
	Dir string `toml:"dir"`
}

type ServerConfig struct {
	Addr         string `toml:"addr"`
	OpenBrowser  bool   `toml:"open_browser"`
	PlayerURL    string `toml:"player_url"`
	PatchIOSSave bool   `toml:"patch_ios_save"`
}

type InputConfig struct {
	Deadzone        float64           `toml:"deadzone"`
	DiagonalOverlap float64           `toml:"diagonal_overlap"`
	PickRadius      float64           `toml:"pick_radius"`
	Keys            map[string]string `toml:"keys"`
}

// Duration wraps time.Duration so it reads and writes as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

const DefaultFileMode = os.FileMode(0755)

var ConfigDir = sync.OnceValue(func() string {
	dir := configdir.LocalConfig("dsplay")
	if err := configdir.MakePath(dir); err != nil {
		log.ModBoot.Fatalf("failed to create directory %s: %v", dir, err)
	}
	return dir
})

func Default() Config {
	return Config{
		ROM: ROMConfig{
			DefaultURL:     "",
			ManifestURL:    "rom/manifest.json",
			SegmentPattern: "rom.part%03d",
			MinSize:        1024,
		},
		Fetch: FetchConfig{
			IdleTimeout:    Duration{20 * time.Second},
			PieceSize:      64 * 1024,
			LegacyFallback: true,
		},
		Segments: SegmentsConfig{
			Parallel: 6,
		},
		Boot: BootConfig{
			ReadyTimeout: Duration{10 * time.Second},
			LoadFallback: Duration{5 * time.Second},
		},
		Server: ServerConfig{
			Addr:         "localhost:8080",
			OpenBrowser:  true,
			PlayerURL:    "https://cdn.jsdelivr.net/gh/Unzor/desmond/cdn/desmond.min.js",
			PatchIOSSave: true,
		},
		Input: InputConfig{
			Deadzone:        0.12,
			DiagonalOverlap: 10,
			PickRadius:      48,
			Keys: map[string]string{
				"ArrowRight": "right",
				"ArrowLeft":  "left",
				"ArrowDown":  "down",
				"ArrowUp":    "up",
				"ShiftRight": "select",
				"Enter":      "start",
				"KeyZ":       "b",
				"KeyX":       "a",
				"KeyA":       "y",
				"KeyS":       "x",
				"KeyQ":       "l",
				"KeyW":       "r",
			},
		},
	}
}

const cfgFilename = "config.toml"

// LoadOrDefault loads the configuration from the dsplay config directory,
// or provide a default one. Keys missing from the file keep their default.
func LoadOrDefault() Config {
	cfg, err := Load(filepath.Join(ConfigDir(), cfgFilename))
	if err != nil {
		if !os.IsNotExist(err) {
			log.ModBoot.WarnZ("invalid config file, using defaults").Error("err", err).End()
		}
		return Default()
	}
	return cfg
}

// Load decodes the configuration file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save cfg into dsplay config directory.
func Save(cfg Config) error {
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(ConfigDir(), cfgFilename), buf, 0644)
}
