package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"dsplay/log"
)

type (
	CLI struct {
		Serve    Serve    `cmd:"" help:"Serve the player page. (default command)" default:"true"`
		Fetch    Fetch    `cmd:"" help:"Acquire a ROM the way the player does and write it to a file."`
		Split    Split    `cmd:"" help:"Split a ROM into a segment manifest and its segment files."`
		RomInfos RomInfos `cmd:"" help:"Show ROM infos." name:"rom-infos"`
		Cache    Cache    `cmd:"" help:"Manage the ROM cache."`
		Config   Config   `cmd:"" help:"Show the effective configuration."`
		Version  Version  `cmd:"" help:"Show dsplay version."`

		Log        logModMask `help:"${log_help}" placeholder:"mod0,mod1,..."`
		ConfigPath string     `name:"config" help:"${config_help}" type:"existingfile" placeholder:"FILE"`
		ROM        string     `name:"rom" help:"${rom_help}" placeholder:"URL"`
	}

	Serve struct {
		Addr      string `name:"addr" help:"Listen address, overrides the configuration."`
		NoBrowser bool   `name:"no-browser" help:"Don't open the player page in the browser."`
	}

	Fetch struct {
		Out      string `name:"out" short:"o" help:"Output file." default:"game.nds" type:"path"`
		NoDialog bool   `name:"no-dialog" help:"Never ask for a local file."`
	}

	Split struct {
		RomPath  string `arg:"" name:"/path/to/rom" help:"ROM or archive to split." type:"existingfile"`
		OutDir   string `name:"out" short:"o" help:"Output directory." default:"rom" type:"path"`
		Segments int    `name:"segments" short:"n" help:"Number of segments." default:"8"`
	}

	RomInfos struct {
		RomPath string `arg:"" name:"/path/to/rom" type:"existingfile"`
	}

	Cache struct {
		List  CacheList  `cmd:"" help:"List cached ROMs." default:"1"`
		Clear CacheClear `cmd:"" help:"Remove all cached ROMs."`
	}

	CacheList  struct{}
	CacheClear struct{}

	Config struct {
		Write bool `name:"write" help:"Write the configuration file to the config directory."`
	}

	Version struct{}
)

var vars = kong.Vars{
	"log_help":    "Enable logging for specified modules.",
	"config_help": "Configuration file to use instead of the one in the config directory.",
	"rom_help":    "ROM URL, overrides the configured default.",
}

func parseArgs(args []string) (CLI, string) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("dsplay"),
		kong.Description("Nintendo DS player host."),
		kong.UsageOnError(),
		kong.Help(printHelp),
		vars)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args)
	checkf(err, "failed to parse command line")
	checkf(ctx.Error, "failed to parse command line")
	return cli, ctx.Command()
}

func printHelp(options kong.HelpOptions, ctx *kong.Context) error {
	if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
		return err
	}
	if ctx.Command() == "" || strings.HasPrefix(ctx.Command(), "serve") {
		loggingHelp := `
Log modules:
  The --log flag accepts a comma-separated list of modules.

  Valid log modules are:
%s

  As a special case, the following values are accepted:
    - no                     Disable all logging.
    - all                    Enable all logs.
`
		var strs []string
		for _, m := range log.ModuleNames() {
			strs = append(strs, "    - "+m)
		}

		fmt.Fprintf(os.Stderr, loggingHelp, strings.Join(strs, "\n"))
	}

	return nil
}

type logModMask log.ModuleMask

// Decode decodes a comma-separated list of module names into a module mask.
//
// Implements kong.MapperValue interface.
func (lm logModMask) Decode(ctx *kong.DecodeContext) error {
	nolog := false
	allLogs := false

	tok := ctx.Scan.Pop()
	for _, v := range strings.Split(tok.Value.(string), ",") {
		switch v {
		case "all":
			allLogs = true
		case "no":
			nolog = true
		default:
			mod, ok := log.ModuleByName(v)
			if !ok {
				return fmt.Errorf("unknown log module %s", v)
			}
			lm |= logModMask(mod.Mask())
		}
	}

	if nolog {
		if allLogs {
			return fmt.Errorf("cannot use 'all' and 'no' together")
		}
		if lm != 0 {
			return fmt.Errorf("cannot combine 'no' with other log modules")
		}
		log.Disable()
		return nil
	}

	if allLogs {
		lm = logModMask(log.ModuleMaskAll)
	}

	log.EnableDebugModules(log.ModuleMask(lm))
	return nil
}

func checkf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	fatalf(format+".\n"+err.Error(), args...)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal error:")
	fmt.Fprintf(os.Stderr, "\n\t%s\n", fmt.Sprintf(format, args...))
	os.Exit(1)
}
