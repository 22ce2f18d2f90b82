package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/mmcdole/kinosync/internal/adapter"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `kinosync keeps a local replica of a Trakt account in sync.

Usage:
  kinosync [flags] <command> [args]

Commands:
  serve                      run background sync and the local API
  sync [-force]              pull account changes now
  status                     show replica counts and activity clocks
  next [-limit N] [show]     list next-up episodes, or the next one of a show
  watchlist [-type T]        list the watchlist
  watchlist add|remove <id>  change the watchlist (-type movie|show)
  search [-type T] <query>   search the replica
  watched <type> <id>        mark watched (-scope item|season|show, -season, -number)
  unwatched <type> <id>      clear watched state
  hide|unhide <show>         hide or unhide a show from progress
  clear-cache [-purge]       drop every cached add-on resource
  reset                      wipe the replica and pull everything again
  setup                      store account credentials

Ids are Trakt ids or IMDb ids (tt...).

Flags:
`

var errUsage = errors.New("usage")

func main() {
	var (
		showVersion bool
		configDir   string
		profile     string
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configDir, "config", "", "directory holding config.yaml")
	flag.StringVar(&profile, "profile", "", "override the configured profile")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("kinosync %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, configDir, profile, flag.Arg(0), flag.Args()[1:])
	stop()
	if errors.Is(err, errUsage) {
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, profile, command string, args []string) error {
	// Load configuration
	cfg, err := loadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if profile != "" {
		cfg.Profile = profile
	}

	// Setup logger
	logger, err := adapter.SetupLogger(&cfg.Logging, "profile", cfg.Profile, "version", Version)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting kinosync", "command", command)

	if command == "setup" {
		return runSetup(ctx, cfg, logger)
	}
	if !cfg.IsConfigured() {
		fmt.Println("kinosync is not configured yet.")
		return runSetup(ctx, cfg, logger)
	}

	cmd, ok := commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
	return cmd(ctx, cfg, logger, args)
}

func loadConfig(dir string) (*adapter.Config, error) {
	if dir == "" {
		return adapter.LoadConfig()
	}
	return adapter.LoadConfigFrom(viper.New(), adapter.ExpandPath(dir))
}
