package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/adapter/source"
	"github.com/mmcdole/kinosync/internal/api"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/service"
	"github.com/mmcdole/kinosync/internal/supervisor"
	"github.com/mmcdole/kinosync/internal/writes"
)

type command func(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"serve":       runServe,
	"sync":        runSync,
	"status":      runStatus,
	"next":        runNext,
	"watchlist":   runWatchlist,
	"search":      runSearch,
	"watched":     runWatched(true),
	"unwatched":   runWatched(false),
	"hide":        runHidden(true),
	"unhide":      runHidden(false),
	"clear-cache": runClearCache,
	"reset":       runReset,
}

const apiShutdownTimeout = 5 * time.Second

// newEngine builds the engine for the configured profile.
func newEngine(cfg *adapter.Config, logger *slog.Logger) (*service.Engine, error) {
	account, err := source.NewTraktClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create account client: %w", err)
	}
	return service.New(service.Options{
		Config: cfg,
		Trakt:  account,
		Addon:  source.NewAddonClient(cfg, logger),
		Logger: logger,
	})
}

func newTree(cfg *adapter.Config, logger *slog.Logger, e *service.Engine) *supervisor.Tree {
	tree := supervisor.NewTree(logger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Workers.DrainTimeout + apiShutdownTimeout,
	})
	for _, svc := range e.Services() {
		tree.AddBackground(svc)
	}
	return tree
}

// withEngine runs fn with the background services up, then stops them and
// closes the engine. Queued writes drain before the services stop.
func withEngine(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, fn func(ctx context.Context, e *service.Engine) error) error {
	// One-shot commands sync explicitly
	cfg.Sync.OnStartup = false

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	treeCtx, cancel := context.WithCancel(context.Background())
	done := newTree(cfg, logger, e).ServeBackground(treeCtx)

	runErr := fn(ctx, e)

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("supervisor stopped with error", "error", err)
	}
	if err := e.Close(); err != nil {
		logger.Error("failed to close engine", "error", err)
	}
	return runErr
}

func runServe(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", cfg.API.Listen, "API listen address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	tree := newTree(cfg, logger, e)
	server := &http.Server{
		Addr:              *listen,
		Handler:           api.NewHandler(e, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPI(supervisor.NewHTTPService(server, apiShutdownTimeout))

	printOK("Serving on %s", accentStyle.Render("http://"+*listen))
	fmt.Println(dimStyle.Render("  syncing every " + cfg.Sync.Interval.String() + ", Ctrl+C to stop"))

	logger.Info("serving", "listen", *listen)
	err = tree.Serve(ctx)
	if unstopped, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(unstopped) > 0 {
		logger.Warn("services did not stop in time", "count", len(unstopped))
	}
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runSync(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	force := fs.Bool("force", false, "ignore the clock fetch throttle")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		var report domain.SyncReport
		err := withSpinner("Syncing...", func() error {
			var err error
			report, err = e.SyncNow(ctx, *force)
			return err
		})
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	})
}

func printReport(r domain.SyncReport) {
	switch {
	case r.Skipped:
		fmt.Println(dimStyle.Render("Synced recently, nothing to do (use -force)"))
		return
	case r.Interrupted:
		printFailed("Sync interrupted")
	case len(r.Advanced) == 0:
		printOK("Up to date")
	default:
		printOK("Synced in %s", r.Duration.Round(time.Millisecond))
	}
	for _, t := range r.Tasks {
		if t.Err != nil {
			printFailed("%s: %v", t.Category, t.Err)
			continue
		}
		fmt.Printf("  %s %d items\n", labelStyle.Render(string(t.Category)), t.Count)
	}
}

func runStatus(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		st, err := e.Status(ctx)
		if err != nil {
			return err
		}
		now := time.Now()

		printHeader("Replica")
		printField("Profile", cfg.Profile)
		printField("Shows", st.Shows)
		printField("Episodes", fmt.Sprintf("%d (%d watched)", st.Episodes, st.WatchedEpisodes))
		printField("Movies", fmt.Sprintf("%d (%d watched)", st.Movies, st.WatchedMovies))
		printField("Watchlist", st.Watchlist)
		printField("In progress", st.Bookmarks)
		printField("Hidden", st.Hidden)
		printField("Clock checked", formatAge(now, st.LastClockFetch))

		if len(st.Clocks) > 0 {
			fmt.Println()
			printHeader("Activity")
			categories := make([]string, 0, len(st.Clocks))
			for c := range st.Clocks {
				categories = append(categories, string(c))
			}
			slices.Sort(categories)
			for _, c := range categories {
				printField(c, formatAge(now, st.Clocks[domain.Category(c)]))
			}
		}

		stats := e.CacheStats()
		fmt.Println()
		printHeader("Resource cache")
		printField("Memory", fmt.Sprintf("%d/%d entries", stats.MemoryLen, stats.MemoryCap))
		printField("Hits / misses", fmt.Sprintf("%d / %d", stats.Hits, stats.Misses))
		return nil
	})
}

func runNext(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of shows")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		if fs.NArg() > 0 {
			showID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid show id %q", fs.Arg(0))
			}
			ep, err := e.GetNextUnwatched(ctx, showID)
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Println(dimStyle.Render("Nothing left to watch"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", codeStyle.Render(ep.Code()), ep.Title)
			return nil
		}

		next, err := e.GetNextUp(ctx, *limit)
		if err != nil {
			return err
		}
		if len(next) == 0 {
			fmt.Println(dimStyle.Render("Nothing in progress"))
			return nil
		}
		for _, n := range next {
			mark := unwatchedChar
			if n.Bookmark != nil {
				mark = inProgressChr
			}
			fmt.Printf("%s %s %s %s\n",
				accentStyle.Render(mark),
				codeStyle.Render(n.Episode.Code()),
				titleStyle.Render(n.Show.Title),
				dimStyle.Render(n.Episode.Title))
		}
		return nil
	})
}

func runWatchlist(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	action := "list"
	if len(args) > 0 && (args[0] == "add" || args[0] == "remove" || args[0] == "list") {
		action, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("watchlist", flag.ContinueOnError)
	mediaType := fs.String("type", "", "movie or show")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if action == "list" {
		return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
			items, err := e.GetWatchlist(ctx, domain.MediaType(*mediaType))
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println(dimStyle.Render("Watchlist is empty"))
				return nil
			}
			for _, item := range items {
				title := item.Title
				if title == "" {
					title = item.IMDBID
				}
				fmt.Printf("%-6s %s%s\n", dimStyle.Render(string(item.Type)), titleStyle.Render(title), yearSuffix(item.Year))
			}
			return nil
		})
	}

	if fs.NArg() != 1 || *mediaType == "" {
		return fmt.Errorf("watchlist %s needs -type and one id: %w", action, errUsage)
	}
	target, err := parseTarget(*mediaType, fs.Arg(0))
	if err != nil {
		return err
	}
	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		fn := e.AddToWatchlist
		if action == "remove" {
			fn = e.RemoveFromWatchlist
		}
		p, err := fn(ctx, target)
		if err != nil {
			return err
		}
		return awaitWrite(ctx, p)
	})
}

func runSearch(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	mediaType := fs.String("type", "", "limit to movie, show or episode")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return fmt.Errorf("search needs a query: %w", errUsage)
	}
	var types []domain.MediaType
	if *mediaType != "" {
		types = []domain.MediaType{domain.MediaType(*mediaType)}
	}

	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		results, err := e.Search(ctx, query, types)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println(dimStyle.Render("No matches"))
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s %-6s %s%s %s\n",
				watchedMark(r.Watched),
				dimStyle.Render(string(r.Type)),
				titleStyle.Render(r.Title),
				yearSuffix(r.Year),
				dimStyle.Render(strconv.FormatInt(r.TraktID, 10)))
		}
		return nil
	})
}

func runWatched(watched bool) command {
	return func(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
		fs := flag.NewFlagSet("watched", flag.ContinueOnError)
		scope := fs.String("scope", "", "item, season or show")
		season := fs.Int("season", 0, "season number")
		number := fs.Int("number", 0, "episode number")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if fs.NArg() != 2 {
			return fmt.Errorf("expected <type> <id>: %w", errUsage)
		}
		target, err := parseTarget(fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		target.Season, target.Number = *season, *number

		return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
			fn := e.MarkWatched
			if !watched {
				fn = e.MarkUnwatched
			}
			p, err := fn(ctx, target, domain.Scope(*scope))
			if err != nil {
				return err
			}
			return awaitWrite(ctx, p)
		})
	}
}

func runHidden(hide bool) command {
	return func(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expected one show id: %w", errUsage)
		}
		showID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || showID <= 0 {
			return fmt.Errorf("invalid show id %q", args[0])
		}
		return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
			fn := e.HideFromProgress
			if !hide {
				fn = e.UnhideFromProgress
			}
			p, err := fn(ctx, showID)
			if err != nil {
				return err
			}
			return awaitWrite(ctx, p)
		})
	}
}

func runClearCache(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("clear-cache", flag.ContinueOnError)
	purge := fs.Bool("purge", false, "delete the cache files without opening them")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *purge {
		// Works even when the cache file is too damaged to open
		if err := adapter.ClearCache(cfg); err != nil {
			return err
		}
		printOK("Resource cache files removed")
		return nil
	}

	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		if err := e.ClearCaches(); err != nil {
			return err
		}
		printOK("Resource cache cleared")
		return nil
	})
}

func runReset(ctx context.Context, cfg *adapter.Config, logger *slog.Logger, args []string) error {
	return withEngine(ctx, cfg, logger, func(ctx context.Context, e *service.Engine) error {
		if err := e.ResetReplica(ctx); err != nil {
			return err
		}
		printOK("Replica reset")

		var report domain.SyncReport
		err := withSpinner("Pulling account...", func() error {
			var err error
			report, err = e.SyncNow(ctx, true)
			return err
		})
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	})
}

// awaitWrite blocks until the remote settles p and prints the outcome.
func awaitWrite(ctx context.Context, p *writes.Pending) error {
	var out domain.Outcome
	err := withSpinner("Saving...", func() error {
		var err error
		out, err = p.Wait(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if out.State != domain.MutationConfirmed {
		printFailed("%s rolled back", out.Target)
		return out.Err
	}
	printOK("%s saved", out.Target)
	return nil
}

// parseTarget reads a media type and an id that is either a Trakt id or
// an IMDb id.
func parseTarget(mediaType, id string) (domain.Target, error) {
	t := domain.Target{Type: domain.MediaType(mediaType)}
	switch t.Type {
	case domain.MediaTypeMovie, domain.MediaTypeShow, domain.MediaTypeEpisode:
	default:
		return t, fmt.Errorf("unknown type %q (movie, show or episode)", mediaType)
	}
	if strings.HasPrefix(id, "tt") {
		t.IMDBID = id
		return t, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return t, fmt.Errorf("invalid id %q", id)
	}
	t.TraktID = n
	return t, nil
}

// runSetup prompts for account credentials, checks them and saves the
// config.
func runSetup(ctx context.Context, cfg *adapter.Config, logger *slog.Logger) error {
	fmt.Println()
	fmt.Println(titleStyle.Render("Welcome to kinosync!"))
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label, current string) (string, error) {
		if current != "" {
			fmt.Printf("%s [%s]: ", label, current)
		} else {
			fmt.Printf("%s: ", label)
		}
		input, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if input = strings.TrimSpace(input); input != "" {
			return input, nil
		}
		return current, nil
	}

	var err error
	for cfg.Trakt.ClientID == "" {
		if cfg.Trakt.ClientID, err = prompt("Trakt client ID", cfg.Trakt.ClientID); err != nil {
			return err
		}
	}

	for {
		// Hidden input
		fmt.Print("Access token: ")
		token, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		cfg.Trakt.AccessToken = strings.TrimSpace(string(token))
		if cfg.Trakt.AccessToken == "" {
			fmt.Println("Access token cannot be empty. Please try again.")
			continue
		}

		if err := checkAccount(ctx, cfg, logger); err != nil {
			printFailed("Could not reach the account: %v", err)
			fmt.Println("Please check the token and try again.")
			fmt.Println()
			continue
		}
		printOK("Account verified")
		break
	}

	if cfg.Addon.URL, err = prompt("Add-on URL (optional)", cfg.Addon.URL); err != nil {
		return err
	}

	if err := adapter.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println()
	printOK("Configuration saved!")
	fmt.Println()
	fmt.Println("Run " + accentStyle.Render("kinosync sync") + " to pull your account.")
	return nil
}

func checkAccount(ctx context.Context, cfg *adapter.Config, logger *slog.Logger) error {
	account, err := source.NewTraktClient(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return withSpinner("Checking account...", func() error {
		_, err := account.GetLastActivities(ctx)
		return err
	})
}
