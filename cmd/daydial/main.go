// daydial is the command-line front end of the day planner's sync core. It
// keeps the event collection in a local SQLite store and, with cloud sync
// enabled, reconciles it with the account's remote events using
// last-write-wins conflict resolution.
//
// Usage:
//
//	daydial init                          # interactive first-run wizard
//	daydial add [flags] <title...>        # plan an event
//	daydial list [--date YYYY-MM-DD|--all]
//	daydial done <id>                     # mark an event completed
//	daydial rm <id>                       # delete an event
//	daydial sync-once [--config <path>]   # single full sync then exit
//	daydial daemon [--config <path>]      # sync on a schedule until stopped
//	daydial migrate [--clear]             # upload local events to the cloud
//	daydial status                        # show config and sync state
//	daydial clear [--remote] [--yes]      # delete all events
//	daydial version                       # print version
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
	"time"

	"go.opentelemetry.io/otel/log/global"

	"github.com/njoerd114/daydial/internal/auth"
	"github.com/njoerd114/daydial/internal/cloud"
	"github.com/njoerd114/daydial/internal/config"
	"github.com/njoerd114/daydial/internal/model"
	"github.com/njoerd114/daydial/internal/planner"
	"github.com/njoerd114/daydial/internal/setup"
	"github.com/njoerd114/daydial/internal/state"
	syncp "github.com/njoerd114/daydial/internal/sync"
	"github.com/njoerd114/daydial/internal/telemetry"
	"github.com/njoerd114/daydial/internal/widget"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init", "setup":
		return runInit(args)
	case "add":
		return runAdd(args)
	case "list", "ls":
		return runList(args)
	case "done":
		return runDone(args)
	case "rm":
		return runRemove(args)
	case "daemon":
		return runSync(args, true)
	case "sync-once":
		return runSync(args, false)
	case "migrate":
		return runMigrate(args)
	case "status":
		return runStatus(args)
	case "clear":
		return runClear(args)
	case "version":
		fmt.Println("daydial", version)
		return nil
	}

	return fmt.Errorf("unknown command %q, run 'daydial' for usage", cmd)
}

// printUsage shows help and suggests init if no config exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "daydial · plan your day, in sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  daydial init                          Interactive first-run wizard")
	fmt.Fprintln(os.Stderr, "  daydial add [flags] <title...>        Plan an event")
	fmt.Fprintln(os.Stderr, "  daydial list [--date D | --all]       Show events")
	fmt.Fprintln(os.Stderr, "  daydial done <id>                     Mark an event completed")
	fmt.Fprintln(os.Stderr, "  daydial rm <id>                       Delete an event")
	fmt.Fprintln(os.Stderr, "  daydial sync-once                     Single full sync then exit")
	fmt.Fprintln(os.Stderr, "  daydial daemon                        Sync on a schedule until stopped")
	fmt.Fprintln(os.Stderr, "  daydial migrate [--clear]             Upload local events to the cloud")
	fmt.Fprintln(os.Stderr, "  daydial status                        Show config and sync state")
	fmt.Fprintln(os.Stderr, "  daydial clear [--remote] [--yes]      Delete all events")
	fmt.Fprintln(os.Stderr, "  daydial version                       Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Every command accepts --config <path> and --verbose.")

	if cfgErr != nil {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "No config file found. Run 'daydial init' to get started.")
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Shared wiring -----------------------------------------------------------

// commonFlags registers the flags every command accepts.
type commonFlags struct {
	config  *string
	verbose *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	return fs, commonFlags{
		config:  fs.String("config", defaultCfg, "path to config.yaml"),
		verbose: fs.Bool("verbose", false, "enable debug logging"),
	}
}

// app holds the components built from the config file.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *state.Store
	session *auth.Session
	orch    *syncp.Orchestrator // nil when cloud sync is off
	planner *planner.Service

	closers []func()
}

// openApp loads the config and wires the store, the cloud client and the
// planner. Call close when done.
func openApp(ctx context.Context, flags commonFlags, level slog.Level) (*app, error) {
	if *flags.verbose {
		level = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(text)
	slog.SetDefault(logger)

	cfg, err := config.Load(*flags.config)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w\n\nRun 'daydial init' to create one", *flags.config, err)
	}

	a := &app{cfg: cfg}

	// --- Telemetry (optional) --------------------------------------------

	if telCfg, ok := telemetry.FromConfig(cfg.Telemetry, version); ok {
		shutdownTel, err := telemetry.Setup(ctx, telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}
	logger = slog.New(telemetry.NewHandler(text, global.GetLoggerProvider(), "daydial"))
	slog.SetDefault(logger)
	a.logger = logger

	// --- State DB ----------------------------------------------------------

	dbPath := cfg.StatePath
	if dbPath == "" {
		if dbPath, err = state.DefaultDBPath(); err != nil {
			a.close()
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	storeOpts := []state.Option{state.WithLogger(logger), state.WithLocation(cfg.Location())}
	if cfg.WidgetPath != "" {
		storeOpts = append(storeOpts, state.WithPublisher(widget.NewFilePublisher(cfg.WidgetPath)))
	}
	store, err := state.Open(ctx, dbPath, storeOpts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	})
	logger.Debug("state DB opened", "path", dbPath)

	// --- Cloud -------------------------------------------------------------

	var remote planner.Remote
	if cfg.CloudSync {
		a.session = auth.NewSession(cfg.Token, cfg.TokenFile)
		client := cloud.NewClient(cfg.APIURL, a.session, cloud.WithLogger(logger))
		a.orch = syncp.NewOrchestrator(client, store, a.session, logger)
		remote = a.orch
	}

	a.planner = planner.NewService(store, remote, logger, planner.WithLocation(cfg.Location()))
	a.closers = append(a.closers, a.planner.Wait)
	return a, nil
}

// close runs the closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) requireCloud() error {
	if a.orch == nil {
		return errors.New("cloud sync is disabled, set cloud_sync: true in the config file")
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// --- Subcommands -------------------------------------------------------------

// runInit launches the interactive setup wizard.
func runInit(args []string) error {
	fs, flags := newFlagSet("init")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if *flags.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	ctx, stop := signalContext()
	defer stop()

	return setup.NewWizard(os.Stdin, os.Stdout, logger, *flags.config).Run(ctx)
}

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs, flags := newFlagSet("sync")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, flags, slog.LevelInfo)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireCloud(); err != nil {
		return err
	}

	schedule, err := syncp.ParseSchedule(a.cfg.Schedule, a.cfg.PollInterval)
	if err != nil {
		return err
	}
	engine := syncp.NewEngine(a.orch, a.store, schedule, a.logger)

	if !daemon {
		a.logger.Info("running single sync pass")
		_, err := engine.RunOnce(ctx)
		if errors.Is(err, syncp.ErrNotAuthenticated) {
			return fmt.Errorf("%w\n\nSign in again and update token or token_file", err)
		}
		return err
	}

	if a.cfg.Schedule != "" {
		a.logger.Info("daemon starting", "schedule", a.cfg.Schedule)
	} else {
		a.logger.Info("daemon starting", "poll_interval", a.cfg.PollInterval)
	}

	// SIGHUP requests an immediate sync.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.logger.Info("sync requested")
				engine.Trigger()
			}
		}
	}()

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// runMigrate uploads the local collection in one batch.
func runMigrate(args []string) error {
	fs, flags := newFlagSet("migrate")
	clearExisting := fs.Bool("clear", false, "replace the account's remote events with the local ones")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireCloud(); err != nil {
		return err
	}

	migration := syncp.NewMigration(a.orch, a.store, a.logger, os.Stdin, os.Stdout)
	ran, err := migration.Run(ctx, *clearExisting)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if ran {
		fmt.Println("✓ Local events uploaded.")
	}
	return nil
}

// runStatus prints the configuration and sync state.
func runStatus(args []string) error {
	fs, flags := newFlagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("daydial status")
	fmt.Println("──────────────")

	if _, err := os.Stat(*flags.config); err != nil {
		fmt.Printf("  Config:     not found (%s)\n", *flags.config)
		return nil
	}

	ctx := context.Background()
	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		fmt.Printf("  Config:     %s (invalid: %v)\n", *flags.config, err)
		return nil
	}
	defer a.close()

	fmt.Printf("  Config:     %s ✓\n", *flags.config)
	if a.cfg.CloudSync {
		fmt.Printf("  Cloud:      %s\n", a.cfg.APIURL)
		if info, err := a.session.Info(ctx); err != nil {
			fmt.Printf("  Session:    %v\n", err)
		} else if info.Email != "" {
			fmt.Printf("  Session:    %s\n", info.Email)
		} else {
			fmt.Printf("  Session:    token present\n")
		}
		if a.cfg.Schedule != "" {
			fmt.Printf("  Schedule:   %s\n", a.cfg.Schedule)
		} else {
			fmt.Printf("  Poll:       %s\n", a.cfg.PollInterval)
		}
	} else {
		fmt.Printf("  Cloud:      off (local only)\n")
	}

	size, err := a.store.Size(ctx)
	if err != nil {
		fmt.Printf("  State DB:   unreadable (%v)\n", err)
	} else {
		fmt.Printf("  State DB:   %s\n", humanSize(size))
	}

	events := a.planner.All(ctx)
	pending := 0
	for _, e := range events {
		if e.SyncStatus == model.StatusPending {
			pending++
		}
	}
	fmt.Printf("  Events:     %d (%d pending)\n", len(events), pending)

	if last, err := a.store.LastSync(ctx); err == nil && !last.IsZero() {
		fmt.Printf("  Last sync:  %s\n", last.Local().Format(time.DateTime))
	} else {
		fmt.Printf("  Last sync:  never\n")
	}
	if msg, err := a.store.LastSyncError(ctx); err == nil && msg != "" {
		fmt.Printf("  Last sync failed: %s\n", msg)
	}
	if a.cfg.WidgetPath != "" {
		fmt.Printf("  Widget:     %s\n", a.cfg.WidgetPath)
	}
	return nil
}

// runClear deletes every local event and, with --remote, every remote one.
func runClear(args []string) error {
	fs, flags := newFlagSet("clear")
	remote := fs.Bool("remote", false, "also delete all events of the cloud account")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, flags, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.close()
	if *remote {
		if err := a.requireCloud(); err != nil {
			return err
		}
	}

	if !*yes {
		what := "all local events"
		if *remote {
			what = "all local AND cloud events"
		}
		if !setup.NewPrompter(os.Stdin, os.Stdout).Confirm("Delete "+what+"?", false) {
			fmt.Println("Nothing deleted.")
			return nil
		}
	}

	if *remote {
		if err := a.orch.DeleteAllRemote(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Cloud events deleted.")
	}
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing local events: %w", err)
	}
	fmt.Println("✓ Local events deleted.")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
