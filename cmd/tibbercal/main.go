package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tibbercal/internal/auth"
	"tibbercal/internal/calendar"
	"tibbercal/internal/calendar/google"
	"tibbercal/internal/calendar/icsfile"
	"tibbercal/internal/config"
	"tibbercal/internal/feed"
	"tibbercal/internal/history"
	"tibbercal/internal/history/sqlite"
	"tibbercal/internal/lock"
	appLog "tibbercal/internal/log"
	"tibbercal/internal/scheduler"
	"tibbercal/internal/summary"
	pricesync "tibbercal/internal/sync"
	"tibbercal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	serve      bool
	dryRun     bool
}

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 when the sync completed (individual
// event failures included), 1 on setup failure.
func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}

	closeLog := appLog.Setup(appLog.Options{
		Level:      appLog.ParseLevel(conf.Log.Level),
		File:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSize,
		MaxAgeDays: conf.Log.MaxAge,
		MaxBackups: conf.Log.MaxBackups,
		Compress:   conf.Log.Compress,
	})
	defer closeLog()

	appLog.Info("tibbercal starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Web.Listen = flags.listen
	}

	appLog.Info("effective config",
		"timezone", conf.Timezone,
		"backend", conf.Calendar.Backend,
		"calendar_id", conf.Calendar.ID,
		"marker", conf.Calendar.Marker,
		"schedule", conf.Schedule.Cron,
		"listen", conf.Web.Listen,
		"redis", conf.Redis.URL != "",
		"history", conf.History.DBPath,
		"serve", flags.serve,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app, err := newApp(ctx, conf, flags)
	if err != nil {
		appLog.Error("setup failed", err)
		return 1
	}
	defer app.close()

	if !flags.serve {
		if _, err := app.orch.Run(ctx); err != nil {
			return 1
		}
		return 0
	}

	if err := serve(ctx, conf, app); err != nil {
		appLog.Error("serve failed", err)
		return 1
	}
	appLog.Info("tibbercal exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address in -serve mode (overrides config if set)")
	flag.BoolVar(&cfg.serve, "serve", false, "Run on the configured schedule and serve the status API")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Log deletions and insertions without touching the calendar")

	flag.Parse()

	return cfg
}

// app holds the wired components for one process.
type app struct {
	orch    *pricesync.Orchestrator
	history history.Store
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			appLog.Warn("close failed", "reason", err.Error())
		}
	}
}

func newApp(ctx context.Context, conf *config.Config, flags flagConfig) (*app, error) {
	a := &app{}

	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	fetcher := feed.NewClient(conf.Feed.Endpoint, conf.Feed.APIKey,
		feed.WithTimeout(conf.Feed.Timeout),
		feed.WithRetries(conf.Feed.MaxRetries, time.Second),
		feed.WithHomeID(conf.Feed.HomeID),
	)

	opener, err := newOpener(conf)
	if err != nil {
		return nil, err
	}

	summarizer := summary.New(summary.Format{
		Icon:         conf.Display.Icon,
		CheapTitle:   conf.Display.CheapTitle,
		Title:        conf.Display.Title,
		UnknownLabel: conf.Display.UnknownLabel,
		NoDataLine:   conf.Display.NoDataLine,
		Marker:       conf.Calendar.Marker,
		Scale:        decimal.NewFromFloat(conf.Display.PriceScale),
		Decimals:     int32(conf.Display.PriceDecimals),
		Unit:         conf.Display.PriceUnit,
		Location:     loc,
	})

	opts := pricesync.Options{
		CalendarID: conf.Calendar.ID,
		TimeZone:   conf.Timezone,
		DryRun:     flags.dryRun,
		LockTTL:    conf.Redis.LockTTL,
	}

	if conf.Redis.URL != "" {
		rl, err := lock.Dial(ctx, conf.Redis.URL, conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			appLog.Warn("redis unavailable; runs are not guarded across processes", "reason", err.Error())
		} else {
			opts.Locker = rl
			a.closers = append(a.closers, rl.Close)
		}
	}
	if opts.Locker == nil && flags.serve {
		opts.Locker = lock.NewLocal()
	}

	switch {
	case conf.History.DBPath != "":
		store, err := sqlite.New(conf.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history db: %w", err)
		}
		a.history = store
		a.closers = append(a.closers, store.Close)
	case flags.serve:
		a.history = history.NewMemory(100)
	default:
		a.history = &history.NopStore{}
	}
	opts.History = a.history

	a.orch = pricesync.New(fetcher, opener, summarizer, opts)
	return a, nil
}

func newOpener(conf *config.Config) (calendar.Opener, error) {
	switch conf.Calendar.Backend {
	case "ics":
		return icsfile.New(conf.Calendar.ICSDir), nil
	case "google":
		provider, err := auth.FromClientSecretFile(
			conf.Google.ClientSecretPath,
			auth.FileTokenStore{Path: conf.Google.TokenPath},
			auth.WithConsent(auth.LoopbackConsent(os.Stderr)),
		)
		if err != nil {
			return nil, err
		}
		return &google.Opener{Provider: provider}, nil
	default:
		return nil, &config.ConfigError{Key: "calendar.backend", Err: fmt.Errorf("unknown backend %q", conf.Calendar.Backend)}
	}
}

func serve(ctx context.Context, conf *config.Config, a *app) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(conf.Schedule.Cron, loc, func(ctx context.Context) {
		// Errors are logged and recorded by the orchestrator; the schedule
		// keeps going.
		_, _ = a.orch.Run(ctx)
	})
	if err != nil {
		return &config.ConfigError{Key: "schedule.cron", Err: err}
	}
	sched.Start(ctx)
	defer sched.Stop()

	if conf.Schedule.RunOnStart {
		go sched.Trigger()
	}

	srv := web.NewServer(conf, a.orch, sched, a.history)
	return srv.ListenAndServe(ctx)
}
