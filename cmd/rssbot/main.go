package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"

	"github.com/FelisNivalis/telegram-rss-bot/pkg/config"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/scheduler"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/source"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/store"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/telegram"
)

// Opts with all CLI options
type Opts struct {
	Config   string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file"`
	Schedule string `short:"s" long:"schedule" env:"SCHEDULE" description:"cron spec to run periodically; single run when empty"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	setupLog(opts.Debug, opts.NoColor, cfg.Telegram.Token)
	log.Printf("[INFO] starting rssbot version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	st, err := store.New(cfg.Database.DSN)
	if err != nil {
		log.Printf("[ERROR] open state store: %v", err)
		os.Exit(1)
	}
	defer st.Close() //nolint:errcheck // process is exiting anyway

	if err := run(ctx, cfg, st, opts.Schedule); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Print("[INFO] shutdown complete")
}

// run executes a single pass, or keeps running on the cron spec until the
// context is canceled
func run(ctx context.Context, cfg *config.Config, st *store.Store, spec string) error {
	client := telegram.NewClient(cfg.Telegram.Token)
	fetcher := source.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Fetch.PerHostRPS)

	// the delivery scheduler holds rate-limiter clock state for exactly one
	// run, so the pipeline is rebuilt per pass
	once := func() error {
		sched := scheduler.New(scheduler.Params{
			Config:   cfg,
			Fetcher:  fetcher,
			Store:    st,
			Delivery: telegram.NewScheduler(client),
		})
		_, err := sched.Run(ctx)
		return err
	}

	if spec == "" {
		return once()
	}

	var running int32
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			log.Print("[WARN] previous run still in progress, skipping")
			return
		}
		defer atomic.StoreInt32(&running, 0)
		if err := once(); err != nil {
			log.Printf("[ERROR] run failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("bad cron spec %q: %w", spec, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
