package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"momcal/internal/cache"
	"momcal/internal/capture"
	"momcal/internal/category"
	"momcal/internal/config"
	"momcal/internal/feed"
	"momcal/internal/ics"
	appLog "momcal/internal/log"
	"momcal/internal/scheduler"
	"momcal/internal/videos"
	"momcal/internal/web"
)

var version = "dev"

// cliOptions are parsed from flags with environment fallbacks.
type cliOptions struct {
	Config   string `long:"config" env:"MOMCAL_CONFIG" default:"./config.yaml" description:"Path to config file (created with defaults if missing)"`
	Listen   string `long:"listen" env:"MOMCAL_LISTEN" description:"HTTP listen address (overrides config if set)"`
	Once     bool   `long:"once" description:"Run one refresh, print the upcoming events and exit"`
	Snapshot bool   `long:"snapshot" description:"Capture the share image once and exit (server must be reachable)"`
	Debug    bool   `long:"debug" env:"MOMCAL_DEBUG" description:"Enable debug logging"`
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, ok := parseFlags()
	if !ok {
		return 0
	}
	if opts == nil {
		return 2
	}

	appLog.Info("momcal starting", "version", version)

	conf, err := config.Load(opts.Config)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", opts.Config)
		return 1
	}

	// CLI --listen overrides config file listen if provided.
	if opts.Listen != "" {
		if conf.Snapshot.URL == "http://"+conf.Listen+"/" {
			conf.Snapshot.URL = "http://" + opts.Listen + "/"
		}
		conf.Listen = opts.Listen
	}

	if opts.Debug {
		appLog.SetLevel(appLog.LevelDebug)
	} else {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"proxies", len(conf.Calendar.Proxies),
		"stale_after", conf.Calendar.StaleAfter.String(),
		"refresh", conf.Calendar.RefreshCron,
		"expand_recurring", conf.Calendar.ExpandRecurring,
		"horizon_days", conf.Calendar.HorizonDays,
		"cache_backend", conf.Cache.Backend,
		"categories", len(conf.Categories),
		"snapshot", conf.Snapshot.Enabled,
		"once", opts.Once,
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

	if opts.Snapshot {
		if err := capture.CaptureEventsPNG(ctx, capture.OptionsFromConfig(conf.Snapshot)); err != nil {
			appLog.Error("share image capture failed", err)
			return 1
		}
		return 0
	}

	store, err := cache.Open(ctx, conf.Cache)
	if err != nil {
		appLog.Error("failed to open cache store", err, "backend", conf.Cache.Backend)
		return 1
	}
	defer store.Close()

	categorizer := category.New(conf.Categories, conf.DefaultCategory)
	cacheManager := cache.NewManager(store, conf.Cache.Key, categorizer)
	retriever := ics.NewRetriever(conf.Calendar.Proxies,
		ics.WithTimeout(conf.Calendar.FetchTimeout),
		ics.WithUserAgent(conf.Calendar.UserAgent),
	)
	parser := ics.NewParser(conf.Location(), conf.Calendar.StableIDs)

	ctrl := feed.NewController(feed.Options{
		URL:             conf.Calendar.ICSURL,
		StaleAfter:      conf.Calendar.StaleAfter,
		ExpandRecurring: conf.Calendar.ExpandRecurring,
		Horizon:         time.Duration(conf.Calendar.HorizonDays) * 24 * time.Hour,
		StableIDs:       conf.Calendar.StableIDs,
	}, retriever, parser, categorizer, cacheManager)
	defer ctrl.Close()

	if opts.Once {
		return runOnce(ctx, ctrl, conf)
	}

	ctrl.Start(ctx)

	sched := scheduler.New(conf.Location())
	if err := sched.AddRefresh(conf.Calendar.RefreshCron, ctrl); err != nil {
		appLog.Error("invalid refresh schedule", err)
		return 1
	}
	if conf.Snapshot.Enabled {
		snapOpts := capture.OptionsFromConfig(conf.Snapshot)
		err := sched.AddJob("share-image", conf.Snapshot.Cron, func(ctx context.Context) error {
			return capture.CaptureEventsPNG(ctx, snapOpts)
		})
		if err != nil {
			appLog.Error("invalid snapshot schedule", err)
			return 1
		}
	}
	sched.Start()
	defer sched.Stop()

	vids := videos.NewSource(conf.Videos.IDs, conf.Videos.ChannelFeed, conf.Videos.Max, conf.Videos.TTL)
	srv := web.NewServer(conf, ctrl, categorizer, vids)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		return 1
	}

	appLog.Info("momcal exiting")
	return 0
}

// runOnce restores the cache, performs a single forced refresh and prints the
// upcoming events. A failed fetch still prints cached events.
func runOnce(ctx context.Context, ctrl *feed.Controller, conf *config.Config) int {
	ctrl.Restore(ctx)
	err := ctrl.Refresh(ctx)
	v := ctrl.Snapshot()

	loc := conf.Location()
	for _, ev := range v.Events {
		fmt.Printf("%s  %-10s  %s\n", ev.Start.In(loc).Format("2006-01-02 15:04"), ev.CategoryKey, ev.Title)
	}
	appLog.Info("single refresh finished", "events", len(v.Events), "state", string(v.Error))

	if errors.Is(err, feed.ErrRefreshFailed) {
		return 1
	}
	return 0
}

// parseFlags returns ok=false when help was printed and a nil result on a
// parse error.
func parseFlags() (*cliOptions, bool) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, false
		}
		return nil, true
	}
	return &opts, true
}
