package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"rostercal/internal/config"
	"rostercal/internal/fetch"
	appLog "rostercal/internal/log"
	"rostercal/internal/source"
	"rostercal/internal/sync"
	"rostercal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	force      bool
	skipFetch  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	appLog.SetLevel(conf.LogLevel)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("rostercal starting",
		"config_path", flags.configPath,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"output_dir", conf.Publish.OutputDir,
		"emptied_policy", conf.Publish.Emptied,
		"once", flags.once,
		"force", flags.force,
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

	runner, err := sync.NewRunner(conf, &source.CSVSource{Path: conf.Source.Path})
	if err != nil {
		appLog.Error("failed to initialize runner", err)
		return 1
	}
	runner.Force = flags.force

	srv := web.NewServer(conf)

	cycle := func() error {
		if conf.Source.URL != "" && !flags.skipFetch {
			err := fetch.DownloadRoster(ctx, fetch.Options{
				URL:         conf.Source.URL,
				OutputPath:  conf.Source.Path,
				UserDataDir: conf.Source.UserDataDir,
				Headful:     conf.Source.Headful,
				Timeout:     time.Duration(conf.Source.TimeoutSec) * time.Second,
			})
			if err != nil {
				// A failed download is not fatal: sync runs against the
				// last successfully downloaded roster.
				appLog.Error("roster download failed, using local file", err, "path", conf.Source.Path)
			}
		}

		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		srv.SetReport(report)
		os.Stderr.WriteString("\n" + report.Summary() + "\n")
		return nil
	}

	if flags.once {
		if err := cycle(); err != nil {
			appLog.Error("sync failed", err)
			return 1
		}
		return 0
	}

	// First run immediately, then on the cron schedule.
	if err := cycle(); err != nil {
		appLog.Error("initial sync failed", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := cycle(); err != nil {
			appLog.Error("scheduled sync failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		return 1
	}
	c.Start()
	defer c.Stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			appLog.Error("HTTP server stopped", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("rostercal exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle and exit")
	flag.BoolVar(&cfg.force, "force", false, "Rewrite all calendars even if unchanged")
	flag.BoolVar(&cfg.skipFetch, "skip-fetch", false, "Skip the roster download; use the local file as-is")

	flag.Parse()

	return cfg
}
