package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/feeds"
	"github.com/vodkeeper/vodkeeper/internal/media"
	"github.com/vodkeeper/vodkeeper/internal/monitor"
	"github.com/vodkeeper/vodkeeper/internal/recovery"
	"github.com/vodkeeper/vodkeeper/internal/report"
	"github.com/vodkeeper/vodkeeper/internal/service"
	"github.com/vodkeeper/vodkeeper/internal/store"
	"github.com/vodkeeper/vodkeeper/internal/task"
)

const (
	recoveryInterval   = 5 * time.Minute
	janitorInterval    = 6 * time.Hour
	livestreamInterval = time.Hour
	feedPollInterval   = 15 * time.Minute
	statusInterval     = 5 * time.Minute
)

func main() {
	_ = godotenv.Load()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "vodkeeper",
		Usage: "self-hosted video archiving service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data",
				Usage: "override data `DIR`",
			},
			&cli.StringFlag{
				Name:  "subscriptions",
				Usage: "subscription list `FILE` (JSON)",
			},
		},
		Action: func(c *cli.Context) error {
			return runDaemon(ctx, loadConfig(c), c.String("subscriptions"), logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "print a system health report",
				Action: func(c *cli.Context) error {
					return printHealth(loadConfig(c))
				},
			},
			{
				Name:      "keep",
				Usage:     "pin a video and re-download its media if missing",
				ArgsUsage: "URL",
				Action: func(c *cli.Context) error {
					return withSweeper(loadConfig(c), logger, func(s *service.Sweeper) error {
						return s.DownloadAndKeep(c.Args().First())
					})
				},
			},
			{
				Name:      "unkeep",
				Usage:     "release a pinned video for expiry",
				ArgsUsage: "URL",
				Action: func(c *cli.Context) error {
					return withSweeper(loadConfig(c), logger, func(s *service.Sweeper) error {
						return s.Unkeep(c.Args().First())
					})
				},
			},
		},
		HideHelpCommand: true,
	}

	result := make(chan error, 1)
	go func() { result <- app.Run(os.Args) }()

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		if err = <-result; err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func loadConfig(c *cli.Context) vodkeeper.Config {
	cfg := vodkeeper.DefaultConfig()
	cfg.LoadEnv()
	if dir := c.String("data"); dir != "" {
		cfg.Paths.DataDir = dir
	}
	return cfg
}

func runDaemon(ctx context.Context, cfg vodkeeper.Config, subsPath string, logger *zap.Logger) error {
	if err := cfg.Paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	st, err := store.Open(cfg.Paths.DatabasePath(), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reporter, err := report.Open(cfg.Paths.JournalPath())
	if err != nil {
		return err
	}
	defer reporter.Close()

	resources := monitor.NewResourceMonitor(cfg.SystemLimits, cfg.Paths.DataDir)
	limiter := monitor.NewRateLimiter(cfg.RateLimit)
	downloads := monitor.NewDownloadMonitor()
	gate := monitor.NewGate(resources, limiter, downloads)

	youtube := media.NewYouTube()
	pipeline := service.NewPipeline(cfg, st, gate, reporter,
		youtube, youtube, media.NewThumbnails(cfg.Timeouts.Thumbnail), media.NewFFProbe())

	svc := service.New(service.DefaultServiceConfig(cfg.SystemLimits.MaxConcurrentDownloads), st, pipeline)
	sweeper := service.NewSweeper(cfg, st)
	manager := recovery.NewManager(cfg, st, resources, limiter, downloads, reporter, svc)

	supervisor := task.NewSupervisor()
	supervisor.Add(task.Task{
		Name:     "recovery-sweep",
		Interval: recoveryInterval,
		Run:      func(context.Context) error { return manager.Sweep() },
	})
	supervisor.Add(task.Task{
		Name:       "expiry-janitor",
		Interval:   janitorInterval,
		RunAtStart: true,
		Run: func(context.Context) error {
			_, err := manager.ExpireOldVideos()
			return err
		},
	})
	supervisor.Add(task.Task{
		Name:     "status-log",
		Interval: statusInterval,
		Run: func(context.Context) error {
			status := svc.Status()
			logger.Sugar().Infow("service status",
				"running", status.Running,
				"active", len(status.ActiveJobs),
				"pending", status.PendingJobs,
				"max_concurrent", status.MaxConcurrent,
				"success_rate", status.Downloads.SuccessRate)
			return nil
		},
	})
	supervisor.Add(task.Task{
		Name:     "livestream-sweep",
		Interval: livestreamInterval,
		Run: func(context.Context) error {
			_, err := sweeper.SweepLivestreams()
			return err
		},
	})

	if subsPath != "" {
		subs, err := feeds.LoadSubscriptions(subsPath)
		if err != nil {
			return err
		}
		poller := feeds.NewPoller(cfg, st, feeds.NewDiscoverer(), subs)
		supervisor.Add(task.Task{
			Name:       "feed-poll",
			Interval:   feedPollInterval,
			RunAtStart: true,
			Run:        poller.Poll,
		})
	}

	svc.Start(ctx)
	supervisor.Start(ctx)
	logger.Sugar().Infow("daemon running",
		"data_dir", cfg.Paths.DataDir, "max_concurrent", svc.MaxConcurrent())

	<-ctx.Done()
	logger.Sugar().Infow("shutting down")
	supervisor.Stop()
	svc.Stop()
	return nil
}

func printHealth(cfg vodkeeper.Config) error {
	reporter, err := report.Open(cfg.Paths.JournalPath())
	if err != nil {
		return err
	}
	defer reporter.Close()

	resources := monitor.NewResourceMonitor(cfg.SystemLimits, cfg.Paths.DataDir)
	downloads := monitor.NewDownloadMonitor()
	health, err := reporter.Health(24*time.Hour, resources.Status(), downloads.StatsSummary())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func withSweeper(cfg vodkeeper.Config, logger *zap.Logger, f func(*service.Sweeper) error) error {
	st, err := store.Open(cfg.Paths.DatabasePath(), logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return f(service.NewSweeper(cfg, st))
}
