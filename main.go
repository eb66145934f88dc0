package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/bgstrip/batch"
	"github.com/chaos-io/bgstrip/config"
	"github.com/chaos-io/bgstrip/scheduler"
	"github.com/chaos-io/bgstrip/server"
)

// go run . -in img/boss_a.png
// go run . -dir img -glob 'icon_*.png'
// go run . -url https://example.com/boss.png -out img/boss.png
// go run . -config jobs.yaml
// go run . -config jobs.yaml -serve :8080 -schedule '@every 10m'

func main() {
	configPath := flag.String("config", "", "YAML job file")
	input := flag.String("in", "", "Single image, background detected from the top-left pixel")
	dir := flag.String("dir", "", "Directory to batch process")
	glob := flag.String("glob", config.DefaultGlob, "File pattern used with -dir")
	url := flag.String("url", "", "Download an image and process it (needs -out)")
	output := flag.String("out", "", "Output path for -url")
	policy := flag.String("policy", "", "sampled or fixed (default: sampled for -in/-url, fixed for -dir)")
	threshold := flag.Int("threshold", 0, "Dark threshold for the fixed policy (default 60)")
	maxSize := flag.Int("max-size", 0, "Downscale so the longest edge fits, 0 keeps the size")
	serve := flag.String("serve", "", "Listen address for the HTTP service, e.g. :8080")
	schedule := flag.String("schedule", "", "Cron spec to re-run jobs, e.g. '@every 10m'")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	job := config.Job{
		Name:      "cli",
		Path:      *input,
		Dir:       *dir,
		URL:       *url,
		Out:       *output,
		Policy:    *policy,
		Threshold: *threshold,
		MaxSize:   *maxSize,
	}
	if *dir != "" {
		job.Glob = *glob
	}
	if job.Path != "" || job.Dir != "" || job.URL != "" {
		cfg.Jobs = append(cfg.Jobs, job)
	}
	if *serve != "" {
		cfg.Server.Addr = *serve
	}
	if *schedule != "" {
		cfg.Schedule = *schedule
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid arguments: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	p := batch.NewProcessor(nil)
	p.Logger = logger

	runJobs := func(ctx context.Context) {
		for _, job := range cfg.Jobs {
			if _, err := p.RunJob(ctx, job); err != nil {
				logger.Error("job failed", "job", job.Name, "err", err)
			}
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule != "" && len(cfg.Jobs) > 0 {
		var err error
		sched, err = scheduler.New(cfg.Schedule, logger, runJobs)
		if err != nil {
			return err
		}
	}

	// 先同步跑一遍任务，之后再启动服务和定时器
	runJobs(ctx)
	if cfg.Server.Addr == "" && sched == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server.Addr, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	return g.Wait()
}
