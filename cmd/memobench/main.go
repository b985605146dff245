// Command memobench runs a synthetic workload against the memo cache and
// exposes Prometheus metrics plus optional pprof endpoints.
//
// Usage:
//
//	memobench [--config bench.yaml] [--workers 16] [--ttl 500ms] ...
//
// Flags override values read from the YAML file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "memobench:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	def := defaultConfig()
	return &cli.Command{
		Name:  "memobench",
		Usage: "load generator for the memoizing cache",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.IntFlag{Name: "shards", Usage: "number of shards (0=auto)", Value: def.Shards},
			&cli.DurationFlag{Name: "ttl", Usage: "per-entry TTL (0=never expire)", Value: def.TTL},
			&cli.DurationFlag{Name: "max-wait", Usage: "cap on the expiration sleep (0=default)", Value: def.MaxWait},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "worker goroutines", Value: def.Workers},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "benchmark duration", Value: def.Duration},
			&cli.IntFlag{Name: "keys", Usage: "keyspace size", Value: def.Keys},
			&cli.Float64Flag{Name: "zipf-s", Usage: "Zipf s > 1 (skew)", Value: def.ZipfS},
			&cli.Float64Flag{Name: "zipf-v", Usage: "Zipf v", Value: def.ZipfV},
			&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: def.Seed},
			&cli.IntFlag{Name: "remove-pct", Usage: "percentage of Remove operations [0..100]", Value: def.RemovePct},
			&cli.DurationFlag{Name: "latency", Usage: "simulated computation cost", Value: def.Latency},
			&cli.IntFlag{Name: "fail-pct", Usage: "percentage of failing computations [0..100]", Value: def.FailPct},
			&cli.StringFlag{Name: "metrics", Usage: "serve Prometheus metrics at addr (empty=disabled)", Value: def.Metrics},
			&cli.StringFlag{Name: "pprof", Usage: "serve pprof at addr, e.g. :6060 (empty=disabled)", Value: def.Pprof},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if cfg.Debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			res, err := run(ctx, cfg, logger)
			if err != nil {
				return err
			}
			res.print(os.Stdout, cfg)
			return nil
		},
	}
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(cmd *cli.Command) (config, error) {
	cfg := defaultConfig()
	if path := cmd.String("config"); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	overlay := func(name string, apply func()) {
		if cmd.IsSet(name) {
			apply()
		}
	}
	overlay("shards", func() { cfg.Shards = cmd.Int("shards") })
	overlay("ttl", func() { cfg.TTL = cmd.Duration("ttl") })
	overlay("max-wait", func() { cfg.MaxWait = cmd.Duration("max-wait") })
	overlay("workers", func() { cfg.Workers = cmd.Int("workers") })
	overlay("duration", func() { cfg.Duration = cmd.Duration("duration") })
	overlay("keys", func() { cfg.Keys = cmd.Int("keys") })
	overlay("zipf-s", func() { cfg.ZipfS = cmd.Float64("zipf-s") })
	overlay("zipf-v", func() { cfg.ZipfV = cmd.Float64("zipf-v") })
	overlay("seed", func() { cfg.Seed = cmd.Int64("seed") })
	overlay("remove-pct", func() { cfg.RemovePct = cmd.Int("remove-pct") })
	overlay("latency", func() { cfg.Latency = cmd.Duration("latency") })
	overlay("fail-pct", func() { cfg.FailPct = cmd.Int("fail-pct") })
	overlay("metrics", func() { cfg.Metrics = cmd.String("metrics") })
	overlay("pprof", func() { cfg.Pprof = cmd.String("pprof") })
	overlay("debug", func() { cfg.Debug = cmd.Bool("debug") })

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
