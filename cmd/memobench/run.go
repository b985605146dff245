package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/memocache/memo"
	pmet "github.com/IvanBrykalov/memocache/metrics/prom"
)

var errSynthetic = errors.New("synthetic failure")

type result struct {
	elapsed  time.Duration
	ops      uint64
	computes uint64
	removes  uint64
	errors   uint64
	size     int
	stats    memo.Stats
}

// run drives cfg.Workers goroutines against one cache for cfg.Duration or
// until ctx is cancelled.
func run(ctx context.Context, cfg config, log *slog.Logger) (result, error) {
	reg := prometheus.NewRegistry()
	metrics := pmet.New(reg, "memo", "bench", nil)

	stopServers := serve(cfg, reg, log)
	defer stopServers()

	var calls atomic.Uint64
	fn := memo.ComputeFunc[string, string](func(ctx context.Context, k string) (string, error) {
		n := calls.Add(1)
		if cfg.Latency > 0 {
			t := time.NewTimer(cfg.Latency)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		if cfg.FailPct > 0 && int(n%100) < cfg.FailPct {
			return "", errSynthetic
		}
		return "v:" + k, nil
	})

	c := memo.New[string, string](fn, memo.Options[string, string]{
		Shards:  cfg.Shards,
		Metrics: metrics,
		Logger:  log,
		MaxWait: cfg.MaxWait,
	})
	defer func() { _ = c.Close() }()

	var res result
	var ops, computes, removes, failed atomic.Uint64

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	log.Info("benchmark started",
		slog.Int("workers", cfg.Workers),
		slog.Int("keys", cfg.Keys),
		slog.Duration("ttl", cfg.TTL),
		slog.Duration("duration", cfg.Duration))

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	keysMax := uint64(cfg.Keys - 1)
	for w := 0; w < cfg.Workers; w++ {
		id := w
		g.Go(func() error {
			// rand.Rand is not goroutine-safe: one source per worker.
			r := rand.New(rand.NewSource(cfg.Seed + int64(id)*9973))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, keysMax)
			for gctx.Err() == nil {
				ops.Add(1)
				k := "k:" + strconv.FormatUint(zipf.Uint64(), 10)
				if int(r.Int31n(100)) < cfg.RemovePct {
					removes.Add(1)
					c.Remove(k)
					continue
				}
				computes.Add(1)
				if _, err := c.Compute(gctx, k, cfg.TTL); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					if !errors.Is(err, errSynthetic) {
						return fmt.Errorf("worker %d: %w", id, err)
					}
					failed.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.elapsed = time.Since(start)
	res.ops = ops.Load()
	res.computes = computes.Load()
	res.removes = removes.Load()
	res.errors = failed.Load()
	res.size = c.Size()
	res.stats = c.Stats()
	log.Info("benchmark finished", slog.Duration("elapsed", res.elapsed), slog.Uint64("ops", res.ops))
	return res, nil
}

// serve starts the metrics and pprof listeners that cfg enables and
// returns a function shutting them down.
func serve(cfg config, reg *prometheus.Registry, log *slog.Logger) func() {
	var servers []*http.Server
	start := func(name, addr string, h http.Handler) {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		servers = append(servers, srv)
		go func() {
			log.Info("serving", slog.String("endpoint", name), slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("listener failed", slog.String("endpoint", name), slog.Any("err", err))
			}
		}()
	}
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		start("metrics", cfg.Metrics, mux)
	}
	if cfg.Pprof != "" {
		start("pprof", cfg.Pprof, http.DefaultServeMux)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(ctx)
		}
	}
}

func (r result) print(w io.Writer, cfg config) {
	secs := r.elapsed.Seconds()
	if secs <= 0 {
		secs = 1
	}
	hitRate := 0.0
	if total := r.stats.Hits + r.stats.Misses; total > 0 {
		hitRate = float64(r.stats.Hits) / float64(total) * 100
	}
	fmt.Fprintf(w, "shards=%d workers=%d keys=%d ttl=%v dur=%v seed=%d\n",
		cfg.Shards, cfg.Workers, cfg.Keys, cfg.TTL, r.elapsed, cfg.Seed)
	fmt.Fprintf(w, "ops=%d (%.0f ops/s)  computes=%d  removes=%d  errors=%d\n",
		r.ops, float64(r.ops)/secs, r.computes, r.removes, r.errors)
	fmt.Fprintf(w, "hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d\n",
		r.stats.Hits, r.stats.Misses, hitRate, r.stats.Evictions)
	fmt.Fprintf(w, "Size()=%d\n", r.size)
}
