// Package bench drives a batchz engine with synthetic load.
package bench

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	batchz "github.com/zoobzio/batchz"
	"github.com/zoobzio/batchz/prommetrics"
)

// Options describes one benchmark run.
type Options struct {
	Config       batchz.Config
	Producers    int
	Items        int
	DedupeKeys   int
	FlushLatency time.Duration
	MetricsAddr  string
}

// Report summarizes a finished run.
type Report struct {
	Config   batchz.Config
	Strategy string
	Elapsed  time.Duration
	Rejected uint64
	Metrics  batchz.MetricsSnapshot
}

// Throughput returns accepted items per second.
func (r Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Metrics.ItemsAccepted) / r.Elapsed.Seconds()
}

// Run writes Items values from each of Producers goroutines into a fresh
// engine, stops it and reports its counters. With DedupeKeys > 0 the engine
// deduplicates and values cycle through that many keys.
func Run(ctx context.Context, opts Options, logger zerolog.Logger) (Report, error) {
	if opts.Producers < 1 {
		return Report{}, errors.Errorf("producers must be at least 1, got %d", opts.Producers)
	}
	if opts.Items < 0 {
		return Report{}, errors.Errorf("items must not be negative, got %d", opts.Items)
	}

	flush := func(ctx context.Context, batch []int) error {
		if opts.FlushLatency <= 0 {
			return nil
		}
		select {
		case <-time.After(opts.FlushLatency):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	engineOpts := []batchz.Option{batchz.WithLogger(logger), batchz.WithName("bench")}

	var (
		engine *batchz.Engine[int]
		err    error
	)
	if opts.DedupeKeys > 0 {
		engine, err = batchz.NewDedupe[int, int](opts.Config, func(v int) int { return v }, flush, engineOpts...)
	} else {
		engine, err = batchz.NewStandard[int](opts.Config, flush, engineOpts...)
	}
	if err != nil {
		return Report{}, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prommetrics.NewCollector("batchz", engine, prometheus.Labels{"engine": engine.Name()}))
	if opts.MetricsAddr != "" {
		shutdown, serveErr := serveMetrics(opts.MetricsAddr, registry, logger)
		if serveErr != nil {
			return Report{}, serveErr
		}
		defer shutdown()
	}

	errs := engine.Errors(opts.Producers)
	go func() {
		for err := range errs {
			logger.Error().Err(err).Msg("flush failed")
		}
	}()

	handle, err := engine.Start(ctx)
	if err != nil {
		return Report{}, err
	}

	start := time.Now()
	rejects := make([]uint64, opts.Producers)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < opts.Producers; p++ {
		g.Go(func() error {
			for i := 0; i < opts.Items; i++ {
				v := p*opts.Items + i
				if opts.DedupeKeys > 0 {
					v %= opts.DedupeKeys
				}
				err := engine.Input().Write(gctx, v)
				if errors.Is(err, batchz.ErrQueueFull) {
					rejects[p]++
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "producer %d", p)
				}
			}
			return nil
		})
	}

	produceErr := g.Wait()
	var rejected uint64
	for _, n := range rejects {
		rejected += n
	}

	if produceErr != nil {
		handle.Cancel()
		_ = handle.Wait()
		return Report{}, produceErr
	}
	if err := engine.Stop(ctx); err != nil {
		return Report{}, errors.Wrap(err, "stop engine")
	}
	if err := handle.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		Config:   engine.Config(),
		Strategy: "standard",
		Elapsed:  time.Since(start),
		Rejected: rejected,
		Metrics:  engine.Metrics(),
	}
	if opts.DedupeKeys > 0 {
		report.Strategy = "dedupe"
	}
	return report, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
