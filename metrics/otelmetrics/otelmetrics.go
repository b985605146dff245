// Package otelmetrics exports memo cache signals through an OpenTelemetry
// MeterProvider.
package otelmetrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/IvanBrykalov/memocache/memo"
)

const (
	defaultInstrumentationName = "github.com/IvanBrykalov/memocache/metrics/otelmetrics"

	metricRequests    = "memo.requests"
	metricComputes    = "memo.computations"
	metricComputeTime = "memo.computation.duration"
	metricEvictions   = "memo.evictions"
	metricSize        = "memo.size"
)

type config struct {
	instrumentationName string
	meterProvider       metric.MeterProvider
	attrs               []attribute.KeyValue
}

// Option configures the adapter.
type Option func(*config)

// WithMeterProvider sets the MeterProvider (default: otel.GetMeterProvider()).
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// WithInstrumentationName overrides the meter name.
func WithInstrumentationName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.instrumentationName = name
		}
	}
}

// WithAttributes adds static attributes to every measurement,
// e.g. attribute.String("cache", "users").
func WithAttributes(kv ...attribute.KeyValue) Option {
	copied := append([]attribute.KeyValue(nil), kv...)
	return func(c *config) {
		c.attrs = append(c.attrs, copied...)
	}
}

// Adapter implements memo.Metrics on top of OpenTelemetry instruments.
// Safe for concurrent use.
type Adapter struct {
	requests    metric.Int64Counter
	computes    metric.Int64Counter
	computeTime metric.Float64Histogram
	evictions   metric.Int64Counter
	size        atomic.Int64

	hit, miss    metric.AddOption
	loadOK       metric.MeasurementOption
	loadErr      metric.MeasurementOption
	base         metric.MeasurementOption
	evictOptions map[memo.EvictReason]metric.AddOption
}

// New creates the instruments on the configured meter.
func New(opts ...Option) (*Adapter, error) {
	cfg := &config{
		instrumentationName: defaultInstrumentationName,
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	meter := cfg.meterProvider.Meter(cfg.instrumentationName)

	a := &Adapter{}
	var err error
	if a.requests, err = meter.Int64Counter(metricRequests,
		metric.WithDescription("Compute calls by result (hit or miss)"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s: %w", metricRequests, err)
	}
	if a.computes, err = meter.Int64Counter(metricComputes,
		metric.WithDescription("Computations by result"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s: %w", metricComputes, err)
	}
	if a.computeTime, err = meter.Float64Histogram(metricComputeTime,
		metric.WithDescription("Time spent in the Computable"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s: %w", metricComputeTime, err)
	}
	if a.evictions, err = meter.Int64Counter(metricEvictions,
		metric.WithDescription("Entry evictions by reason"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s: %w", metricEvictions, err)
	}

	with := func(kv ...attribute.KeyValue) metric.MeasurementOption {
		return metric.WithAttributes(append(append([]attribute.KeyValue(nil), cfg.attrs...), kv...)...)
	}
	a.base = with()
	a.hit = with(attribute.String("result", "hit"))
	a.miss = with(attribute.String("result", "miss"))
	a.loadOK = with(attribute.String("result", "ok"))
	a.loadErr = with(attribute.String("result", "error"))
	a.evictOptions = make(map[memo.EvictReason]metric.AddOption)
	for _, r := range []memo.EvictReason{memo.EvictTTL, memo.EvictRemoved, memo.EvictCleared, memo.EvictFailed} {
		a.evictOptions[r] = with(attribute.String("reason", r.String()))
	}

	if _, err = meter.Int64ObservableGauge(metricSize,
		metric.WithDescription("Number of entries, in-flight ones included"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(a.size.Load(), a.base)
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create %s: %w", metricSize, err)
	}
	return a, nil
}

// Hit counts a request served by an existing entry.
func (a *Adapter) Hit() { a.requests.Add(context.Background(), 1, a.hit) }

// Miss counts a request that started a computation.
func (a *Adapter) Miss() { a.requests.Add(context.Background(), 1, a.miss) }

// Load records one computation and its duration.
func (a *Adapter) Load(d time.Duration, err error) {
	ctx := context.Background()
	if err != nil {
		a.computes.Add(ctx, 1, a.loadErr)
		a.computeTime.Record(ctx, d.Seconds(), a.loadErr)
		return
	}
	a.computes.Add(ctx, 1, a.loadOK)
	a.computeTime.Record(ctx, d.Seconds(), a.loadOK)
}

// Evict counts an eviction by reason.
func (a *Adapter) Evict(r memo.EvictReason) {
	opt, ok := a.evictOptions[r]
	if !ok {
		opt = a.base
	}
	a.evictions.Add(context.Background(), 1, opt)
}

// Size stores the latest entry count for the observable gauge.
func (a *Adapter) Size(entries int) { a.size.Store(int64(entries)) }

var _ memo.Metrics = (*Adapter)(nil)
