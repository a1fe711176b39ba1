// Package gate delays dependent writes until every replicated backend has
// caught up to within its configured lag budget.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/block/replgate/pkg/config"
	"github.com/block/replgate/pkg/lagmonitor"
	"github.com/block/replgate/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNoMonitor = errors.New("target has no lag monitor")
	ErrNoTargets = errors.New("gate requires at least one target")
)

// Gate waits for replication on a fixed set of targets. Thresholds are
// re-read from the config source on every call.
type Gate struct {
	source      config.Source
	monitors    map[string]lagmonitor.Monitor
	targets     []string
	cache       *observationCache
	lock        *semaphore.Weighted
	logger      *slog.Logger
	metricsSink metrics.Sink
	now         func() time.Time
}

// New returns a Gate for the targets named in monitors.
func New(source config.Source, monitors map[string]lagmonitor.Monitor, logger *slog.Logger) (*Gate, error) {
	if len(monitors) == 0 {
		return nil, ErrNoTargets
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		source:      source,
		monitors:    make(map[string]lagmonitor.Monitor, len(monitors)),
		cache:       newObservationCache(),
		lock:        semaphore.NewWeighted(1),
		logger:      logger,
		metricsSink: &metrics.NoopSink{},
		now:         time.Now,
	}
	for name, m := range monitors {
		if m == nil {
			return nil, fmt.Errorf("%s: %w", name, ErrNoMonitor)
		}
		g.monitors[name] = m
		g.targets = append(g.targets, name)
	}
	sort.Strings(g.targets)
	return g, nil
}

func (g *Gate) SetMetricsSink(sink metrics.Sink) {
	g.metricsSink = sink
}

// Targets returns the gated target names in sorted order.
func (g *Gate) Targets() []string {
	return append([]string(nil), g.targets...)
}

// Observation returns the last lag measured for target, if any.
func (g *Gate) Observation(target string) (Observation, bool) {
	return g.cache.get(target)
}

// budget is the resolved threshold for one target in one call.
type budget struct {
	target       string
	monitor      lagmonitor.Monitor
	maxLag       time.Duration
	pollInterval time.Duration
}

type callStats struct {
	fresh   atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// WaitForReplication blocks until every configured target is within its
// lag budget. Only one call per Gate runs at a time; a caller that queues
// behind another usually finds the cache fresh and returns without
// querying. Siblings are not cancelled when one target fails: the call
// waits for all of them, keeps every observation they produced, and
// returns the first error.
func (g *Gate) WaitForReplication(ctx context.Context) error {
	start := time.Now()
	budgets, err := g.resolve(g.source.Current())
	if err != nil {
		return err
	}
	if len(budgets) == 0 {
		return nil
	}
	if err := g.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.lock.Release(1)

	logger := g.logger.With("call_id", uuid.New().String())
	stats := &callStats{}
	var eg errgroup.Group
	for _, b := range budgets {
		eg.Go(func() error {
			return g.waitForTarget(ctx, logger, b, stats)
		})
	}
	err = eg.Wait()
	g.sendMetrics(ctx, time.Since(start), stats)
	return err
}

// resolve converts the thresholds of every gated target, failing on the
// first malformed one before any monitor is invoked.
func (g *Gate) resolve(cfg *config.Config) ([]budget, error) {
	var budgets []budget
	for _, target := range g.targets {
		threshold := cfg.Threshold(target)
		if threshold == nil {
			continue // ungated
		}
		maxLag, pollInterval, err := threshold.Durations(target)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, budget{
			target:       target,
			monitor:      g.monitors[target],
			maxLag:       maxLag,
			pollInterval: pollInterval,
		})
	}
	return budgets, nil
}

// decision is what the gate does for one target in one call.
type decision int

const (
	decisionQuery decision = iota
	decisionSkipTooSoon
	decisionSkipWithinBound
)

func (d decision) String() string {
	switch d {
	case decisionQuery:
		return "query"
	case decisionSkipTooSoon:
		return "skipTooSoon"
	case decisionSkipWithinBound:
		return "skipWithinBound"
	}
	return "unknown"
}

// decide returns whether the cached observation still proves the budget.
func decide(obs Observation, ok bool, now time.Time, maxLag, pollInterval time.Duration) decision {
	if !ok {
		return decisionQuery
	}
	elapsed := now.Sub(obs.MeasuredAt)
	// Queried too recently to matter.
	if elapsed < pollInterval && obs.Lag < maxLag {
		return decisionSkipTooSoon
	}
	// Lag cannot grow faster than real time, so the budget still holds.
	if obs.Lag+elapsed < maxLag {
		return decisionSkipWithinBound
	}
	return decisionQuery
}

func (g *Gate) waitForTarget(ctx context.Context, logger *slog.Logger, b budget, stats *callStats) error {
	obs, ok := g.cache.get(b.target)
	if d := decide(obs, ok, g.now(), b.maxLag, b.pollInterval); d != decisionQuery {
		logger.Debug("skipping replication lag check", "target", b.target, "reason", d, "last_lag", obs.Lag)
		stats.skipped.Add(1)
		return nil
	}
	logger.Info("waiting for replication lag to drop below budget",
		"target", b.target,
		"max_lag", b.maxLag,
	)
	stats.fresh.Add(1)
	lag, err := b.monitor.WaitForReplication(ctx, lagmonitor.NewWaitConfig(b.maxLag, b.pollInterval, logger))
	if err != nil {
		stats.failed.Add(1)
		return err
	}
	g.cache.put(b.target, Observation{MeasuredAt: g.now(), Lag: lag.Delay})
	return nil
}

func (g *Gate) sendMetrics(ctx context.Context, waitTime time.Duration, stats *callStats) {
	m := &metrics.Metrics{
		Values: []metrics.MetricValue{
			{
				Name:  metrics.GateWaitTimeMetricName,
				Type:  metrics.GAUGE,
				Value: float64(waitTime.Milliseconds()), // in milliseconds
			},
			{
				Name:  metrics.GateFreshQueriesMetricName,
				Type:  metrics.COUNTER,
				Value: float64(stats.fresh.Load()),
			},
			{
				Name:  metrics.GateSkippedChecksMetricName,
				Type:  metrics.COUNTER,
				Value: float64(stats.skipped.Load()),
			},
			{
				Name:  metrics.GateFailedQueriesMetricName,
				Type:  metrics.COUNTER,
				Value: float64(stats.failed.Load()),
			},
		},
	}
	for _, target := range g.targets {
		if obs, ok := g.cache.get(target); ok {
			m.Values = append(m.Values, metrics.MetricValue{
				Name:  metrics.GateObservedLagMetricPrefix + target,
				Type:  metrics.GAUGE,
				Value: float64(obs.Lag.Milliseconds()),
			})
		}
	}
	contextWithTimeout, cancel := context.WithTimeout(context.WithoutCancel(ctx), metrics.SinkTimeout)
	defer cancel()
	if err := g.metricsSink.Send(contextWithTimeout, m); err != nil {
		g.logger.Warn("could not send gate metrics", "error", err)
	}
}
