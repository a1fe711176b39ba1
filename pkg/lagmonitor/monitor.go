// Package lagmonitor contains monitors that block until a replicated
// backend has caught up to within a lag budget.
package lagmonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrTimeout = errors.New("timed out waiting for replication lag to drop below budget")
)

// Monitor waits until a backend's replication lag is at or below
// cfg.MaxLag. It returns the lag it observed when it stopped waiting.
type Monitor interface {
	WaitForReplication(ctx context.Context, cfg *WaitConfig) (*Lag, error)
}

// WaitConfig is the budget a Monitor is asked to satisfy.
type WaitConfig struct {
	MaxLag       time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

func NewWaitConfig(maxLag, pollInterval time.Duration, logger *slog.Logger) *WaitConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaitConfig{
		MaxLag:       maxLag,
		PollInterval: pollInterval,
		Logger:       logger,
	}
}

// Lag is the replication delay observed by a Monitor.
type Lag struct {
	Delay time.Duration
}

// measureFunc returns the current lag of a backend.
type measureFunc func(ctx context.Context) (time.Duration, error)

// pollUntilCaughtUp measures lag every cfg.PollInterval until it is within
// cfg.MaxLag. A zero timeout waits until ctx is done.
func pollUntilCaughtUp(ctx context.Context, name string, cfg *WaitConfig, timeout time.Duration, measure measureFunc) (*Lag, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		lag, err := measure(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not measure replication lag on %s: %w", name, err)
		}
		if lag <= cfg.MaxLag {
			return &Lag{Delay: lag}, nil
		}
		logger.Debug("replication lag above budget",
			"replica", name,
			"lag", lag,
			"max_lag", cfg.MaxLag,
		)
		ticker := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			ticker.Stop()
			return nil, ctx.Err()
		case <-deadline:
			ticker.Stop()
			logger.Warn("lag monitor timed out", "replica", name, "lag", lag, "max_lag", cfg.MaxLag)
			return nil, fmt.Errorf("%s: %w", name, ErrTimeout)
		case <-ticker.C:
		}
	}
}
