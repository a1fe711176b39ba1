package lagmonitor

import (
	"context"
	"sync"
	"time"
)

// MockReading is one scripted lag measurement. If Err is set the
// measurement fails.
type MockReading struct {
	Lag time.Duration
	Err error
}

// Mock is a scripted Monitor for tests. Each WaitForReplication call
// consumes readings until one is within budget, sleeping PollInterval
// between them like a real monitor. The last reading repeats forever.
type Mock struct {
	sync.Mutex
	Readings []MockReading
	// Delay is added once to every call before the first reading.
	Delay time.Duration
	calls int
	polls int
	next  int
}

var _ Monitor = &Mock{}

func NewMock(lags ...time.Duration) *Mock {
	m := &Mock{}
	for _, lag := range lags {
		m.Readings = append(m.Readings, MockReading{Lag: lag})
	}
	return m
}

func (m *Mock) WaitForReplication(ctx context.Context, cfg *WaitConfig) (*Lag, error) {
	m.Lock()
	m.calls++
	m.Unlock()
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return pollUntilCaughtUp(ctx, "mock", cfg, 0, m.read)
}

func (m *Mock) read(_ context.Context) (time.Duration, error) {
	m.Lock()
	defer m.Unlock()
	m.polls++
	if len(m.Readings) == 0 {
		return 0, nil
	}
	r := m.Readings[m.next]
	if m.next < len(m.Readings)-1 {
		m.next++
	}
	return r.Lag, r.Err
}

// Calls returns how many times WaitForReplication was invoked.
func (m *Mock) Calls() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}

// Polls returns how many readings were consumed across all calls.
func (m *Mock) Polls() int {
	m.Lock()
	defer m.Unlock()
	return m.polls
}
