package lagmonitor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sharded polls every shard of a sharded database and reports the lag of
// the furthest behind shard.
type Sharded struct {
	Name    string
	shards  map[string]*sql.DB
	Timeout time.Duration
}

var _ Monitor = &Sharded{}

func NewSharded(name string, shards map[string]*sql.DB, timeout time.Duration) *Sharded {
	return &Sharded{
		Name:    name,
		shards:  shards,
		Timeout: timeout,
	}
}

// Shards returns the shard names in sorted order.
func (m *Sharded) Shards() []string {
	names := make([]string, 0, len(m.shards))
	for name := range m.shards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Sharded) WaitForReplication(ctx context.Context, cfg *WaitConfig) (*Lag, error) {
	return pollUntilCaughtUp(ctx, m.Name, cfg, m.Timeout, m.measure)
}

func (m *Sharded) measure(ctx context.Context) (time.Duration, error) {
	var (
		mu     sync.Mutex
		maxLag time.Duration
	)
	g, errGrpCtx := errgroup.WithContext(ctx)
	for name, db := range m.shards {
		g.Go(func() error {
			lag, err := queryLag(errGrpCtx, db)
			if err != nil {
				return fmt.Errorf("shard %s: %w", name, err)
			}
			mu.Lock()
			if lag > maxLag {
				maxLag = lag
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return maxLag, nil
}
