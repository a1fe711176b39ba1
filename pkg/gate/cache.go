package gate

import (
	"sync"
	"time"
)

// Observation is the last lag measured for a target, and when.
type Observation struct {
	MeasuredAt time.Time
	Lag        time.Duration
}

// observationCache is only written by the gate after a completed monitor
// query. The mutex guards the map against the per-target goroutines of a
// single call; serialization between calls is the gate's lock.
type observationCache struct {
	sync.Mutex
	observations map[string]Observation
}

func newObservationCache() *observationCache {
	return &observationCache{
		observations: make(map[string]Observation),
	}
}

func (c *observationCache) get(target string) (Observation, bool) {
	c.Lock()
	defer c.Unlock()
	obs, ok := c.observations[target]
	return obs, ok
}

func (c *observationCache) put(target string, obs Observation) {
	c.Lock()
	defer c.Unlock()
	c.observations[target] = obs
}
