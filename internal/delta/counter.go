// Package delta turns cumulative kernel counters into rates.
//
// A Counter remembers the previous value and time of every entity it has
// seen. Nothing here is safe for concurrent use; the poll loop that owns
// an Engine is its only caller.
package delta

import "time"

const (
	// MinInterval is the shortest elapsed time treated as a real interval.
	MinInterval = time.Millisecond
	// FloorInterval replaces intervals shorter than MinInterval.
	FloorInterval = time.Second
)

// Delta is the increase of a counter over an elapsed interval.
type Delta struct {
	Value   float64
	Elapsed time.Duration
}

// PerSecond returns Value divided by Elapsed.
func (d Delta) PerSecond() float64 {
	secs := d.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return d.Value / secs
}

// Floor returns d, or FloorInterval when d is below MinInterval. Negative
// durations from a clock step land here too.
func Floor(d time.Duration) time.Duration {
	if d < MinInterval {
		return FloorInterval
	}
	return d
}

type mark struct {
	value uint64
	at    time.Time
}

// Counter is a table of previous samples keyed by entity id.
type Counter struct {
	entries map[string]mark
}

// NewCounter returns an empty table.
func NewCounter() *Counter {
	return &Counter{entries: make(map[string]mark)}
}

// Observe records cur for id and returns the increase since the previous
// observation. ok is false on the first observation. A counter that went
// backwards yields a zero Value.
func (c *Counter) Observe(id string, cur uint64, now time.Time) (d Delta, ok bool) {
	prev, ok := c.entries[id]
	c.entries[id] = mark{value: cur, at: now}
	if !ok {
		return Delta{}, false
	}
	d.Elapsed = Floor(now.Sub(prev.at))
	if cur > prev.value {
		d.Value = float64(cur - prev.value)
	}
	return d, true
}

// Rate records cur and returns the per-second increase, 0 on first sight.
func (c *Counter) Rate(id string, cur uint64, now time.Time) float64 {
	d, ok := c.Observe(id, cur, now)
	if !ok {
		return 0
	}
	return d.PerSecond()
}

// Forget drops id.
func (c *Counter) Forget(id string) { delete(c.entries, id) }

// Retain drops every id not in observed and returns how many were dropped.
func (c *Counter) Retain(observed map[string]struct{}) int {
	var n int
	for id := range c.entries {
		if _, ok := observed[id]; !ok {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Has reports whether id has a previous sample.
func (c *Counter) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

// Len returns the number of tracked ids.
func (c *Counter) Len() int { return len(c.entries) }
