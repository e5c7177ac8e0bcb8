// Package metrics provides an injected metrics collector for the query
// pipeline.
//
// Components receive a Collector through their constructors; there are no
// package-level counters. The default implementation keeps bounded ring
// buffers of recent observations so memory stays constant regardless of
// traffic.
package metrics

import (
	"sync"
	"time"
)

// Pipeline stages recorded by the orchestrator.
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
	StagePersist  = "persist"
)

// Collector receives observations from the query pipeline and the auth layer.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordLatency records how long a pipeline stage took.
	RecordLatency(stage string, d time.Duration)

	// IncBelowThreshold counts a query whose best retrieval score fell
	// below the acceptance threshold (content-gap signal).
	IncBelowThreshold(language string)

	// IncGuestRejected counts a query rejected by the guest quota.
	IncGuestRejected()

	// IncTokenReuse counts a refresh-token reuse detection.
	IncTokenReuse()
}

// Snapshot is a point-in-time view of collected metrics.
type Snapshot struct {
	Latencies      map[string][]time.Duration
	BelowThreshold map[string]uint64
	GuestRejected  uint64
	TokenReuse     uint64
}

// RingCollector is a Collector backed by fixed-capacity ring buffers.
type RingCollector struct {
	mu             sync.Mutex
	capacity       int
	latencies      map[string]*ring
	belowThreshold map[string]uint64
	guestRejected  uint64
	tokenReuse     uint64
}

// NewRingCollector creates a collector keeping at most capacity latency
// samples per stage. capacity <= 0 defaults to 256.
func NewRingCollector(capacity int) *RingCollector {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingCollector{
		capacity:       capacity,
		latencies:      make(map[string]*ring),
		belowThreshold: make(map[string]uint64),
	}
}

func (c *RingCollector) RecordLatency(stage string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.latencies[stage]
	if !ok {
		r = newRing(c.capacity)
		c.latencies[stage] = r
	}
	r.push(d)
}

func (c *RingCollector) IncBelowThreshold(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.belowThreshold[language]++
}

func (c *RingCollector) IncGuestRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guestRejected++
}

func (c *RingCollector) IncTokenReuse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenReuse++
}

// Snapshot returns a copy of the current state.
func (c *RingCollector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Latencies:      make(map[string][]time.Duration, len(c.latencies)),
		BelowThreshold: make(map[string]uint64, len(c.belowThreshold)),
		GuestRejected:  c.guestRejected,
		TokenReuse:     c.tokenReuse,
	}
	for stage, r := range c.latencies {
		snap.Latencies[stage] = r.values()
	}
	for lang, n := range c.belowThreshold {
		snap.BelowThreshold[lang] = n
	}
	return snap
}

// ring is a fixed-capacity circular buffer of durations.
type ring struct {
	buf  []time.Duration
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]time.Duration, capacity)}
}

func (r *ring) push(d time.Duration) {
	r.buf[r.next] = d
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// values returns samples in insertion order, oldest first.
func (r *ring) values() []time.Duration {
	if !r.full {
		out := make([]time.Duration, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]time.Duration, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Nop is a Collector that discards everything. Useful in tests.
type Nop struct{}

func (Nop) RecordLatency(string, time.Duration) {}
func (Nop) IncBelowThreshold(string)            {}
func (Nop) IncGuestRejected()                   {}
func (Nop) IncTokenReuse()                      {}
