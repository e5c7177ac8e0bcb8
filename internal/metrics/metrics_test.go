package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRingCollector_LatencyBounded(t *testing.T) {
	c := NewRingCollector(4)

	for i := 1; i <= 10; i++ {
		c.RecordLatency(StageEmbed, time.Duration(i)*time.Millisecond)
	}

	snap := c.Snapshot()
	got := snap.Latencies[StageEmbed]
	if len(got) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(got))
	}
	// Oldest first: 7ms, 8ms, 9ms, 10ms.
	want := []time.Duration{7 * time.Millisecond, 8 * time.Millisecond, 9 * time.Millisecond, 10 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("samples[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRingCollector_PartialRing(t *testing.T) {
	c := NewRingCollector(8)
	c.RecordLatency(StageRetrieve, time.Millisecond)
	c.RecordLatency(StageRetrieve, 2*time.Millisecond)

	got := c.Snapshot().Latencies[StageRetrieve]
	if len(got) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(got))
	}
	if got[0] != time.Millisecond || got[1] != 2*time.Millisecond {
		t.Errorf("samples = %v, want [1ms 2ms]", got)
	}
}

func TestRingCollector_Counters(t *testing.T) {
	c := NewRingCollector(0)

	c.IncBelowThreshold("en")
	c.IncBelowThreshold("en")
	c.IncBelowThreshold("ur")
	c.IncGuestRejected()
	c.IncTokenReuse()

	snap := c.Snapshot()
	if snap.BelowThreshold["en"] != 2 {
		t.Errorf("BelowThreshold[en] = %d, want 2", snap.BelowThreshold["en"])
	}
	if snap.BelowThreshold["ur"] != 1 {
		t.Errorf("BelowThreshold[ur] = %d, want 1", snap.BelowThreshold["ur"])
	}
	if snap.GuestRejected != 1 {
		t.Errorf("GuestRejected = %d, want 1", snap.GuestRejected)
	}
	if snap.TokenReuse != 1 {
		t.Errorf("TokenReuse = %d, want 1", snap.TokenReuse)
	}
}

func TestRingCollector_ConcurrentAccess(t *testing.T) {
	c := NewRingCollector(32)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordLatency(StageGenerate, time.Microsecond)
				c.IncGuestRejected()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.GuestRejected != 800 {
		t.Errorf("GuestRejected = %d, want 800", snap.GuestRejected)
	}
	if len(snap.Latencies[StageGenerate]) != 32 {
		t.Errorf("len(samples) = %d, want 32", len(snap.Latencies[StageGenerate]))
	}
}
