package storage

import (
	"sync"
	"testing"
	"time"
)

type countingCheckpointer struct {
	mu      sync.Mutex
	calls   int
	failNext bool
}

func (c *countingCheckpointer) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failNext {
		c.failNext = false
		return NewError(KindIOException, "checkpoint failed")
	}
	return nil
}

func (c *countingCheckpointer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestIntervalSchedulerRunsRepeatedly(t *testing.T) {
	cp := &countingCheckpointer{}
	s := NewIntervalCheckpointScheduler(cp, 10*time.Millisecond)
	s.Start()
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	if n := cp.callCount(); n < 2 {
		t.Fatalf("expected at least 2 checkpoint calls, got %d", n)
	}
}

func TestIntervalSchedulerStopHaltsFurtherRuns(t *testing.T) {
	cp := &countingCheckpointer{}
	s := NewIntervalCheckpointScheduler(cp, 10*time.Millisecond)
	s.Start()
	time.Sleep(25 * time.Millisecond)
	s.Stop()
	n := cp.callCount()
	time.Sleep(30 * time.Millisecond)
	if after := cp.callCount(); after != n {
		t.Fatalf("expected no further calls after Stop, got %d -> %d", n, after)
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	cp := &countingCheckpointer{}
	s := NewIntervalCheckpointScheduler(cp, 10*time.Millisecond)
	s.Start()
	s.Start()
	time.Sleep(25 * time.Millisecond)
	s.Stop()
	if cp.callCount() < 1 {
		t.Fatalf("expected at least one checkpoint call")
	}
}

func TestOnErrorCallbackFiresOnCheckpointFailure(t *testing.T) {
	cp := &countingCheckpointer{failNext: true}
	s := NewIntervalCheckpointScheduler(cp, 10*time.Millisecond)

	var mu sync.Mutex
	var gotErr error
	s.OnError(func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})

	s.Start()
	time.Sleep(25 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatalf("expected OnError callback to fire with an error")
	}
}

func TestCronSchedulerStartsAndStops(t *testing.T) {
	cp := &countingCheckpointer{}
	// every minute is the finest granularity the standard 5-field parser
	// supports, so no firing is expected within this test.
	s, err := NewCronCheckpointScheduler(cp, "* * * * *", time.UTC)
	if err != nil {
		t.Fatalf("NewCronCheckpointScheduler: %v", err)
	}
	s.Start()
	s.Stop()
	// Without waiting a full minute we only verify construction and
	// start/stop do not deadlock or panic; timing-sensitive firing is
	// covered by the interval scheduler tests above.
}
