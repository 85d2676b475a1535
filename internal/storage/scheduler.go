package storage

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Checkpoint scheduler
// ───────────────────────────────────────────────────────────────────────────
//
// A background trigger that periodically asks a pager to checkpoint,
// bounding how much log a crash would force recovery to replay (§4.4,
// §6). Adapted from the job scheduler's CRON/interval split: a checkpoint
// schedule is either a CRON expression or a fixed interval, never both.

// Checkpointer is the subset of *pager.Pager the scheduler depends on.
// Defined as an interface so tests can substitute a counting fake instead
// of standing up a real data directory.
type Checkpointer interface {
	Checkpoint() error
}

// CheckpointScheduler runs Checkpointer.Checkpoint on a CRON schedule or a
// fixed interval. Only one of the two trigger modes is active per
// instance.
type CheckpointScheduler struct {
	pager Checkpointer

	cron     *cron.Cron
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	onError func(error)
}

// NewCronCheckpointScheduler schedules a checkpoint on expr (standard
// five-field CRON syntax, parsed in loc).
func NewCronCheckpointScheduler(p Checkpointer, expr string, loc *time.Location) (*CheckpointScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	s := &CheckpointScheduler{pager: p, cron: c, stopCh: make(chan struct{})}
	if _, err := c.AddFunc(expr, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// NewIntervalCheckpointScheduler schedules a checkpoint every d.
func NewIntervalCheckpointScheduler(p Checkpointer, d time.Duration) *CheckpointScheduler {
	return &CheckpointScheduler{pager: p, interval: d, stopCh: make(chan struct{})}
}

// OnError registers a callback invoked when a checkpoint fails. Without
// one, failures are logged via the standard logger.
func (s *CheckpointScheduler) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Start begins triggering checkpoints; idempotent if already running.
func (s *CheckpointScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if s.cron != nil {
		s.cron.Start()
		return
	}
	go s.runIntervalLoop()
}

// Stop halts the scheduler. A checkpoint already in flight is not
// canceled.
func (s *CheckpointScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		return
	}
	close(s.stopCh)
}

func (s *CheckpointScheduler) runIntervalLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *CheckpointScheduler) runOnce() {
	if err := s.pager.Checkpoint(); err != nil {
		s.mu.Lock()
		onError := s.onError
		s.mu.Unlock()
		if onError != nil {
			onError(err)
		} else {
			log.Printf("checkpoint failed: %v", err)
		}
	}
}
