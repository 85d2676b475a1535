package pager

import (
	"fmt"
	"sync"
	"time"

	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Lock manager
// ───────────────────────────────────────────────────────────────────────────
//
// Per-page reader/writer locks, one record per (page, transaction). There
// is no waits-for graph: contention that does not resolve within a bounded
// number of retries converts into a TransactionAborted error, which is the
// engine's sole deadlock-avoidance mechanism (§4.2, §9).

// LockMode is the mode a transaction holds or requests on a page.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// LockManagerConfig tunes the bounded-retry give-up discipline.
type LockManagerConfig struct {
	RetryBound int           // number of retries before giving up (default 3)
	RetryDelay time.Duration // delay between retries (default 10ms)
}

func (c LockManagerConfig) withDefaults() LockManagerConfig {
	if c.RetryBound <= 0 {
		c.RetryBound = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Millisecond
	}
	return c
}

// pageLock tracks the holders of a single page's lock.
type pageLock struct {
	holders map[TxID]LockMode
}

func (pl *pageLock) hasExclusive() bool {
	for _, m := range pl.holders {
		if m == Exclusive {
			return true
		}
	}
	return false
}

// LockManager grants and releases per-page SHARED/EXCLUSIVE locks.
type LockManager struct {
	cfg LockManagerConfig

	mu    sync.Mutex
	pages map[PageKey]*pageLock
}

// NewLockManager creates a lock manager with the given retry discipline.
func NewLockManager(cfg LockManagerConfig) *LockManager {
	return &LockManager{
		cfg:   cfg.withDefaults(),
		pages: make(map[PageKey]*pageLock),
	}
}

// Acquire blocks until tid holds at least mode on pid, or returns
// ErrTransactionAborted once the retry bound is exhausted.
func (lm *LockManager) Acquire(tid TxID, key PageKey, mode LockMode) error {
	attempt := 0
	for {
		lm.mu.Lock()
		pl, ok := lm.pages[key]
		if !ok {
			pl = &pageLock{holders: make(map[TxID]LockMode)}
			lm.pages[key] = pl
		}

		if granted := lm.tryGrantLocked(pl, tid, mode); granted {
			lm.mu.Unlock()
			return nil
		}
		lm.mu.Unlock()

		if attempt >= lm.cfg.RetryBound {
			return storage.ErrTransactionAborted
		}
		attempt++
		time.Sleep(lm.cfg.RetryDelay)
	}
}

// tryGrantLocked attempts to grant mode to tid on pl, assuming lm.mu is
// held. Implements the rules of §4.2 exactly, including upgrade.
func (lm *LockManager) tryGrantLocked(pl *pageLock, tid TxID, mode LockMode) bool {
	current, held := pl.holders[tid]

	if held && current == Exclusive {
		// Already exclusive — any subsequent request is satisfied.
		return true
	}
	if held && current == Shared && mode == Shared {
		// Shared requesting shared again is a no-op.
		return true
	}
	if held && current == Shared && mode == Exclusive {
		// Upgrade: only the sole shared holder may upgrade.
		if len(pl.holders) == 1 {
			pl.holders[tid] = Exclusive
			return true
		}
		return false
	}

	// Not currently held by tid.
	switch mode {
	case Shared:
		if pl.hasExclusive() {
			return false
		}
		pl.holders[tid] = Shared
		return true
	case Exclusive:
		if len(pl.holders) > 0 {
			return false
		}
		pl.holders[tid] = Exclusive
		return true
	}
	return false
}

// Release removes tid's lock record on key, if any. When the page's lock
// table becomes empty, its entry is pruned.
func (lm *LockManager) Release(tid TxID, key PageKey) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pl, ok := lm.pages[key]
	if !ok {
		return
	}
	delete(pl.holders, tid)
	if len(pl.holders) == 0 {
		delete(lm.pages, key)
	}
}

// ReleaseAll releases every lock held by tid across all pages.
func (lm *LockManager) ReleaseAll(tid TxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for key, pl := range lm.pages {
		if _, held := pl.holders[tid]; held {
			delete(pl.holders, tid)
			if len(pl.holders) == 0 {
				delete(lm.pages, key)
			}
		}
	}
}

// HoldsLock reports whether tid currently holds any lock on pid.
func (lm *LockManager) HoldsLock(tid TxID, key PageKey) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pl, ok := lm.pages[key]
	if !ok {
		return false
	}
	_, held := pl.holders[tid]
	return held
}

// HeldMode returns the lock mode tid holds on pid, and whether it holds one
// at all.
func (lm *LockManager) HeldMode(tid TxID, key PageKey) (LockMode, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pl, ok := lm.pages[key]
	if !ok {
		return 0, false
	}
	m, held := pl.holders[tid]
	return m, held
}

// String renders a short diagnostic summary, useful in tests.
func (lm *LockManager) String() string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return fmt.Sprintf("LockManager{%d locked pages}", len(lm.pages))
}
