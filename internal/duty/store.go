package duty

import (
	"sync"
	"sync/atomic"

	"github.com/ethduties/duty-console/internal/slotclock"
)

// Store holds the last merged, sorted duty list and decides whether it is
// still fresh enough to serve without refetching (spec.md §4.6).
type Store struct {
	clock *slotclock.Clock

	mu      sync.RWMutex
	current []*Duty

	updateFlag atomic.Bool
}

// NewStore builds an empty Store bound to clock for freshness checks.
func NewStore(clock *slotclock.Clock) *Store {
	return &Store{clock: clock}
}

// Set replaces the held duty list after a fetch cycle.
func (s *Store) Set(duties []*Duty) {
	s.mu.Lock()
	s.current = duties
	s.mu.Unlock()
}

// Get returns the currently held duty list.
func (s *Store) Get() []*Duty {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Duty, len(s.current))
	copy(out, s.current)

	return out
}

// MarkIdentifiersUpdated raises the update flag; the next IsFresh call will
// report stale and ConsumeUpdateFlag will report true exactly once.
func (s *Store) MarkIdentifiersUpdated() {
	s.updateFlag.Store(true)
}

// ConsumeUpdateFlag clears and returns the update flag. The main loop calls
// this on every cycle that refetches; the fetcher reads a fresh registry
// snapshot on every fetch regardless of the result.
func (s *Store) ConsumeUpdateFlag() bool {
	return s.updateFlag.Swap(false)
}

// IsFresh reports whether duties can still be served without a refetch, per
// spec.md §4.6: the registry update flag must not be raised, the leading
// sync-committee duty's epoch must not have elapsed, and the earliest
// non-sync-committee duty's slot must not have elapsed. Sync-committee
// duties always sort to the front at slot 0 (fetcher.go), so checking only
// duties[0] would miss an already-elapsed attestation/proposing duty
// further down the list whenever a sync duty leads.
func (s *Store) IsFresh(duties []*Duty) bool {
	if s.updateFlag.Load() {
		return false
	}

	if len(duties) == 0 {
		return true
	}

	if duties[0].Type == TypeSyncCommittee && uint64(duties[0].Epoch) < s.clock.CurrentEpoch() {
		return false
	}

	for _, d := range duties {
		if d.Type == TypeSyncCommittee {
			continue
		}

		return uint64(d.Slot) > s.clock.CurrentSlot()
	}

	return true
}
