package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and single-shot CLI
// runs where no Mongo URI is configured. All rules match the Mongo
// implementation; the mutex stands in for the backend's atomicity.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Checkpoint
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Checkpoint),
		now:     time.Now,
	}
}

// Enqueue creates a pending checkpoint if none exists. With refresh,
// terminal checkpoints are re-queued via the refresh transition.
func (s *MemoryStore) Enqueue(ctx context.Context, target catalog.Target, refresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[target.CanonicalID]
	if !ok {
		s.records[target.CanonicalID] = &Checkpoint{
			CanonicalID: target.CanonicalID,
			Channel:     target.Channel,
			State:       StatePending,
			UpdatedAt:   s.now(),
		}
		return nil
	}
	if refresh && cp.State.Terminal() && cp.State != StateSkipped {
		next, err := Transition(cp.State, EventRefresh)
		if err != nil {
			return err
		}
		cp.State = next
		cp.Attempts = 0
		cp.NotBefore = nil
		cp.LastError, cp.LastErrorCode = "", ""
		cp.UpdatedAt = s.now()
	}
	return nil
}

// Claim atomically takes a pending (or stale-processing) checkpoint.
func (s *MemoryStore) Claim(ctx context.Context, canonicalID, worker string, staleAfter time.Duration) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[canonicalID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	}

	now := s.now()
	state := cp.State
	if state == StateProcessing && cp.ClaimedAt != nil && now.Sub(*cp.ClaimedAt) > staleAfter {
		// Stale claim: the holder is presumed dead, reclaim it.
		state = StatePending
	}
	if state == StatePending && cp.NotBefore != nil && now.Before(*cp.NotBefore) {
		return nil, errors.New(errors.ErrCodeAlreadyProcessing, "target is backing off until %s", cp.NotBefore.Format(time.RFC3339))
	}

	next, err := Transition(state, EventClaim)
	if err != nil {
		return nil, err
	}
	cp.State = next
	cp.Worker = worker
	cp.ClaimedAt = &now
	cp.UpdatedAt = now
	out := *cp
	return &out, nil
}

// MarkCompleted records terminal success.
func (s *MemoryStore) MarkCompleted(ctx context.Context, canonicalID string) error {
	return s.apply(canonicalID, EventSucceed, func(cp *Checkpoint, now time.Time) {
		cp.CompletedAt = &now
		cp.Worker = ""
		cp.ClaimedAt = nil
		cp.NotBefore = nil
		cp.LastError, cp.LastErrorCode = "", ""
	})
}

// MarkSkipped records terminal intentional exclusion.
func (s *MemoryStore) MarkSkipped(ctx context.Context, canonicalID string, failure Failure) error {
	return s.apply(canonicalID, EventSkip, func(cp *Checkpoint, now time.Time) {
		cp.Worker = ""
		cp.ClaimedAt = nil
		cp.LastError = failure.Message
		cp.LastErrorCode = failure.Code
	})
}

// MarkFailed records terminal failure directly, spending whatever retry
// budget remained. The target is never picked up again unless an
// operator refreshes it.
func (s *MemoryStore) MarkFailed(ctx context.Context, canonicalID string, failure Failure) error {
	return s.apply(canonicalID, EventExhaust, func(cp *Checkpoint, now time.Time) {
		cp.Attempts++
		cp.Worker = ""
		cp.ClaimedAt = nil
		cp.NotBefore = nil
		cp.LastError = failure.Message
		cp.LastErrorCode = failure.Code
	})
}

// RecordFailure increments attempts and re-queues or terminally fails.
func (s *MemoryStore) RecordFailure(ctx context.Context, canonicalID string, failure Failure, maxAttempts int, retryIn time.Duration) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[canonicalID]
	if !ok {
		return "", errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	}

	event := EventRequeue
	if cp.Attempts+1 >= maxAttempts {
		event = EventExhaust
	}
	next, err := Transition(cp.State, event)
	if err != nil {
		return cp.State, err
	}

	now := s.now()
	cp.State = next
	cp.Attempts++
	cp.Worker = ""
	cp.ClaimedAt = nil
	cp.LastError = failure.Message
	cp.LastErrorCode = failure.Code
	cp.UpdatedAt = now
	if next == StatePending && retryIn > 0 {
		nb := now.Add(retryIn)
		cp.NotBefore = &nb
	} else {
		cp.NotBefore = nil
	}
	return next, nil
}

// Release returns a processing claim to pending without an attempt.
func (s *MemoryStore) Release(ctx context.Context, canonicalID string) error {
	return s.apply(canonicalID, EventRelease, func(cp *Checkpoint, now time.Time) {
		cp.Worker = ""
		cp.ClaimedAt = nil
	})
}

// Get returns a copy of the checkpoint for one target.
func (s *MemoryStore) Get(ctx context.Context, canonicalID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[canonicalID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	}
	out := *cp
	return &out, nil
}

// NextPending returns claimable pending targets, oldest first.
func (s *MemoryStore) NextPending(ctx context.Context, limit int) ([]catalog.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ready []*Checkpoint
	for _, cp := range s.records {
		if cp.State != StatePending {
			continue
		}
		if cp.NotBefore != nil && now.Before(*cp.NotBefore) {
			continue
		}
		ready = append(ready, cp)
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].UpdatedAt.Before(ready[j].UpdatedAt) })

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	targets := make([]catalog.Target, len(ready))
	for i, cp := range ready {
		targets[i] = catalog.Target{CanonicalID: cp.CanonicalID, Channel: cp.Channel}
	}
	return targets, nil
}

// Counts returns the number of checkpoints per state.
func (s *MemoryStore) Counts(ctx context.Context) (map[State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[State]int64, len(States))
	for _, st := range States {
		counts[st] = 0
	}
	for _, cp := range s.records {
		counts[cp.State]++
	}
	return counts, nil
}

// Close does nothing for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// SetClock overrides the store's clock. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) apply(canonicalID string, event Event, mutate func(*Checkpoint, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.records[canonicalID]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "no checkpoint for %s", canonicalID)
	}
	next, err := Transition(cp.State, event)
	if err != nil {
		return err
	}
	now := s.now()
	cp.State = next
	cp.UpdatedAt = now
	mutate(cp, now)
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
