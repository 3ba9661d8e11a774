package ring

import (
	"context"
	"sync/atomic"
	"time"

	"marketcore/pkg/exception"
)

// OverflowPolicy defines stage behavior when the ring is full.
type OverflowPolicy uint8

const (
	// OverflowDropNewest drops the incoming item.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest queued item to make room.
	OverflowDropOldest
	// OverflowBlock waits up to the stage timeout for space.
	OverflowBlock
)

// ParseOverflowPolicy maps configuration names to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop_newest":
		return OverflowDropNewest, true
	case "drop_oldest":
		return OverflowDropOldest, true
	case "block":
		return OverflowBlock, true
	default:
		return 0, false
	}
}

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDropNewest:
		return "drop_newest"
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowBlock:
		return "block"
	default:
		return "unknown"
	}
}

const defaultBlockTimeout = 5 * time.Millisecond

// StageStats is a point-in-time view of stage counters.
type StageStats struct {
	Pushed  uint64
	Dropped uint64
	Evicted uint64
	Len     int
	Cap     int
}

// Stage is a ring with an overflow policy and drop accounting.
type Stage[T any] struct {
	name    string
	ring    *Ring[T]
	policy  OverflowPolicy
	timeout time.Duration

	pushed  atomic.Uint64
	dropped atomic.Uint64
	evicted atomic.Uint64
}

func NewStage[T any](name string, capacity int, policy OverflowPolicy, timeout time.Duration) *Stage[T] {
	if timeout <= 0 {
		timeout = defaultBlockTimeout
	}
	return &Stage[T]{
		name:    name,
		ring:    New[T](capacity),
		policy:  policy,
		timeout: timeout,
	}
}

func (s *Stage[T]) Name() string {
	return s.name
}

// Push enqueues v according to the overflow policy. It never blocks longer
// than the stage timeout.
func (s *Stage[T]) Push(ctx context.Context, v T) error {
	if s.ring.TryPush(v) {
		s.pushed.Add(1)
		return nil
	}

	switch s.policy {
	case OverflowDropOldest:
		for range 4 {
			if _, ok := s.ring.TryPop(); ok {
				s.evicted.Add(1)
			}
			if s.ring.TryPush(v) {
				s.pushed.Add(1)
				return nil
			}
		}
	case OverflowBlock:
		deadline := time.Now().Add(s.timeout)
		idle := Idle{Spins: 16, Min: 10 * time.Microsecond, Max: 200 * time.Microsecond}
		for time.Now().Before(deadline) {
			if !idle.Wait(ctx) {
				break
			}
			if s.ring.TryPush(v) {
				s.pushed.Add(1)
				return nil
			}
		}
		s.dropped.Add(1)
		return exception.ErrStagingTimeout
	}

	s.dropped.Add(1)
	return exception.ErrStagingFull
}

func (s *Stage[T]) TryPop() (T, bool) {
	return s.ring.TryPop()
}

func (s *Stage[T]) Len() int {
	return s.ring.Len()
}

func (s *Stage[T]) Stats() StageStats {
	return StageStats{
		Pushed:  s.pushed.Load(),
		Dropped: s.dropped.Load(),
		Evicted: s.evicted.Load(),
		Len:     s.ring.Len(),
		Cap:     s.ring.Cap(),
	}
}
