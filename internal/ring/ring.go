package ring

import "sync/atomic"

const cacheLine = 64

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded lock-free queue. Each slot carries a sequence number so
// producers and consumers claim positions with a single CAS and never block.
// Any number of goroutines may push and pop concurrently.
type Ring[T any] struct {
	_     [cacheLine]byte
	head  atomic.Uint64
	_     [cacheLine - 8]byte
	tail  atomic.Uint64
	_     [cacheLine - 8]byte
	mask  uint64
	slots []slot[T]
}

// New allocates a ring. The capacity is rounded up to a power of two, minimum 2.
func New[T any](capacity int) *Ring[T] {
	size := uint64(2)
	for size < uint64(max(capacity, 0)) {
		size <<= 1
	}
	r := &Ring[T]{
		mask:  size - 1,
		slots: make([]slot[T], size),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Len is a point-in-time estimate, always within [0, Cap].
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if head <= tail {
		return 0
	}
	n := head - tail
	if n > uint64(len(r.slots)) {
		return len(r.slots)
	}
	return int(n)
}

// TryPush enqueues v. It returns false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	pos := r.head.Load()
	for {
		s := &r.slots[pos&r.mask]
		dif := int64(s.seq.Load()) - int64(pos)
		switch {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
			pos = r.head.Load()
		case dif < 0:
			return false
		default:
			pos = r.head.Load()
		}
	}
}

// TryPop dequeues the oldest element. It returns false when the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	pos := r.tail.Load()
	for {
		s := &r.slots[pos&r.mask]
		dif := int64(s.seq.Load()) - int64(pos+1)
		switch {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				v := s.val
				s.val = zero
				s.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.tail.Load()
		case dif < 0:
			return zero, false
		default:
			pos = r.tail.Load()
		}
	}
}
