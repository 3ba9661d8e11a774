package websocket

import (
	"sync/atomic"
)

type outbound struct {
	msgType MessageType
	payload []byte
}

// writer provides a bounded outbound queue drained by the session loop.
type writer struct {
	queue     chan outbound
	policy    OverflowPolicy
	connected atomic.Bool
	dropped   atomic.Uint64
}

func newWriter(capacity int, policy OverflowPolicy) *writer {
	if capacity <= 0 {
		capacity = 1
	}
	return &writer{
		queue:  make(chan outbound, capacity),
		policy: policy,
	}
}

// SetConnected toggles the writer connection state.
func (w *writer) SetConnected(connected bool) {
	w.connected.Store(connected)
}

// Send copies payload and queues it according to the overflow policy.
func (w *writer) Send(msgType MessageType, payload []byte) bool {
	if !w.connected.Load() {
		return false
	}
	frame := outbound{msgType: msgType, payload: append([]byte(nil), payload...)}
	switch w.policy {
	case OverflowBlock:
		w.queue <- frame
		return true
	case OverflowDropOldest:
		for range 4 {
			select {
			case w.queue <- frame:
				return true
			default:
			}
			select {
			case <-w.queue:
				w.dropped.Add(1)
			default:
			}
		}
		w.dropped.Add(1)
		return false
	default:
		select {
		case w.queue <- frame:
			return true
		default:
			w.dropped.Add(1)
			return false
		}
	}
}

// Dropped returns the number of frames discarded by the overflow policy.
func (w *writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Drain clears the queue.
func (w *writer) Drain() {
	for {
		select {
		case <-w.queue:
		default:
			return
		}
	}
}
