package enum

// EventKind describes the meaning of a normalized event payload.
type EventKind uint8

const (
	_event_kind_beg EventKind = iota
	EventBookSnapshot
	EventBookDelta
	EventTrade
	_event_kind_end
)

func (k EventKind) IsAvailable() bool {
	return k > _event_kind_beg && k < _event_kind_end
}

// IsBook reports whether the event mutates an order book.
func (k EventKind) IsBook() bool {
	return k == EventBookSnapshot || k == EventBookDelta
}

func (k EventKind) String() string {
	switch k {
	case EventBookSnapshot:
		return "snapshot"
	case EventBookDelta:
		return "delta"
	case EventTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Side is the book side of a level or the aggressor side of a trade.
type Side uint8

const (
	_side_beg Side = iota
	SideBid
	SideAsk
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}
