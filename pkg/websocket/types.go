package websocket

// MessageType represents a WebSocket message type.
// Values match RFC 6455 opcodes where applicable.
type MessageType uint8

const (
	// MessageText is a text data frame.
	MessageText MessageType = 1
	// MessageBinary is a binary data frame.
	MessageBinary MessageType = 2
	// MessageClose is a close control frame.
	MessageClose MessageType = 8
	// MessagePing is a ping control frame.
	MessagePing MessageType = 9
	// MessagePong is a pong control frame.
	MessagePong MessageType = 10
)

// IsControl reports whether t is a control frame type.
func (t MessageType) IsControl() bool {
	return t >= MessageClose
}

// CloseCode is a WebSocket close code.
type CloseCode uint16

const (
	// CloseNormal indicates a normal closure.
	CloseNormal CloseCode = 1000
	// CloseGoingAway indicates the endpoint is going away.
	CloseGoingAway CloseCode = 1001
)

// State is the connection state of a Session.
type State uint8

const (
	_state_beg State = iota
	StateDisconnected
	StateConnecting
	StateSubscribing
	StateStreaming
	StateReconnecting
	StateFailed
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowDropNewest drops the incoming item if the queue is full.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest drops the oldest item to make room.
	OverflowDropOldest
	// OverflowBlock blocks until space is available.
	OverflowBlock
)
