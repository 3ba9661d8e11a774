package websocket

import "context"

// Conn is a minimal interface for a WebSocket connection.
// Read returns one complete data message; control frames are handled by the implementation.
type Conn interface {
	Read(ctx context.Context) (msgType MessageType, payload []byte, err error)
	Write(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Writer enqueues outbound frames and returns false when the payload is not accepted.
type Writer interface {
	Send(msgType MessageType, payload []byte) bool
}
