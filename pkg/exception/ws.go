package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketConnectionClose = errors.New("websocket: connection closed")
	ErrWebSocketProtocol        = errors.New("websocket: protocol error")
	ErrRetryExhausted           = errors.New("websocket: retry budget exhausted")
	ErrNotConnected             = errors.New("websocket: not connected")
	ErrQueueFull                = errors.New("websocket: outbound queue full")
)

// Collector errors
var (
	ErrShutdownTimeout = errors.New("collector: shutdown timed out")
	ErrCollectorClosed = errors.New("collector: closed")
)
