package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

const (
	DefaultWriteQueueSize = 64
	DefaultWriteTimeout   = 5 * time.Second
)

// Handler consumes one inbound data message. A returned error drops the connection.
type Handler func(ctx context.Context, msgType MessageType, payload []byte) error

// Option configures a Session.
type Option struct {
	// Backoff controls reconnect delays and the retry budget.
	Backoff Backoff
	// WriteQueueSize bounds the outbound queue.
	WriteQueueSize int
	// WriteOverflow decides what happens when the outbound queue is full.
	WriteOverflow OverflowPolicy
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
	// PingInterval enables client keepalive when positive.
	PingInterval time.Duration
	// Ping builds the keepalive frame, a protocol ping when nil.
	Ping func() (MessageType, []byte)
	// OnConnect runs after dialing, before streaming. Writes through w go straight to the socket.
	OnConnect func(ctx context.Context, w Writer) error
	// OnMessage receives every inbound data message.
	OnMessage Handler
	// ReadInit runs on the reader goroutine before the first read, release runs when it exits.
	ReadInit func() (release func())
	// OnState observes state transitions.
	OnState func(state State, attempt, maxAttempts int, err error)
}

// Session keeps one logical WebSocket stream alive across reconnects.
type Session struct {
	dialer  Dialer
	opt     Option
	writer  *writer
	state   atomic.Uint32
	attempt atomic.Int64
}

func NewSession(dialer Dialer, opt Option) *Session {
	if opt.WriteQueueSize <= 0 {
		opt.WriteQueueSize = DefaultWriteQueueSize
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	s := &Session{
		dialer: dialer,
		opt:    opt,
		writer: newWriter(opt.WriteQueueSize, opt.WriteOverflow),
	}
	s.state.Store(uint32(StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Attempt returns the current consecutive failure count.
func (s *Session) Attempt() int {
	return int(s.attempt.Load())
}

// Send queues a frame for the active connection.
func (s *Session) Send(msgType MessageType, payload []byte) error {
	if !s.writer.connected.Load() {
		return exception.ErrNotConnected
	}
	if !s.writer.Send(msgType, payload) {
		return exception.ErrQueueFull
	}
	return nil
}

func (s *Session) setState(state State, attempt int, err error) {
	s.state.Store(uint32(state))
	s.attempt.Store(int64(attempt))
	if s.opt.OnState != nil {
		s.opt.OnState(state, attempt, s.opt.Backoff.MaxAttempts, err)
	}
}

// Run dials, streams and reconnects until ctx is done or the retry budget is spent.
// It returns nil on cancellation and an error wrapping exception.ErrRetryExhausted otherwise.
func (s *Session) Run(ctx context.Context) error {
	if s.dialer == nil {
		return errors.Wrap(exception.ErrNilInstance, "session dialer")
	}
	s.setState(StateConnecting, 0, nil)

	attempt := 0
	for {
		streamed, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected, 0, nil)
			return nil
		}
		if streamed {
			attempt = 0
		}
		attempt++
		if s.opt.Backoff.Exhausted(attempt) {
			s.setState(StateFailed, attempt-1, err)
			return errors.Wrap(exception.ErrRetryExhausted, errMessage(err)).With("attempts", attempt-1)
		}
		s.setState(StateReconnecting, attempt, err)
		if !sleep(ctx, s.opt.Backoff.Next(attempt)) {
			s.setState(StateDisconnected, 0, nil)
			return nil
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return "connection lost"
	}
	return err.Error()
}

// connectOnce runs a single connection lifetime. streamed reports whether any message arrived.
func (s *Session) connectOnce(ctx context.Context) (streamed bool, err error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return false, err
	}

	s.setState(StateSubscribing, int(s.attempt.Load()), nil)
	if s.opt.OnConnect != nil {
		direct := &directWriter{ctx: ctx, conn: conn, timeout: s.opt.WriteTimeout}
		if err := s.opt.OnConnect(ctx, direct); err != nil {
			_ = conn.Close(CloseNormal, "on_connect_failed")
			return false, err
		}
		if direct.err != nil {
			_ = conn.Close(CloseNormal, "subscribe_failed")
			return false, direct.err
		}
	}

	s.writer.SetConnected(true)
	s.setState(StateStreaming, 0, nil)
	streamed, err = s.stream(ctx, conn)
	s.writer.SetConnected(false)
	s.writer.Drain()
	return streamed, err
}

func (s *Session) stream(ctx context.Context, conn Conn) (bool, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	var received atomic.Bool

	go func() {
		defer close(done)
		if s.opt.ReadInit != nil {
			if release := s.opt.ReadInit(); release != nil {
				defer release()
			}
		}
		for {
			msgType, payload, err := conn.Read(sessionCtx)
			if err != nil {
				errCh <- err
				return
			}
			received.Store(true)
			if s.opt.OnMessage == nil {
				continue
			}
			if err := s.opt.OnMessage(sessionCtx, msgType, payload); err != nil {
				errCh <- err
				return
			}
		}
	}()

	defer func() {
		cancel()
		_ = conn.Close(CloseNormal, "session_end")
		<-done
	}()

	var ping <-chan time.Time
	if s.opt.PingInterval > 0 {
		ticker := time.NewTicker(s.opt.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return received.Load(), ctx.Err()
		case err := <-errCh:
			return received.Load(), err
		case frame := <-s.writer.queue:
			if err := s.write(sessionCtx, conn, frame.msgType, frame.payload); err != nil {
				return received.Load(), err
			}
		case <-ping:
			msgType, payload := MessagePing, []byte(nil)
			if s.opt.Ping != nil {
				msgType, payload = s.opt.Ping()
			}
			if err := s.write(sessionCtx, conn, msgType, payload); err != nil {
				return received.Load(), err
			}
		}
	}
}

func (s *Session) write(ctx context.Context, conn Conn, msgType MessageType, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.opt.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, msgType, payload)
}

// directWriter writes synchronously during OnConnect and keeps the first error.
type directWriter struct {
	ctx     context.Context
	conn    Conn
	timeout time.Duration
	err     error
}

func (w *directWriter) Send(msgType MessageType, payload []byte) bool {
	if w.err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	if err := w.conn.Write(ctx, msgType, payload); err != nil {
		w.err = err
		return false
	}
	return true
}

func sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
