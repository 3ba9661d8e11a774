package websocket

import (
	"context"
	"net"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultReadLimit        = 16 << 20

	controlWriteTimeout = time.Second
)

// DialOption tunes the gorilla dialer.
type DialOption struct {
	// Header is sent with the upgrade request.
	Header http.Header
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// ReadTimeout drops an idle connection, reset by every frame including pings.
	ReadTimeout time.Duration
	// ReadLimit caps the size of one message.
	ReadLimit int64
	// Compression negotiates permessage-deflate.
	Compression bool
}

type dialer struct {
	url    string
	opt    DialOption
	dialer *gws.Dialer
}

// NewDialer returns a Dialer for url backed by gorilla/websocket.
func NewDialer(url string, opt DialOption) Dialer {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opt.ReadTimeout <= 0 {
		opt.ReadTimeout = DefaultReadTimeout
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	return &dialer{
		url: url,
		opt: opt,
		dialer: &gws.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opt.HandshakeTimeout,
			EnableCompression: opt.Compression,
			ReadBufferSize:    32 << 10,
			WriteBufferSize:   4 << 10,
		},
	}
}

func (d *dialer) Dial(ctx context.Context) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, d.url, d.opt.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "dial websocket").With("url", d.url)
	}
	c.SetReadLimit(d.opt.ReadLimit)

	conn := &wsConn{c: c, readTimeout: d.opt.ReadTimeout}
	c.SetPingHandler(conn.handlePing)
	c.SetPongHandler(func(string) error {
		return conn.extendRead()
	})
	return conn, nil
}

type wsConn struct {
	c           *gws.Conn
	readTimeout time.Duration
}

func (c *wsConn) extendRead() error {
	return c.c.SetReadDeadline(time.Now().Add(c.readTimeout))
}

func (c *wsConn) handlePing(data string) error {
	_ = c.extendRead()
	err := c.c.WriteControl(gws.PongMessage, []byte(data), time.Now().Add(controlWriteTimeout))
	if err == nil || err == gws.ErrCloseSent {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil
	}
	return err
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.c.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	msgType, payload, err := c.c.ReadMessage()
	if err != nil {
		if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
			return 0, nil, errors.Wrap(exception.ErrWebSocketConnectionClose, err.Error())
		}
		return 0, nil, err
	}
	return MessageType(msgType), payload, nil
}

func (c *wsConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if msgType.IsControl() {
		return c.c.WriteControl(int(msgType), payload, deadline)
	}
	if err := c.c.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.c.WriteMessage(int(msgType), payload)
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	msg := gws.FormatCloseMessage(int(code), reason)
	_ = c.c.WriteControl(gws.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
	return c.c.Close()
}
