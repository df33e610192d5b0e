// Package endpoint accepts the browser's WebSocket and hands it to the
// bridge as a [bridge.Conn].
//
// Frames are JSON text messages (see [bridge.Message]). The handler keeps the
// socket alive with periodic pings so that a vanished browser is noticed even
// while no exchange is running.
package endpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/bridge"
)

// Defaults for [Handler].
const (
	// DefaultMaxMessageBytes leaves room for several minutes of base64 Opus.
	DefaultMaxMessageBytes = 32 << 20
	DefaultPingInterval    = 20 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
)

// Server runs one connection to completion. [*bridge.Bridge] implements it.
type Server interface {
	Serve(ctx context.Context, conn bridge.Conn) error
}

var _ Server = (*bridge.Bridge)(nil)

// Handler is an [http.Handler] that upgrades requests to WebSockets.
type Handler struct {
	srv             Server
	originPatterns  []string
	maxMessageBytes int64
	pingInterval    time.Duration
	writeTimeout    time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns restricts cross-origin upgrades to the given host
// patterns (see [websocket.AcceptOptions.OriginPatterns]). Without patterns
// any origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithMaxMessageBytes sets the inbound frame size limit.
func WithMaxMessageBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessageBytes = n
		}
	}
}

// WithPingInterval sets the keepalive period. Zero or negative disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.pingInterval = d }
}

// WithWriteTimeout bounds each outbound frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// New creates a Handler that serves accepted sockets with srv.
func New(srv Server, opts ...Option) *Handler {
	h := &Handler{
		srv:             srv,
		maxMessageBytes: DefaultMaxMessageBytes,
		pingInterval:    DefaultPingInterval,
		writeTimeout:    DefaultWriteTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler]. It blocks for the lifetime of the
// socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: len(h.originPatterns) == 0,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(h.maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.pingInterval > 0 {
		go h.keepalive(ctx, ws)
	}

	c := &conn{ws: ws, remote: r.RemoteAddr, writeTimeout: h.writeTimeout}
	err = h.srv.Serve(ctx, c)

	switch {
	case err == nil && r.Context().Err() != nil:
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	case err == nil:
		ws.Close(websocket.StatusNormalClosure, "")
	default:
		ws.CloseNow()
	}
}

func (h *Handler) keepalive(ctx context.Context, ws *websocket.Conn) {
	t := time.NewTicker(h.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, h.pingInterval)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("endpoint ping failed", "err", err)
				}
				return
			}
		}
	}
}

// conn adapts a WebSocket to [bridge.Conn].
type conn struct {
	ws           *websocket.Conn
	remote       string
	writeTimeout time.Duration
}

var _ bridge.Conn = (*conn)(nil)

func (c *conn) Receive(ctx context.Context) (bridge.Message, error) {
	var msg bridge.Message
	if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			return bridge.Message{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return bridge.Message{}, io.EOF
		}
		return bridge.Message{}, err
	}
	return msg, nil
}

// Send writes msg with its own deadline. A cancelled write tears the socket
// down, so the caller's cancellation is not propagated into it.
func (c *conn) Send(ctx context.Context, msg bridge.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, msg)
}

func (c *conn) RemoteAddr() string { return c.remote }
