package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// Serve owns conn for its lifetime. It registers conn as the active
// connection (superseding any previous one), discards stale recordings, and
// then dispatches inbound messages until the connection ends or ctx is
// cancelled.
//
// When the connection ends and it is still the active one, the registry is
// cleared and the playback signal is forced so that a converse call waiting
// on playback wakes up and notices the disconnect. A superseded connection
// leaves both alone.
//
// Serve returns nil on a normal close or cancellation and the transport
// error otherwise.
func (b *Bridge) Serve(ctx context.Context, conn Conn) error {
	h := newHandle(b.nextID.Add(1), conn)
	log := slog.With("conn", h.ID(), "remote", h.RemoteAddr())

	if prev := b.registry.Set(h); prev != nil {
		b.metrics.Supersessions.Add(ctx, 1)
		log.Info("endpoint connected, superseding previous connection", "previous", prev.ID())
	} else {
		log.Info("endpoint connected")
	}
	if n := b.queue.Drain(); n > 0 {
		b.metrics.RecordStaleDrop(ctx, "connect", n)
		log.Info("discarded stale recordings on connect", "count", n)
	}

	b.metrics.ActiveConnections.Add(ctx, 1)
	defer b.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	err := b.readLoop(ctx, h, log)

	if b.registry.ClearIf(h) {
		b.playback.Set()
		log.Info("endpoint disconnected", "reason", disconnectReason(err), "duration", time.Since(h.ConnectedAt()).Round(time.Millisecond))
	} else {
		log.Info("superseded endpoint closed", "reason", disconnectReason(err))
	}

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bridge) readLoop(ctx context.Context, h *Handle, log *slog.Logger) error {
	for {
		msg, err := h.conn.Receive(ctx)
		if err != nil {
			return err
		}
		b.dispatch(ctx, h, msg, log)
	}
}

// dispatch handles one inbound message. Recordings from a superseded
// connection are dropped so that a tab left open cannot answer an exchange
// running on its successor.
func (b *Bridge) dispatch(ctx context.Context, h *Handle, msg Message, log *slog.Logger) {
	switch msg.Type {
	case TypeAudio:
		audio, err := msg.Audio()
		if err != nil {
			log.Warn("dropping audio message with invalid base64", "err", err)
			return
		}
		if !b.registry.IsActive(h) {
			log.Info("dropping recording from superseded connection", "bytes", len(audio))
			return
		}
		b.queue.Push(audio)
		b.metrics.AudioChunks.Add(ctx, 1)
		log.Debug("queued recording", "bytes", len(audio), "queued", b.queue.Len())
	case TypePlaybackDone:
		b.playback.Set()
		log.Debug("playback done")
	default:
		observe.Logger(ctx).Debug("ignoring endpoint message", "conn", h.ID(), "type", msg.Type)
	}
}

func disconnectReason(err error) string {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return "closed"
	case errors.Is(err, context.Canceled):
		return "shutdown"
	default:
		return err.Error()
	}
}
