package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Status texts shown on the endpoint page.
const (
	statusSpeaking     = "Speaking..."
	statusTranscribing = "Transcribing..."
)

// ConverseRequest is one exchange with the endpoint.
type ConverseRequest struct {
	// Message is spoken to the user.
	Message string

	// WaitForResponse records and transcribes a reply after playback. When
	// false the call returns [MessageDelivered] as soon as the audio is sent.
	WaitForResponse bool

	// Voice overrides [Config.DefaultVoice].
	Voice string
}

// Converse runs one exchange: speak req.Message through the endpoint and,
// if requested, return the transcription of the user's reply. An empty
// transcription yields [NoSpeechDetected].
//
// Only one exchange runs at a time; concurrent calls queue in arrival order
// and a queued call whose ctx ends gives up without touching the endpoint.
//
// Errors match one of the package sentinels (see [Describe]) or wrap ctx.Err()
// when the caller gave up.
func (b *Bridge) Converse(ctx context.Context, req ConverseRequest) (string, error) {
	cfg := b.Config()
	voice := req.Voice
	if voice == "" {
		voice = cfg.DefaultVoice
	}

	ctx, span := observe.StartSpan(ctx, "bridge.converse", trace.WithAttributes(
		attribute.String("voice", voice),
		attribute.Bool("wait_for_response", req.WaitForResponse),
		attribute.Int("message.length", len(req.Message)),
	))
	start := time.Now()

	text, err := b.converse(ctx, cfg, req, voice)

	b.metrics.RecordCycle(ctx, outcome(err), time.Since(start).Seconds())
	observe.EndSpan(span, err)
	return text, err
}

func (b *Bridge) converse(ctx context.Context, cfg Config, req ConverseRequest, voice string) (string, error) {
	if err := b.cycle.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("bridge: waiting for previous exchange: %w", err)
	}
	defer b.cycle.Release(1)

	h := b.registry.Get()
	if h == nil {
		return "", ErrNoConnection
	}
	log := observe.Logger(ctx).With("conn", h.ID())

	if err := b.send(ctx, h, StatusMessage(statusSpeaking)); err != nil {
		return "", err
	}

	audio, err := b.synthesize(ctx, req.Message, voice)
	if err != nil {
		return "", err
	}

	b.playback.Clear()
	if err := b.send(ctx, h, AudioMessage(audio)); err != nil {
		return "", err
	}
	log.Debug("sent speech", "bytes", len(audio), "voice", voice)

	if !req.WaitForResponse {
		if err := b.send(ctx, h, DoneMessage()); err != nil {
			return "", err
		}
		return MessageDelivered, nil
	}

	if err := b.awaitPlayback(ctx, h, cfg.PlaybackTimeout); err != nil {
		return "", err
	}
	if !b.registry.IsActive(h) {
		return "", ErrDisconnectedDuringPlayback
	}

	if n := b.queue.Drain(); n > 0 {
		b.metrics.RecordStaleDrop(ctx, "listen", n)
		log.Info("discarded stale recordings before listening", "count", n)
	}
	if err := b.send(ctx, h, ListeningMessage()); err != nil {
		return "", err
	}

	recording, err := b.awaitRecording(ctx, h, cfg.RecordingTimeout)
	if err != nil {
		return "", err
	}
	if !b.registry.IsActive(h) {
		return "", ErrDisconnectedDuringRecording
	}

	if err := b.send(ctx, h, StatusMessage(statusTranscribing)); err != nil {
		return "", err
	}

	var text string
	if len(recording) > 0 {
		raw, err := b.transcribe(ctx, recording)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(raw)
	}

	if err := b.send(ctx, h, DoneMessage()); err != nil {
		return "", err
	}
	if text == "" {
		return NoSpeechDetected, nil
	}
	log.Debug("received reply", "chars", len(text))
	return text, nil
}

func (b *Bridge) send(ctx context.Context, h *Handle, msg Message) error {
	if err := h.conn.Send(ctx, msg); err != nil {
		return wrap(ErrTransport, err)
	}
	return nil
}

// awaitPlayback waits for the playback signal. It also wakes when h stops
// being the active connection, which the caller then reports as a
// disconnect.
func (b *Bridge) awaitPlayback(ctx context.Context, h *Handle, timeout time.Duration) error {
	start := time.Now()
	wctx, cancel := b.boundedUntilInvalid(ctx, h, timeout)
	defer cancel()

	if err := b.playback.Wait(wctx); err != nil {
		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("bridge: waiting for playback: %w", ctx.Err())
		case !b.registry.IsActive(h):
			return ErrDisconnectedDuringPlayback
		default:
			return fmt.Errorf("%w after %s", ErrPlaybackTimeout, timeout)
		}
	}
	b.metrics.PlaybackWait.Record(ctx, time.Since(start).Seconds())
	return nil
}

// awaitRecording pops the next recording. Like awaitPlayback it wakes early
// when h is superseded or disconnects.
func (b *Bridge) awaitRecording(ctx context.Context, h *Handle, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	wctx, cancel := b.boundedUntilInvalid(ctx, h, timeout)
	defer cancel()

	data, err := b.queue.Pop(wctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("bridge: waiting for recording: %w", ctx.Err())
		case !b.registry.IsActive(h):
			return nil, ErrDisconnectedDuringRecording
		default:
			return nil, fmt.Errorf("%w after %s", ErrRecordingTimeout, timeout)
		}
	}
	b.metrics.RecordingWait.Record(ctx, time.Since(start).Seconds())
	return data, nil
}

// boundedUntilInvalid derives a context that ends after timeout, when ctx
// ends, or when h is no longer the active connection.
func (b *Bridge) boundedUntilInvalid(ctx context.Context, h *Handle, timeout time.Duration) (context.Context, context.CancelFunc) {
	wctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	wctx, cancel := context.WithCancel(wctx)
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-wctx.Done():
		}
	}()
	return wctx, func() {
		cancel()
		cancelTimeout()
	}
}

func (b *Bridge) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	name := providerName(b.tts)
	ctx, span := observe.StartSpan(ctx, "tts.synthesize", trace.WithAttributes(attribute.String("provider", name)))
	start := time.Now()

	audio, err := b.tts.Synthesize(ctx, tts.Request{Text: text, Voice: voice, Format: tts.FormatMP3})
	b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		b.metrics.RecordProviderRequest(ctx, name, "tts", "error")
		b.metrics.RecordProviderError(ctx, name, "tts")
		slog.Warn("speech synthesis failed", "provider", name, "voice", voice, "err", err)
		return nil, wrap(ErrTTSBackend, err)
	}
	b.metrics.RecordProviderRequest(ctx, name, "tts", "ok")
	return audio, nil
}

func (b *Bridge) transcribe(ctx context.Context, recording []byte) (string, error) {
	name := providerName(b.stt)
	ctx, span := observe.StartSpan(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.Int("audio.bytes", len(recording)),
	))
	start := time.Now()

	text, err := b.stt.Transcribe(ctx, stt.Recording{
		Data:     recording,
		Filename: stt.DefaultFilename,
		MIMEType: stt.DefaultMIMEType,
	})
	b.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		b.metrics.RecordProviderRequest(ctx, name, "stt", "error")
		b.metrics.RecordProviderError(ctx, name, "stt")
		slog.Warn("transcription failed", "provider", name, "err", err)
		return "", wrap(ErrSTTBackend, err)
	}
	b.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
	return text, nil
}
