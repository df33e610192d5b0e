package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Cycle failures. A returned error matches exactly one of these with
// [errors.Is]; the underlying cause, when there is one, is wrapped too.
var (
	ErrNoConnection                = errors.New("no endpoint connected")
	ErrTransport                   = errors.New("endpoint send failed")
	ErrTTSBackend                  = errors.New("speech synthesis failed")
	ErrSTTBackend                  = errors.New("transcription failed")
	ErrPlaybackTimeout             = errors.New("timed out waiting for playback to finish")
	ErrRecordingTimeout            = errors.New("timed out waiting for a recording")
	ErrDisconnectedDuringPlayback  = errors.New("endpoint disconnected during playback")
	ErrDisconnectedDuringRecording = errors.New("endpoint disconnected during recording")
)

// User-facing results of a converse call.
const (
	MessageDelivered = "Message delivered."
	NoSpeechDetected = "(no speech detected)"
)

func wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Describe renders err as the text shown to the tool caller.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoConnection):
		return "Error: No browser connected. Open the Voice Chat page first."
	case errors.Is(err, ErrDisconnectedDuringPlayback):
		return "Error: Browser disconnected during playback."
	case errors.Is(err, ErrDisconnectedDuringRecording):
		return "Error: Browser disconnected during recording."
	case errors.Is(err, ErrTransport):
		return "Error: Browser disconnected."
	case errors.Is(err, ErrPlaybackTimeout):
		return "Error: Timed out waiting for the browser to finish playback."
	case errors.Is(err, ErrRecordingTimeout):
		return "Error: Timed out waiting for your response."
	case errors.Is(err, ErrTTSBackend), errors.Is(err, ErrSTTBackend):
		return "Error: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Error: Request cancelled."
	default:
		return "Error: " + err.Error()
	}
}

// outcome labels err for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoConnection):
		return "no_connection"
	case errors.Is(err, ErrDisconnectedDuringPlayback):
		return "disconnected_playback"
	case errors.Is(err, ErrDisconnectedDuringRecording):
		return "disconnected_recording"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrPlaybackTimeout):
		return "playback_timeout"
	case errors.Is(err, ErrRecordingTimeout):
		return "recording_timeout"
	case errors.Is(err, ErrTTSBackend):
		return "tts_error"
	case errors.Is(err, ErrSTTBackend):
		return "stt_error"
	default:
		return "cancelled"
	}
}
