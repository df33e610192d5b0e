// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one complete utterance into one encoded audio payload
// that the browser endpoint can play as-is. Parley never inspects or
// transcodes the bytes; the requested [Format] is passed through to the
// backend and the resulting blob is forwarded verbatim.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Format is the container/codec requested from the backend.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatWAV  Format = "wav"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the utterance to speak.
	Text string

	// Voice is the backend-specific voice identifier (e.g. "af_sky" for Kokoro).
	Voice string

	// Format selects the output encoding. Empty means [FormatMP3].
	Format Format
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize performs a single synthesis attempt and returns the encoded
	// audio. An empty payload is reported as an error. Implementations must not
	// retry internally.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
