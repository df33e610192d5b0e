// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider transcribes one complete recording per call. The recording is
// whatever the browser's MediaRecorder produced (WebM/Opus in practice) and
// is uploaded unchanged; backends are expected to decode it themselves.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Default upload metadata for browser recordings.
const (
	DefaultFilename = "recording.webm"
	DefaultMIMEType = "audio/webm"
)

// Recording is one encoded audio payload received from the endpoint.
type Recording struct {
	// Data is the encoded audio, uploaded verbatim.
	Data []byte

	// Filename is the multipart file name. Empty means [DefaultFilename].
	Filename string

	// MIMEType is the multipart content type. Empty means [DefaultMIMEType].
	MIMEType string
}

// WithDefaults returns r with empty metadata fields filled in.
func (r Recording) WithDefaults() Recording {
	if r.Filename == "" {
		r.Filename = DefaultFilename
	}
	if r.MIMEType == "" {
		r.MIMEType = DefaultMIMEType
	}
	return r
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe performs a single transcription attempt and returns the raw
	// text, untrimmed. Silence may legitimately produce an empty string.
	// Implementations must not retry internally.
	Transcribe(ctx context.Context, rec Recording) (string, error)
}
