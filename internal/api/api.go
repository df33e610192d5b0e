// Package api serves the speech backends directly over HTTP, for pages that
// want to synthesize or transcribe without going through a converse
// exchange.
//
//	POST /api/speak       {"text": "...", "voice": "af_sky"} -> audio/mpeg
//	POST /api/transcribe  multipart "file"                    -> {"text": "..."}
//
// Backend failures answer 502 with a JSON error body.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Routes served by [Handler.Register].
const (
	SpeakPath      = "/api/speak"
	TranscribePath = "/api/transcribe"
)

const (
	defaultVoice          = "af_sky"
	defaultMaxUploadBytes = 32 << 20
	maxSpeakBodyBytes     = 1 << 20
)

// Handler serves the speech proxy routes.
type Handler struct {
	tts            tts.Provider
	stt            stt.Provider
	voice          func() string
	maxUploadBytes int64
	metrics        *observe.Metrics
}

// Option configures a [Handler].
type Option func(*Handler)

// WithDefaultVoice sets the source of the voice used when a speak request
// names none. It is called per request so reloaded settings apply.
func WithDefaultVoice(fn func() string) Option {
	return func(h *Handler) { h.voice = fn }
}

// WithMaxUploadBytes limits the transcribe request body.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithMetrics records backend calls into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a Handler on top of the given backends.
func New(t tts.Provider, s stt.Provider, opts ...Option) *Handler {
	h := &Handler{
		tts:            t,
		stt:            s,
		voice:          func() string { return defaultVoice },
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds the proxy routes to mux, each wrapped in the given
// middleware (outermost first).
func (h *Handler) Register(mux *http.ServeMux, middleware ...func(http.Handler) http.Handler) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		var handler http.Handler = fn
		for i := len(middleware) - 1; i >= 0; i-- {
			handler = middleware[i](handler)
		}
		return handler
	}
	mux.Handle("POST "+SpeakPath, wrap(h.Speak))
	mux.Handle("POST "+TranscribePath, wrap(h.Transcribe))
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Speak synthesizes the posted text and answers with the MP3 bytes.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeakBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Voice == "" {
		req.Voice = h.voice()
	}

	ctx := r.Context()
	start := time.Now()
	audio, err := h.tts.Synthesize(ctx, tts.Request{Text: req.Text, Voice: req.Voice, Format: tts.FormatMP3})
	h.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	name := providerName(h.tts)
	if err != nil {
		h.metrics.RecordProviderRequest(ctx, name, "tts", "error")
		h.metrics.RecordProviderError(ctx, name, "tts")
		observe.Logger(ctx).Warn("speak failed", "provider", name, "voice", req.Voice, "err", err)
		writeError(w, http.StatusBadGateway, "speech synthesis failed: "+err.Error())
		return
	}
	h.metrics.RecordProviderRequest(ctx, name, "tts", "ok")

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe forwards the uploaded "file" part to the STT backend and
// answers with its text.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field \"file\" is required: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}

	rec := stt.Recording{Data: data, Filename: header.Filename, MIMEType: header.Header.Get("Content-Type")}

	ctx := r.Context()
	start := time.Now()
	text, err := h.stt.Transcribe(ctx, rec.WithDefaults())
	h.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	name := providerName(h.stt)
	if err != nil {
		h.metrics.RecordProviderRequest(ctx, name, "stt", "error")
		h.metrics.RecordProviderError(ctx, name, "stt")
		observe.Logger(ctx).Warn("transcribe failed", "provider", name, "bytes", len(data), "err", err)
		writeError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	h.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
	slog.Debug("transcribed upload", "bytes", len(data), "chars", len(text))

	writeJSON(w, http.StatusOK, transcribeResponse{Text: text})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func providerName(p any) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
