// Package whisper provides an STT provider for a whisper.cpp server
// (examples/server in the whisper.cpp tree), which exposes POST /inference.
//
// The server must be started with --convert so that it can decode the
// browser's WebM/Opus recordings through ffmpeg; parley uploads the
// recording unchanged.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, stt.Recording{Data: webm})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const defaultTimeout = 30 * time.Second

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel forwards a model hint to servers that host several models. When
// empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the server (e.g. "en", "de").
// Empty or "auto" lets whisper detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTemperature sets the decoding temperature. Default: server default.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithTimeout bounds one inference request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL   string
	model       string
	language    string
	temperature *float64
	httpClient  *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name identifies the provider in logs and metrics.
func (p *Provider) Name() string { return "whisper" }

// Transcribe uploads rec to /inference as multipart/form-data and returns
// the transcribed text.
func (p *Provider) Transcribe(ctx context.Context, rec stt.Recording) (string, error) {
	if len(rec.Data) == 0 {
		return "", errors.New("whisper: empty recording")
	}
	rec = rec.WithDefaults()

	body, contentType, err := p.encodeForm(rec)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", result.Error)
	}
	return result.Text, nil
}

func (p *Provider) encodeForm(rec stt.Recording) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// CreateFormFile hardcodes application/octet-stream; set the real type.
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, rec.Filename))
	h.Set("Content-Type", rec.MIMEType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(rec.Data); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{{"response_format", "json"}}
	if p.language != "" {
		fields = append(fields, [2]string{"language", p.language})
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	if p.temperature != nil {
		fields = append(fields, [2]string{"temperature", strconv.FormatFloat(*p.temperature, 'f', -1, 64)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
