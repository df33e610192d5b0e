// Package openai provides an STT provider for any server that implements the
// OpenAI transcription endpoint (POST {base}/audio/transcriptions), such as
// whisper.cpp's OpenAI shim, faster-whisper-server, speaches or OpenAI itself.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	// DefaultBaseURL points at a local whisper server.
	DefaultBaseURL = "http://127.0.0.1:2022/v1"

	// DefaultModel is accepted by OpenAI and by most local shims.
	DefaultModel = oai.AudioModelWhisper1

	defaultTimeout = 30 * time.Second
	placeholderKey = "not-needed"
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider against an OpenAI-compatible
// transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

type config struct {
	apiKey     string
	model      string
	language   string
	prompt     string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the bearer token. Local servers usually need none.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage pins the ISO-639-1 input language. Empty means auto-detect.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt passes a vocabulary hint to the model.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTimeout bounds one transcription request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. The timeout option is ignored
// when a client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a Provider talking to baseURL, which must include the API
// version prefix. An empty baseURL selects [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{
		apiKey:  placeholderKey,
		model:   DefaultModel,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = placeholderKey
	}
	if cfg.model == "" {
		return nil, fmt.Errorf("openai stt: model must not be empty")
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	client := oai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)
	return &Provider{
		client:   client,
		model:    cfg.model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name identifies the provider in logs and metrics.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, rec stt.Recording) (string, error) {
	if len(rec.Data) == 0 {
		return "", fmt.Errorf("openai stt: empty recording")
	}
	rec = rec.WithDefaults()

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(rec.Data), rec.Filename, rec.MIMEType),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}
	if p.prompt != "" {
		params.Prompt = param.NewOpt(p.prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription request: %w", err)
	}
	return res.Text, nil
}
