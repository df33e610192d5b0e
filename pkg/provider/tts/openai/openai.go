// Package openai provides a TTS provider for any server that implements the
// OpenAI speech endpoint (POST {base}/audio/speech), such as Kokoro-FastAPI,
// openedai-speech or the OpenAI API itself.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultBaseURL points at a local Kokoro-FastAPI instance.
	DefaultBaseURL = "http://127.0.0.1:8880/v1"

	// DefaultModel is the model name Kokoro and OpenAI both accept.
	DefaultModel = oai.SpeechModelTTS1

	defaultTimeout = 30 * time.Second

	// placeholderKey is sent when no key is configured. Local servers ignore
	// the Authorization header but the client always sets one.
	placeholderKey = "not-needed"
)

var _ tts.Provider = (*Provider)(nil)

// ErrEmptyAudio is returned when the backend answers 2xx with no body.
var ErrEmptyAudio = errors.New("openai tts: backend returned no audio")

// Provider implements tts.Provider against an OpenAI-compatible speech API.
type Provider struct {
	client oai.Client
	model  string
	speed  float64
}

type config struct {
	apiKey     string
	model      string
	speed      float64
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

// WithSpeed sets the speaking rate (0.25 to 4.0). Zero leaves the backend default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout bounds one synthesis request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. The timeout option is ignored
// when a client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a Provider talking to baseURL, which must include the API
// version prefix (e.g. "http://127.0.0.1:8880/v1"). An empty baseURL selects
// [DefaultBaseURL].
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
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4]", cfg.speed)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = placeholderKey
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
	return &Provider{client: client, model: cfg.model, speed: cfg.speed}, nil
}

// Name identifies the provider in logs and metrics.
func (p *Provider) Name() string { return "openai" }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	format := req.Format
	if format == "" {
		format = tts.FormatMP3
	}
	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if p.speed != 0 {
		params.Speed = param.NewOpt(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
