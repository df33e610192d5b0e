// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the parley voice bridge.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/MrWong99/parley/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = "127.0.0.1:3456"
	DefaultBindRetry        = 5 * time.Second
	DefaultVoice            = "af_sky"
	DefaultPlaybackTimeout  = 120 * time.Second
	DefaultRecordingTimeout = 240 * time.Second
	DefaultMaxMessageBytes  = 32 << 20
	DefaultMCPPath          = "/mcp"
	DefaultTTSBaseURL       = "http://127.0.0.1:8880/v1"
	DefaultSTTBaseURL       = "http://127.0.0.1:2022/v1"
)

// Config is the root configuration. It is typically loaded from a YAML file
// with [Load] or [LoadFromReader]; a process started without a file uses
// [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Providers ProvidersConfig `yaml:"providers"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP listener serving the endpoint
	// page socket, health, metrics and (optionally) MCP.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, receives a copy of every log line.
	LogFile string `yaml:"log_file"`

	// TLS enables HTTPS. Browsers only grant microphone access on secure
	// origins, so this is needed whenever the page is not served from
	// localhost.
	TLS *TLSConfig `yaml:"tls"`

	// BindRetry is the pause between attempts to bind ListenAddr while the
	// port is busy.
	BindRetry time.Duration `yaml:"bind_retry"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BridgeConfig tunes the exchange cycle and the endpoint socket.
type BridgeConfig struct {
	// DefaultVoice is used when a converse call names no voice. Hot-reloadable.
	DefaultVoice string `yaml:"default_voice"`

	// PlaybackTimeout bounds the wait for playback_done. Hot-reloadable.
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`

	// RecordingTimeout bounds the wait for the recorded reply. Hot-reloadable.
	RecordingTimeout time.Duration `yaml:"recording_timeout"`

	// PageURL is shown by voice_chat_status while disconnected. When empty
	// it is derived from ListenAddr. Hot-reloadable.
	PageURL string `yaml:"page_url"`

	// MaxMessageBytes caps a single inbound socket message.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// AllowedOrigins lists origin patterns accepted on the socket in addition
	// to same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig selects the speech backends.
type ProvidersConfig struct {
	TTS ProviderEntry `yaml:"tts"`
	STT ProviderEntry `yaml:"stt"`

	// TTSFallbacks and STTFallbacks are tried in order when the primary fails
	// or its circuit breaker is open.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Breaker tunes the per-backend circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of every backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block shared by all backends. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "tts-1", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) OptionString(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OptionDuration parses Options[key] as a Go duration string ("30s"). A bare
// number is taken as seconds. Returns 0 when absent.
func (e ProviderEntry) OptionDuration(key string) (time.Duration, error) {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch v := v.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: option %q: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("config: option %q: unsupported type %T", key, v)
	}
}

// OptionFloat returns Options[key] as a float64. ok is false when absent.
func (e ProviderEntry) OptionFloat(key string) (f float64, ok bool, err error) {
	v, present := e.Options[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch v := v.(type) {
	case int:
		return float64(v), true, nil
	case float64:
		return v, true, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, fmt.Errorf("config: option %q: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("config: option %q: unsupported type %T", key, v)
	}
}

// MCPConfig configures the tool surface.
type MCPConfig struct {
	// Transport is "stdio" (default) or "streamable-http".
	Transport mcp.Transport `yaml:"transport"`

	// Path mounts the streamable HTTP handler. Default "/mcp".
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given: local
// OpenAI-compatible Kokoro TTS and whisper STT, MCP over stdio.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.BindRetry == 0 {
		s.BindRetry = DefaultBindRetry
	}

	b := &cfg.Bridge
	if b.DefaultVoice == "" {
		b.DefaultVoice = DefaultVoice
	}
	if b.PlaybackTimeout == 0 {
		b.PlaybackTimeout = DefaultPlaybackTimeout
	}
	if b.RecordingTimeout == 0 {
		b.RecordingTimeout = DefaultRecordingTimeout
	}
	if b.MaxMessageBytes == 0 {
		b.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if b.PageURL == "" {
		b.PageURL = pageURL(s.ListenAddr, s.TLS != nil)
	}

	p := &cfg.Providers
	if p.TTS.Name == "" {
		p.TTS.Name = "openai"
		if p.TTS.BaseURL == "" {
			p.TTS.BaseURL = DefaultTTSBaseURL
		}
	}
	if p.STT.Name == "" {
		p.STT.Name = "openai"
		if p.STT.BaseURL == "" {
			p.STT.BaseURL = DefaultSTTBaseURL
		}
	}

	m := &cfg.MCP
	if m.Transport == "" {
		m.Transport = mcp.TransportStdio
	}
	if m.Path == "" {
		m.Path = DefaultMCPPath
	}
}

// pageURL derives the browser URL from a listen address. Wildcard hosts are
// shown as localhost.
func pageURL(addr string, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}
	switch host {
	case "", "0.0.0.0", "::", "127.0.0.1", "::1":
		host = "localhost"
	}
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
