package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names not in this list; they may still be registered by a
// custom build.
var ValidProviderNames = map[string][]string{
	"tts": {"openai"},
	"stt": {"openai", "whisper"},
}

// Load reads the YAML configuration file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found. Call it after [ApplyDefaults].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr %q is invalid: %w", cfg.Server.ListenAddr, err))
	}
	if cfg.Server.BindRetry < 0 {
		errs = append(errs, fmt.Errorf("server.bind_retry must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Bridge
	if cfg.Bridge.PlaybackTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.playback_timeout must not be negative"))
	}
	if cfg.Bridge.RecordingTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.recording_timeout must not be negative"))
	}
	if cfg.Bridge.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("bridge.max_message_bytes must not be negative"))
	}
	if u, err := url.Parse(cfg.Bridge.PageURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("bridge.page_url %q must be an absolute URL", cfg.Bridge.PageURL))
	}

	// Providers
	errs = append(errs, validateEntry("providers.tts", "tts", cfg.Providers.TTS)...)
	errs = append(errs, validateEntry("providers.stt", "stt", cfg.Providers.STT)...)
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.tts_fallbacks[%d]", i), "tts", e)...)
	}
	for i, e := range cfg.Providers.STTFallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.stt_fallbacks[%d]", i), "stt", e)...)
	}
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.max_failures must not be negative"))
	}
	if cfg.Providers.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.reset_timeout must not be negative"))
	}

	// MCP
	if !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, streamable-http", cfg.MCP.Transport))
	}
	if len(cfg.MCP.Path) == 0 || cfg.MCP.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if slices.Contains([]string{"/ws", "/healthz", "/readyz", "/metrics", "/api/speak", "/api/transcribe"}, cfg.MCP.Path) {
		errs = append(errs, fmt.Errorf("mcp.path %q collides with a built-in route", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

func validateEntry(prefix, kind string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		return errs
	}
	validateProviderName(kind, e.Name)
	if e.BaseURL != "" {
		if u, err := url.Parse(e.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.base_url %q must be an absolute URL", prefix, e.BaseURL))
		}
	}
	if _, err := e.OptionDuration("timeout"); err != nil {
		errs = append(errs, fmt.Errorf("%s.options.timeout: %w", prefix, err))
	}
	return errs
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
