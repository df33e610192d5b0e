package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/mcp"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const sampleYAML = `
server:
  listen_addr: "0.0.0.0:8443"
  log_level: debug
  log_file: /tmp/voice-chat.log
  tls:
    cert_file: /etc/parley/cert.pem
    key_file: /etc/parley/key.pem
  bind_retry: 2s
bridge:
  default_voice: bf_emma
  playback_timeout: 90s
  recording_timeout: 3m
  max_message_bytes: 1048576
  allowed_origins: ["voice.example.com"]
providers:
  tts:
    name: openai
    base_url: http://kokoro:8880/v1
    model: kokoro
    options:
      timeout: 20s
      speed: 1.1
  stt:
    name: whisper
    base_url: http://whisper:8080
    options:
      language: en
  stt_fallbacks:
    - name: openai
      api_key: sk-test
  breaker:
    max_failures: 2
    reset_timeout: 10s
mcp:
  transport: streamable-http
  path: /voice/mcp
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:8443" {
		t.Errorf("server.listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Server.BindRetry != 2*time.Second {
		t.Errorf("server.bind_retry: got %v, want 2s", cfg.Server.BindRetry)
	}
	if cfg.Bridge.RecordingTimeout != 3*time.Minute {
		t.Errorf("bridge.recording_timeout: got %v, want 3m", cfg.Bridge.RecordingTimeout)
	}
	if cfg.Bridge.PageURL != "https://localhost:8443" {
		t.Errorf("bridge.page_url: got %q, want derived https://localhost:8443", cfg.Bridge.PageURL)
	}
	if cfg.Providers.STT.Name != "whisper" || cfg.Providers.STT.OptionString("language") != "en" {
		t.Errorf("providers.stt: got %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].APIKey != "sk-test" {
		t.Errorf("providers.stt_fallbacks: got %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Providers.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("providers.breaker.reset_timeout: got %v", cfg.Providers.Breaker.ResetTimeout)
	}
	if cfg.MCP.Transport != mcp.TransportStreamableHTTP || cfg.MCP.Path != "/voice/mcp" {
		t.Errorf("mcp: got %+v", cfg.MCP)
	}

	d, err := cfg.Providers.TTS.OptionDuration("timeout")
	if err != nil || d != 20*time.Second {
		t.Errorf("tts timeout option = %v, %v; want 20s", d, err)
	}
	speed, ok, err := cfg.Providers.TTS.OptionFloat("speed")
	if err != nil || !ok || speed != 1.1 {
		t.Errorf("tts speed option = %v, %v, %v; want 1.1", speed, ok, err)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		def := config.Default()
		if cfg.Server.ListenAddr != def.Server.ListenAddr ||
			cfg.Bridge.DefaultVoice != config.DefaultVoice ||
			cfg.Bridge.PlaybackTimeout != config.DefaultPlaybackTimeout ||
			cfg.Bridge.RecordingTimeout != config.DefaultRecordingTimeout ||
			cfg.MCP.Transport != mcp.TransportStdio {
			t.Errorf("LoadFromReader(%q) = %+v, want defaults", doc, cfg)
		}
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Bridge.PageURL != "http://localhost:3456" {
		t.Errorf("page_url = %q, want http://localhost:3456", cfg.Bridge.PageURL)
	}
	if cfg.Providers.TTS.BaseURL != config.DefaultTTSBaseURL || cfg.Providers.STT.BaseURL != config.DefaultSTTBaseURL {
		t.Errorf("default backends = %q / %q", cfg.Providers.TTS.BaseURL, cfg.Providers.STT.BaseURL)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("bridge:\n  voice: af_sky\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub []string
	}{
		{"log level", "server:\n  log_level: verbose\n", []string{"log_level"}},
		{"listen addr", "server:\n  listen_addr: nonsense\n", []string{"listen_addr"}},
		{"tls half", "server:\n  tls:\n    cert_file: a.pem\n", []string{"server.tls"}},
		{"negative timeout", "bridge:\n  playback_timeout: -1s\n", []string{"playback_timeout"}},
		{"relative page url", "bridge:\n  page_url: /voice\n", []string{"page_url"}},
		{"bad base url", "providers:\n  tts:\n    name: openai\n    base_url: kokoro:8880\n", []string{"providers.tts.base_url"}},
		{"bad timeout option", "providers:\n  stt:\n    name: whisper\n    options:\n      timeout: soon\n", []string{"providers.stt.options.timeout"}},
		{"fallback without name", "providers:\n  tts_fallbacks:\n    - base_url: http://x\n", []string{"providers.tts_fallbacks[0].name"}},
		{"transport", "mcp:\n  transport: sse\n", []string{"mcp.transport"}},
		{"path collision", "mcp:\n  path: /ws\n", []string{"collides"}},
		{"proxy path collision", "mcp:\n  path: /api/speak\n", []string{"collides"}},
		{
			"multiple errors",
			"server:\n  log_level: loud\nmcp:\n  transport: sse\n",
			[]string{"log_level", "mcp.transport"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, sub := range tc.wantSub {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error should mention %q, got: %v", sub, err)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("bridge:\n  default_voice: am_adam\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.DefaultVoice != "am_adam" {
		t.Errorf("default_voice = %q", cfg.Bridge.DefaultVoice)
	}

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) err = %v, want os.ErrNotExist", err)
	}
}

func TestProviderEntry_OptionDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value   any
		want    time.Duration
		wantErr bool
	}{
		{nil, 0, false},
		{"45s", 45 * time.Second, false},
		{10, 10 * time.Second, false},
		{1.5, 1500 * time.Millisecond, false},
		{"later", 0, true},
		{true, 0, true},
	}
	for _, tc := range tests {
		e := config.ProviderEntry{Options: map[string]any{}}
		if tc.value != nil {
			e.Options["timeout"] = tc.value
		}
		got, err := e.OptionDuration("timeout")
		if (err != nil) != tc.wantErr {
			t.Errorf("OptionDuration(%v) err = %v, wantErr %v", tc.value, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("OptionDuration(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

type stubTTS struct{}

func (stubTTS) Synthesize(context.Context, tts.Request) ([]byte, error) { return nil, nil }

type stubSTT struct{}

func (stubSTT) Transcribe(context.Context, stt.Recording) (string, error) { return "", nil }

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return stubTTS{}, nil
	})
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return stubSTT{}, nil })
	reg.RegisterSTT("openai", func(config.ProviderEntry) (stt.Provider, error) { return stubSTT{}, nil })

	entry := config.ProviderEntry{Name: "openai", Model: "kokoro"}
	p, err := reg.CreateTTS(entry)
	if err != nil || p == nil {
		t.Fatalf("CreateTTS = %v, %v", p, err)
	}
	if gotEntry.Model != "kokoro" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}

	if got := reg.STTNames(); len(got) != 2 || got[0] != "openai" || got[1] != "whisper" {
		t.Errorf("STTNames() = %v, want [openai whisper]", got)
	}
	if got := reg.TTSNames(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("TTSNames() = %v, want [openai]", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	errBoom := errors.New("boom")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) { return nil, errBoom })

	_, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want wrapped errBoom", err)
	}
}
