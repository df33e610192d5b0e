package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
)

// BuildProviders instantiates the configured backends through reg. Each kind
// is wrapped in a resilience fallback, even without configured fallbacks, so
// that every backend sits behind a circuit breaker and reports readiness.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Providers.Breaker.MaxFailures,
			ResetTimeout: cfg.Providers.Breaker.ResetTimeout,
		},
	}

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: tts: %w", err)
	}
	ttsGroup := resilience.NewTTSFallback(primaryTTS, entryLabel(cfg.Providers.TTS, 0), fbCfg)
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "base_url", cfg.Providers.TTS.BaseURL)
	for i, e := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("app: tts fallback %d: %w", i, err)
		}
		ttsGroup.AddFallback(entryLabel(e, i+1), p)
		slog.Info("fallback provider created", "kind", "tts", "name", e.Name, "position", i+1)
	}

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: stt: %w", err)
	}
	sttGroup := resilience.NewSTTFallback(primarySTT, entryLabel(cfg.Providers.STT, 0), fbCfg)
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "base_url", cfg.Providers.STT.BaseURL)
	for i, e := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback %d: %w", i, err)
		}
		sttGroup.AddFallback(entryLabel(e, i+1), p)
		slog.Info("fallback provider created", "kind", "stt", "name", e.Name, "position", i+1)
	}

	return &Providers{TTS: ttsGroup, STT: sttGroup}, nil
}

// entryLabel names a group entry. Positions disambiguate two entries of the
// same provider pointing at different servers.
func entryLabel(e config.ProviderEntry, pos int) string {
	if pos == 0 {
		return e.Name
	}
	return fmt.Sprintf("%s#%d", e.Name, pos)
}
