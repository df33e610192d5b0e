package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] on top of a [FallbackGroup].
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after the existing ones.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Name returns the primary name, or all names when fallbacks are configured.
func (f *TTSFallback) Name() string { return joinNames(f.group.Names()) }

// Healthy reports whether any backend is currently admitting calls.
func (f *TTSFallback) Healthy(ctx context.Context) error { return f.group.Healthy(ctx) }

// Synthesize renders req with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}
