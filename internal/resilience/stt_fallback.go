package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] on top of a [FallbackGroup].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after the existing ones.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Name returns the primary name, or all names when fallbacks are configured.
func (f *STTFallback) Name() string { return joinNames(f.group.Names()) }

// Healthy reports whether any backend is currently admitting calls.
func (f *STTFallback) Healthy(ctx context.Context) error { return f.group.Healthy(ctx) }

// Transcribe sends rec to the first healthy backend. The recording is
// re-sent unchanged to each fallback.
func (f *STTFallback) Transcribe(ctx context.Context, rec stt.Recording) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, rec)
	})
}
