// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("mp3")}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "hi", Voice: "af_sky"})
//	p.Calls()[0].Voice // "af_sky"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when Err is nil.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Block, if non-nil, makes Synthesize wait until it is closed or ctx ends.
	Block chan struct{}

	// ProviderName is returned by Name. Default "mock".
	ProviderName string

	calls []tts.Request
}

// Name implements the optional naming interface used for metrics.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// Synthesize records the request and returns Audio or Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	block, audio, err := p.Block, append([]byte(nil), p.Audio...), p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Calls returns a copy of every request seen so far.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// SetErr changes the error returned by later calls.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}
