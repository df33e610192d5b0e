// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// ProviderName is returned by Name. Default "mock".
	ProviderName string

	calls []stt.Recording
}

// Name implements the optional naming interface used for metrics.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// Transcribe records the recording and returns Text or Err.
func (p *Provider) Transcribe(_ context.Context, rec stt.Recording) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec.Data = append([]byte(nil), rec.Data...)
	p.calls = append(p.calls, rec)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// Calls returns a copy of every recording seen so far.
func (p *Provider) Calls() []stt.Recording {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Recording, len(p.calls))
	copy(out, p.calls)
	return out
}

// SetErr changes the error returned by later calls.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}
