// Package bridge coordinates one browser audio endpoint with converse
// requests from a tool caller.
//
// The endpoint side runs [Bridge.Serve] once per accepted connection. The
// caller side runs [Bridge.Converse], which speaks a message through the
// endpoint, waits for playback to finish, asks the endpoint to record, and
// transcribes what comes back. The two sides meet in three shared
// primitives:
//
//   - [Registry]: the single authoritative connection (last one wins).
//   - [AudioQueue]: recordings handed from the connection to the caller.
//   - [Signal]: "playback finished", set by the connection, cleared by the
//     caller.
//
// The connection handler is the only writer of the registry, the only
// producer into the queue, and the only setter of the signal. The
// orchestrator is the only consumer of the queue and the only clearer of the
// signal. Exchanges are serialized: one converse cycle owns the endpoint at a
// time.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Defaults for [Config].
const (
	DefaultVoice            = "af_sky"
	DefaultPlaybackTimeout  = 120 * time.Second
	DefaultRecordingTimeout = 240 * time.Second
	DefaultPageURL          = "http://localhost:3456"
)

// Config holds the tunables of a [Bridge]. It can be replaced at runtime
// with [Bridge.SetConfig]; a cycle in flight keeps the values it started with.
type Config struct {
	// DefaultVoice is used when a request names no voice.
	DefaultVoice string

	// PlaybackTimeout bounds the wait for playback_done.
	PlaybackTimeout time.Duration

	// RecordingTimeout bounds the wait for the recorded reply.
	RecordingTimeout time.Duration

	// PageURL is where users open the endpoint page. Shown by [Bridge.Status].
	PageURL string
}

func (c Config) withDefaults() Config {
	if c.DefaultVoice == "" {
		c.DefaultVoice = DefaultVoice
	}
	if c.PlaybackTimeout <= 0 {
		c.PlaybackTimeout = DefaultPlaybackTimeout
	}
	if c.RecordingTimeout <= 0 {
		c.RecordingTimeout = DefaultRecordingTimeout
	}
	if c.PageURL == "" {
		c.PageURL = DefaultPageURL
	}
	return c
}

// Bridge is the shared coordination context. Create one with [New]; it is
// safe for concurrent use.
type Bridge struct {
	registry *Registry
	queue    *AudioQueue
	playback *Signal

	tts tts.Provider
	stt stt.Provider

	cfgMu sync.RWMutex
	cfg   Config

	// cycle serializes converse exchanges.
	cycle *semaphore.Weighted

	nextID  atomic.Uint64
	metrics *observe.Metrics
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a Bridge that synthesizes with t and transcribes with s.
func New(t tts.Provider, s stt.Provider, cfg Config, opts ...Option) (*Bridge, error) {
	if t == nil {
		return nil, fmt.Errorf("bridge: tts provider must not be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("bridge: stt provider must not be nil")
	}
	b := &Bridge{
		registry: NewRegistry(),
		queue:    NewAudioQueue(),
		playback: NewSignal(),
		tts:      t,
		stt:      s,
		cfg:      cfg.withDefaults(),
		cycle:    semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b, nil
}

// Config returns the current configuration.
func (b *Bridge) Config() Config {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

// SetConfig replaces the configuration. Zero fields take their defaults.
func (b *Bridge) SetConfig(cfg Config) {
	b.cfgMu.Lock()
	b.cfg = cfg.withDefaults()
	b.cfgMu.Unlock()
}

// Registry exposes the connection registry, mainly for health checks.
func (b *Bridge) Registry() *Registry { return b.registry }

// Connected reports whether an endpoint connection is active.
func (b *Bridge) Connected() bool {
	return b.registry.Get() != nil
}

// Status describes the connection state for the tool caller.
func (b *Bridge) Status() string {
	if b.Connected() {
		return "Connected: Browser is connected and ready."
	}
	return fmt.Sprintf("Disconnected: No browser connected. Open %s in your browser.", b.Config().PageURL)
}

// CheckConnected returns [ErrNoConnection] when no endpoint is active. It is
// shaped for use as a readiness check.
func (b *Bridge) CheckConnected(context.Context) error {
	if !b.Connected() {
		return ErrNoConnection
	}
	return nil
}

type named interface{ Name() string }

func providerName(p any) string {
	if n, ok := p.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
