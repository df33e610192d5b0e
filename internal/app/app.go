// Package app wires the parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the bridge, the browser
// endpoint, the speech proxy, the MCP tool surface and the HTTP mux; Run serves HTTP and MCP
// concurrently until ctx ends or the stdio client goes away; Shutdown runs
// the registered closers in order.
//
// For testing, inject metrics or a listener via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/endpoint"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/mcp"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Route of the browser endpoint socket.
const EndpointPath = "/ws"

const (
	readHeaderTimeout = 10 * time.Second
	httpDrainTimeout  = 5 * time.Second
)

// Providers holds the speech backends. Both are required.
type Providers struct {
	TTS tts.Provider
	STT stt.Provider
}

// healthReporter is implemented by backends that can tell whether they are
// currently admitting calls, such as the resilience fallbacks.
type healthReporter interface {
	Healthy(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	metrics        *observe.Metrics
	metricsHandler http.Handler

	bridge   *bridge.Bridge
	endpoint *endpoint.Handler
	speech   *api.Handler
	tools    *mcp.Server
	health   *health.Handler
	mux      *http.ServeMux

	listen func(ctx context.Context, addr string) (net.Listener, error)

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics. Without it the route is not
// registered.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithCloser registers fn to run during Shutdown, after the closers already
// registered.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg and the given backends. cfg must already have
// defaults applied (see [config.ApplyDefaults]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.TTS == nil || providers.STT == nil {
		return nil, errors.New("app: tts and stt providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
		listen: func(ctx context.Context, addr string) (net.Listener, error) {
			var lc net.ListenConfig
			return lc.Listen(ctx, "tcp", addr)
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	b, err := bridge.New(providers.TTS, providers.STT, BridgeConfig(cfg), bridge.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init bridge: %w", err)
	}
	a.bridge = b

	epOpts := []endpoint.Option{endpoint.WithMaxMessageBytes(cfg.Bridge.MaxMessageBytes)}
	if len(cfg.Bridge.AllowedOrigins) > 0 {
		epOpts = append(epOpts, endpoint.WithOriginPatterns(cfg.Bridge.AllowedOrigins...))
	}
	a.endpoint = endpoint.New(b, epOpts...)

	a.speech = api.New(providers.TTS, providers.STT,
		api.WithDefaultVoice(func() string { return b.Config().DefaultVoice }),
		api.WithMaxUploadBytes(cfg.Bridge.MaxMessageBytes),
		api.WithMetrics(a.metrics),
	)

	a.tools = mcp.NewServer(b, mcp.Config{
		Transport: cfg.MCP.Transport,
		Path:      cfg.MCP.Path,
		Version:   a.version,
	}, mcp.WithMetrics(a.metrics))

	a.health = health.New(a.checkers()...)
	a.mux = a.buildMux()

	slog.Debug("app initialised",
		"listen_addr", cfg.Server.ListenAddr,
		"mcp_transport", cfg.MCP.Transport,
		"tts", providerName(providers.TTS),
		"stt", providerName(providers.STT),
	)
	return a, nil
}

func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if hr, ok := a.providers.TTS.(healthReporter); ok {
		cs = append(cs, health.Checker{Name: "tts", Check: hr.Healthy})
	}
	if hr, ok := a.providers.STT.(healthReporter); ok {
		cs = append(cs, health.Checker{Name: "stt", Check: hr.Healthy})
	}
	cs = append(cs, health.Checker{Name: "endpoint", Check: a.bridge.CheckConnected, Optional: true})
	return cs
}

// buildMux registers every route. The socket route stays outside the
// request middleware: it hijacks the connection for its whole lifetime.
func (a *App) buildMux() *http.ServeMux {
	mw := observe.Middleware(a.metrics)
	mux := http.NewServeMux()

	mux.Handle("GET "+EndpointPath, a.endpoint)
	a.health.Register(mux, mw)
	a.speech.Register(mux, mw)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", mw(a.metricsHandler))
	}
	if a.tools.Transport() == mcp.TransportStreamableHTTP {
		mux.Handle(a.tools.Path(), mw(a.tools.Handler()))
	}
	return mux
}

// Bridge returns the coordination core.
func (a *App) Bridge() *bridge.Bridge { return a.bridge }

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.mux }

// Ready is closed once the HTTP listener is bound.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listener address, or nil before [App.Ready].
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Reload applies the hot-reloadable parts of cfg. Other changes are ignored
// until restart.
func (a *App) Reload(cfg *config.Config) {
	a.bridge.SetConfig(BridgeConfig(cfg))
	slog.Info("bridge settings reloaded",
		"default_voice", cfg.Bridge.DefaultVoice,
		"playback_timeout", cfg.Bridge.PlaybackTimeout,
		"recording_timeout", cfg.Bridge.RecordingTimeout,
	)
}

// errMCPClosed ends Run when the stdio client disconnects.
var errMCPClosed = errors.New("app: mcp client disconnected")

// Run serves HTTP and MCP until ctx is cancelled or, with the stdio
// transport, the MCP client closes its end. It returns nil on either.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.serveHTTP(gctx)
	})
	g.Go(func() error {
		if err := a.tools.Run(gctx); err != nil {
			return fmt.Errorf("app: mcp: %w", err)
		}
		if gctx.Err() == nil && a.tools.Transport() == mcp.TransportStdio {
			return errMCPClosed
		}
		return nil
	})

	slog.Info("parley running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"mcp_transport", a.tools.Transport(),
	)
	err := g.Wait()
	if errors.Is(err, errMCPClosed) {
		slog.Info("mcp client disconnected, stopping")
		return nil
	}
	return err
}

// serveHTTP binds the listener, retrying while the address is busy, and
// serves until ctx ends.
func (a *App) serveHTTP(ctx context.Context) error {
	ln, err := a.bind(ctx)
	if err != nil || ln == nil {
		return err
	}

	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.ready)

	srv := &http.Server{
		Handler:           a.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpDrainTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}()

	tlsCfg := a.cfg.Server.TLS
	scheme := "http"
	if tlsCfg != nil {
		scheme = "https"
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "scheme", scheme, "endpoint", EndpointPath)

	if tlsCfg != nil {
		err = srv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return fmt.Errorf("app: http: %w", err)
}

// bind listens on the configured address. While the address is unavailable
// it retries every Server.BindRetry until ctx ends, in which case it returns
// a nil listener and nil error. A zero BindRetry disables retrying.
func (a *App) bind(ctx context.Context) (net.Listener, error) {
	addr := a.cfg.Server.ListenAddr
	retry := a.cfg.Server.BindRetry
	for attempt := 1; ; attempt++ {
		ln, err := a.listen(ctx, addr)
		if err == nil {
			return ln, nil
		}
		if retry <= 0 {
			return nil, fmt.Errorf("app: listen %s: %w", addr, err)
		}
		slog.Warn("cannot bind listen address, retrying", "addr", addr, "attempt", attempt, "retry_in", retry, "err", err)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil
		case <-t.C:
		}
	}
}

// Shutdown runs the registered closers in order. It is safe to call more
// than once; later calls do nothing.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// BridgeConfig extracts the bridge settings from cfg.
func BridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		DefaultVoice:     cfg.Bridge.DefaultVoice,
		PlaybackTimeout:  cfg.Bridge.PlaybackTimeout,
		RecordingTimeout: cfg.Bridge.RecordingTimeout,
		PageURL:          cfg.Bridge.PageURL,
	}
}

func providerName(p any) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
