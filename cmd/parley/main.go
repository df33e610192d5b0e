// Command parley bridges MCP tool calls to a browser voice page: it speaks
// messages through text-to-speech, plays them in the browser and transcribes
// the spoken reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttopenai "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsopenai "github.com/MrWong99/parley/pkg/provider/tts/openai"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Stdout belongs to the stdio MCP transport. Everything else goes to
	// stderr.
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logOut, closeLog, err := logWriter(cfg.Server.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"config_loaded", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"mcp_transport", cfg.MCP.Transport,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithVersion(version),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler()),
	}

	// Hot reload only makes sense for a file that exists. The watcher may
	// fire before the app is built.
	var current atomic.Pointer[app.App]
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			if a := current.Load(); diff.BridgeChanged && a != nil {
				a.Reload(next)
			}
		})
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		opts = append(opts, app.WithCloser(func() error { w.Stop(); return nil }))
	}

	opts = append(opts, app.WithCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	}))
	if closeLog != nil {
		opts = append(opts, app.WithCloser(closeLog))
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	slog.Info("open the voice page in a browser", "url", cfg.Bridge.PageURL)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	return code
}

// loadConfig reads path. A missing file is not an error: the built-in
// defaults are returned and fromFile is false.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: config file %q not found, using defaults\n", path)
		return config.Default(), false, nil
	}
	return nil, false, err
}

// logWriter returns stderr, or stderr plus the given file. The returned
// closer is nil when no file was opened.
func logWriter(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(os.Stderr, f), f.Close, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerBuiltinProviders wires the provider implementations that ship with
// parley into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.APIKey != "" {
			opts = append(opts, ttsopenai.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		speed, ok, err := entry.OptionFloat("speed")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, ttsopenai.WithSpeed(speed))
		}
		timeout, err := entry.OptionDuration("timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, ttsopenai.WithTimeout(timeout))
		}
		return ttsopenai.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.APIKey != "" {
			opts = append(opts, sttopenai.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if prompt := entry.OptionString("prompt"); prompt != "" {
			opts = append(opts, sttopenai.WithPrompt(prompt))
		}
		timeout, err := entry.OptionDuration("timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, sttopenai.WithTimeout(timeout))
		}
		return sttopenai.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		temp, ok, err := entry.OptionFloat("temperature")
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, whisper.WithTemperature(temp))
		}
		timeout, err := entry.OptionDuration("timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, whisper.WithTimeout(timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers", "tts", reg.TTSNames(), "stt", reg.STTNames())
}
