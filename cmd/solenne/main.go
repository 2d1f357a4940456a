// Command solenne is the main entry point for the Solenne voice companion
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solenne-ai/solenne/internal/app"
	"github.com/solenne-ai/solenne/internal/config"
	"github.com/solenne-ai/solenne/internal/observe"
	"github.com/solenne-ai/solenne/internal/resilience"
	"github.com/solenne-ai/solenne/internal/server"
	"github.com/solenne-ai/solenne/pkg/provider/llm"
	openaillm "github.com/solenne-ai/solenne/pkg/provider/llm/openai"
	"github.com/solenne-ai/solenne/pkg/provider/stt"
	"github.com/solenne-ai/solenne/pkg/provider/stt/deepgram"
	"github.com/solenne-ai/solenne/pkg/provider/tts"
	"github.com/solenne-ai/solenne/pkg/provider/tts/elevenlabs"
)

// openRouterBaseURL is the default endpoint for the "openrouter" LLM
// provider when the config does not override it.
const openRouterBaseURL = "https://openrouter.ai/api/v1"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "solenne: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "solenne: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("solenne starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"avatar", len(cfg.Avatar.Command) > 0,
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := app.NewRegistry()
	srv, err := server.New(server.Config{
		Config:    cfg,
		Providers: providers,
		Registry:  registry,
		Metrics:   observe.DefaultMetrics(),
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// Watch the config file so log level and persona changes apply without a
	// restart. Persona changes affect new sessions only.
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		diff := config.Diff(old, updated)
		if !diff.Any() {
			return
		}
		if diff.LogLevelChanged {
			slog.SetDefault(newLogger(diff.NewLogLevel))
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if diff.PersonaChanged || diff.VoiceChanged {
			cfg.Session = updated.Session
			slog.Info("session settings updated; applies to new sessions")
		}
		if diff.ProvidersChanged || diff.AvatarChanged {
			slog.Warn("provider or avatar changes require a restart")
		}
	})
	if err != nil {
		slog.Warn("config watcher not started", "err", err)
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("server ready; press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the provider factories that ship with
// Solenne into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// openrouter is the openai provider pointed at the OpenRouter endpoint.
	reg.RegisterLLM("openrouter", func(entry config.ProviderEntry) (llm.Provider, error) {
		base := entry.BaseURL
		if base == "" {
			base = openRouterBaseURL
		}
		return openaillm.New(entry.APIKey, entry.Model, openaillm.WithBaseURL(base))
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry.
// Each provider slot is wrapped in a circuit-breaker failover group so a
// flapping backend degrades to its configured fallbacks instead of failing
// every session.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{})
		for _, alt := range entry.Fallbacks {
			ap, err := reg.CreateSTT(alt.Entry())
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, ap)
		}
		ps.STT = fb
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{})
		for _, alt := range entry.Fallbacks {
			ap, err := reg.CreateLLM(alt.Entry())
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, ap)
		}
		ps.LLM = fb
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		fb := resilience.NewTTSFallback(p, entry.Name, resilience.FallbackConfig{})
		for _, alt := range entry.Fallbacks {
			ap, err := reg.CreateTTS(alt.Entry())
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", alt.Name, err)
			}
			fb.AddFallback(alt.Name, ap)
		}
		ps.TTS = fb
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	}

	return ps, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
