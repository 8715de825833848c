// Command earshot is the main entry point for the Earshot ambient
// transcription server.
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

	"github.com/oasis-home/earshot/internal/app"
	"github.com/oasis-home/earshot/internal/config"
	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/resilience"
	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/asr"
	"github.com/oasis-home/earshot/pkg/provider/asr/assemblyai"
	"github.com/oasis-home/earshot/pkg/provider/asr/deepgram"
	"github.com/oasis-home/earshot/pkg/provider/dispatch"
	"github.com/oasis-home/earshot/pkg/provider/vad"
	"github.com/oasis-home/earshot/pkg/provider/vad/energy"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint/ecapa"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	wavPath := flag.String("wav", "", "optional WAV file to replay as the live audio source")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "earshot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio source (optional) ───────────────────────────────────────────────
	if *wavPath != "" {
		frameDur := cfg.Segmenter.FrameDuration.Std()
		if frameDur <= 0 {
			frameDur = 30 * time.Millisecond
		}
		src, err := audio.NewFileSource(*wavPath, frameDur, time.Now())
		if err != nil {
			slog.Error("failed to open audio source", "path", *wavPath, "err", err)
			return 1
		}
		providers.Source = src
		slog.Info("replaying audio file", "path", *wavPath, "sample_rate", src.SampleRate())
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, *wavPath)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.TriggersChanged {
			application.ReloadTriggers(new.Commands)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("assemblyai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []assemblyai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assemblyai.WithBaseURL(entry.BaseURL))
		}
		if poll := optString(entry.Options, "poll_interval"); poll != "" {
			d, err := time.ParseDuration(poll)
			if err != nil {
				return nil, fmt.Errorf("assemblyai: bad poll_interval %q: %w", poll, err)
			}
			opts = append(opts, assemblyai.WithPollInterval(d))
		}
		return assemblyai.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if n := optInt(entry.Options, "hangover_frames"); n > 0 {
			opts = append(opts, energy.WithHangoverFrames(n))
		}
		return energy.New(opts...), nil
	})

	// ── Voiceprint ────────────────────────────────────────────────────────────

	reg.RegisterVoiceprint("ecapa", func(entry config.ProviderEntry) (voiceprint.Provider, error) {
		var opts []ecapa.Option
		if entry.Model != "" {
			opts = append(opts, ecapa.WithModelID(entry.Model))
		}
		if d := optInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, ecapa.WithDimensions(d))
		}
		return ecapa.New(entry.BaseURL, opts...)
	})

	// ── Dispatch ──────────────────────────────────────────────────────────────

	reg.RegisterDispatch("http", func(entry config.ProviderEntry) (dispatch.Dispatcher, error) {
		var opts []dispatch.HTTPOption
		if entry.APIKey != "" {
			opts = append(opts, dispatch.WithAuthToken(entry.APIKey))
		}
		return dispatch.NewHTTP(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. The primary ASR is wrapped in a circuit-breaking fallback group
// when an asr_fallback entry is configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	ps.ASR = primary
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)

	if fb := cfg.Providers.ASRFallback; fb != nil {
		secondary, err := reg.CreateASR(*fb)
		if err != nil {
			return nil, fmt.Errorf("create asr fallback %q: %w", fb.Name, err)
		}
		group := resilience.NewASRFallback(primary, cfg.Providers.ASR.Name, resilience.FallbackConfig{})
		group.AddFallback(fb.Name, secondary)
		ps.ASR = group
		slog.Info("provider created", "kind", "asr_fallback", "name", fb.Name)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	if name := cfg.Providers.Voiceprint.Name; name != "" {
		p, err := reg.CreateVoiceprint(cfg.Providers.Voiceprint)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "voiceprint", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create voiceprint provider %q: %w", name, err)
		} else {
			ps.Voiceprint = p
			slog.Info("provider created", "kind", "voiceprint", "name", name)
		}
	}

	if name := cfg.Providers.Dispatch.Name; name != "" {
		p, err := reg.CreateDispatch(cfg.Providers.Dispatch)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "dispatch", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create dispatch provider %q: %w", name, err)
		} else {
			ps.Dispatch = p
			slog.Info("provider created", "kind", "dispatch", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, wavPath string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	if fb := cfg.Providers.ASRFallback; fb != nil {
		printProvider("ASR fallback", fb.Name, fb.Model)
	} else {
		printProvider("ASR fallback", "", "")
	}
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Voiceprint", cfg.Providers.Voiceprint.Name, cfg.Providers.Voiceprint.Model)
	printProvider("Dispatch", cfg.Providers.Dispatch.Name, "")
	if wavPath != "" {
		fmt.Printf("║  Audio source    : %-19s ║\n", "wav replay")
	} else {
		fmt.Printf("║  Audio source    : %-19s ║\n", "http ingest only")
	}
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Profile store   : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Profile store   : %-19s ║\n", "in-memory")
	}
	fmt.Printf("║  Triggers        : %-19d ║\n", len(cfg.Commands.Triggers))
	if cfg.Events.Enabled {
		fmt.Printf("║  Event bus       : %-19s ║\n", "kafka")
	} else {
		fmt.Printf("║  Event bus       : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int value from a provider Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
