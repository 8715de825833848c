// Package app wires all Earshot subsystems into a running pipeline.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture loop and worker pool, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithPublisher, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oasis-home/earshot/internal/command"
	"github.com/oasis-home/earshot/internal/config"
	"github.com/oasis-home/earshot/internal/events"
	"github.com/oasis-home/earshot/internal/gateway"
	"github.com/oasis-home/earshot/internal/identity"
	"github.com/oasis-home/earshot/internal/identity/profilestore"
	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/internal/segmenter"
	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/asr"
	"github.com/oasis-home/earshot/pkg/provider/dispatch"
	"github.com/oasis-home/earshot/pkg/provider/vad"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
)

// segmentQueueDepth bounds the segment channel between the capture loop and
// the workers. A full queue back-pressures the capture loop rather than
// growing without bound while the transcription backend is slow.
const segmentQueueDepth = 16

// defaultWorkers is the number of concurrent segment workers.
const defaultWorkers = 4

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// ASR is the diarizing transcription backend. Required.
	ASR asr.Provider

	// VAD gates the capture loop. Required when Source is set.
	VAD vad.Engine

	// Voiceprint produces speaker embeddings. Nil disables identification;
	// segments then complete without speaker attribution.
	Voiceprint voiceprint.Provider

	// Dispatch delivers detected commands. Nil disables the command router.
	Dispatch dispatch.Dispatcher

	// Source yields live or file-backed audio frames. Nil means segments
	// arrive only through the HTTP ingest endpoint.
	Source audio.Source
}

// App owns all subsystem lifetimes and orchestrates the ambient pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	tracker   *pipeline.Tracker
	store     profilestore.Store
	gateway   *gateway.Gateway
	engine    *identity.Engine
	router    atomic.Pointer[command.Router]
	publisher *events.Publisher
	seg       *segmenter.Segmenter
	exporter  *exporter

	// segCh carries emitted segments to the worker pool.
	segCh chan *audio.Segment

	// segments caches in-flight PCM so failed transcriptions and pending
	// identifications can be re-run. Entries are dropped once the segment
	// leaves the pipeline.
	segMu    sync.Mutex
	segments map[string]*audio.Segment

	// reidentifyMu serializes re-identification passes: the periodic sweep
	// and the enroll/promote hooks must not re-match the same transcript
	// concurrently.
	reidentifyMu sync.Mutex

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a profile store instead of creating one from config.
func WithStore(s profilestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher injects an event publisher instead of creating one from config.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.ASR == nil {
		return nil, fmt.Errorf("app: an ASR provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
		segCh:     make(chan *audio.Segment, segmentQueueDepth),
		segments:  make(map[string]*audio.Segment),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	a.tracker = pipeline.NewTracker(pipeline.TrackerConfig{
		UnidentifiedGrace:       cfg.Tracker.UnidentifiedGrace.Std(),
		IDFailedGrace:           cfg.Tracker.IDFailedGrace.Std(),
		MaxTranscriptionRetries: cfg.Tracker.MaxTranscriptionRetries,
		MaxIdentifyRetries:      cfg.Tracker.MaxIdentifyRetries,
		RetryBackoff:            cfg.Tracker.RetryBackoff.Std(),
	})

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initPublisher()
	a.initGateway()
	a.initEngine()
	a.initRouter()
	if err := a.initSegmenter(); err != nil {
		return nil, fmt.Errorf("app: init segmenter: %w", err)
	}
	a.exporter = newExporter(a.tracker, a.publisher, a.logger, a.metrics)

	return a, nil
}

// initStore connects the profile store: Postgres when a DSN is configured,
// an in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.logger.Warn("no postgres_dsn configured, using in-memory profile store")
		a.store = profilestore.NewMemStore()
		return nil
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = 192 // ECAPA-TDNN embedding size
	}
	pg, err := profilestore.NewPostgres(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

func (a *App) initPublisher() {
	if a.publisher != nil {
		return // injected
	}
	a.publisher = events.New(&events.Config{
		Enabled:         a.cfg.Events.Enabled,
		Brokers:         a.cfg.Events.Brokers,
		TopicExports:    a.cfg.Events.TopicExports,
		TopicPromotions: a.cfg.Events.TopicPromotions,
	}, a.logger)
	a.closers = append(a.closers, a.publisher.Close)
}

func (a *App) initGateway() {
	a.gateway = gateway.New(gateway.Config{
		PollCeiling:  a.cfg.Gateway.PollCeiling.Std(),
		MinBillable:  a.cfg.Gateway.MinBillable.Std(),
		EnforceFloor: a.cfg.Gateway.EnforceBillingFloor,
		MaxSpeakers:  a.cfg.Gateway.MaxSpeakers,
		Language:     a.cfg.Gateway.Language,
		ProviderName: a.cfg.Providers.ASR.Name,
	}, a.providers.ASR, a.tracker, a.metrics, a.logger)
}

func (a *App) initEngine() {
	if a.providers.Voiceprint == nil {
		a.logger.Warn("no voiceprint provider configured, speaker identification disabled")
		return
	}
	a.engine = identity.New(identity.Config{
		ClusterThreshold:          a.cfg.Identity.ClusterThreshold,
		PromoteMinSamples:         a.cfg.Identity.PromoteMinSamples,
		PromoteMaxVariance:        a.cfg.Identity.PromoteMaxVariance,
		PromoteMaxSelfConsistency: a.cfg.Identity.PromoteMaxSelfConsistency,
		PruneMinSamples:           a.cfg.Identity.PruneMinSamples,
		PruneAge:                  a.cfg.Identity.PruneAge.Std(),
		MinUtteranceDuration:      a.cfg.Identity.MinUtteranceDuration.Std(),
	}, a.providers.Voiceprint, a.store, a.tracker, a.metrics, a.logger,
		identity.WithPromotionListener(a.publisher))
}

func (a *App) initRouter() {
	if a.providers.Dispatch == nil {
		a.logger.Warn("no dispatch provider configured, command routing disabled")
		return
	}
	a.router.Store(a.buildRouter(a.cfg.Commands))
}

// buildRouter constructs a command router from a trigger configuration.
func (a *App) buildRouter(cmds config.CommandsConfig) *command.Router {
	triggers := make([]command.Trigger, len(cmds.Triggers))
	for i, tc := range cmds.Triggers {
		triggers[i] = command.Trigger{
			Phrase:          tc.Phrase,
			AgentID:         tc.AgentID,
			AllowedSpeakers: tc.AllowedSpeakers,
		}
	}
	return command.New(command.Config{
		ScanWindow:       cmds.ScanWindow,
		DispatchTimeout:  cmds.DispatchTimeout.Std(),
		FuzzyMaxDistance: cmds.FuzzyMaxDistance,
	}, triggers, a.providers.Dispatch, a.metrics, a.logger)
}

// ReloadTriggers swaps the command router for one built from the new trigger
// set. Safe to call while Run is active; in-flight transcripts keep the old
// router, subsequent ones see the new one.
func (a *App) ReloadTriggers(cmds config.CommandsConfig) {
	if a.providers.Dispatch == nil {
		return
	}
	a.router.Store(a.buildRouter(cmds))
	a.logger.Info("command triggers reloaded", "triggers", len(cmds.Triggers))
}

func (a *App) initSegmenter() error {
	if a.providers.Source == nil {
		a.logger.Info("no audio source configured, accepting segments via HTTP ingest only")
		return nil
	}
	if a.providers.VAD == nil {
		return fmt.Errorf("a VAD engine is required when an audio source is configured")
	}

	src := a.providers.Source
	session, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:      src.SampleRate(),
		FrameSizeMs:     int(src.FrameDuration().Milliseconds()),
		SpeechThreshold: 0.5,
	})
	if err != nil {
		return fmt.Errorf("create vad session: %w", err)
	}
	a.closers = append(a.closers, session.Close)

	var listening *segmenter.ListenWindow
	if lw := a.cfg.Segmenter.Listening; lw != nil {
		listening = &segmenter.ListenWindow{StartHour: lw.StartHour, EndHour: lw.EndHour}
	}
	seg, err := segmenter.New(segmenter.Config{
		MinSpeechDuration:  a.cfg.Segmenter.MinSpeechDuration.Std(),
		MaxSegmentDuration: a.cfg.Segmenter.MaxSegmentDuration.Std(),
		BaseSilenceTimeout: a.cfg.Segmenter.BaseSilenceTimeout.Std(),
		MinSilenceTimeout:  a.cfg.Segmenter.MinSilenceTimeout.Std(),
		MaxSilenceTimeout:  a.cfg.Segmenter.MaxSilenceTimeout.Std(),
		NoiseFloorRMS:      a.cfg.Segmenter.NoiseFloorRMS,
		Listening:          listening,
	}, session, src.SampleRate(), src.FrameDuration(), a.logger)
	if err != nil {
		return err
	}
	a.seg = seg
	return nil
}

// ─── Segment cache ───────────────────────────────────────────────────────────

func (a *App) cacheSegment(seg *audio.Segment) {
	a.segMu.Lock()
	a.segments[seg.ID] = seg
	a.segMu.Unlock()
}

func (a *App) cachedSegment(id string) (*audio.Segment, bool) {
	a.segMu.Lock()
	defer a.segMu.Unlock()
	seg, ok := a.segments[id]
	return seg, ok
}

func (a *App) dropSegment(id string) {
	a.segMu.Lock()
	delete(a.segments, id)
	a.segMu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if a.providers.Source != nil {
			if err := a.providers.Source.Close(); err != nil {
				a.logger.Warn("audio source close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
