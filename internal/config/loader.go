package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":        {"assemblyai", "deepgram"},
	"vad":        {"energy", "silero"},
	"voiceprint": {"ecapa"},
	"dispatch":   {"http"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	if cfg.Providers.ASRFallback != nil {
		validateProviderName("asr", cfg.Providers.ASRFallback.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("voiceprint", cfg.Providers.Voiceprint.Name)
	validateProviderName("dispatch", cfg.Providers.Dispatch.Name)

	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required; the pipeline cannot run without a transcription backend"))
	}
	if cfg.Providers.Voiceprint.Name == "" {
		slog.Warn("providers.voiceprint is not configured; segments will complete without speaker attribution")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; speaker profiles will not survive a restart")
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}

	if lw := cfg.Segmenter.Listening; lw != nil {
		if lw.StartHour < 0 || lw.StartHour > 23 {
			errs = append(errs, fmt.Errorf("segmenter.listening.start_hour %d is out of range [0, 23]", lw.StartHour))
		}
		if lw.EndHour < 0 || lw.EndHour > 23 {
			errs = append(errs, fmt.Errorf("segmenter.listening.end_hour %d is out of range [0, 23]", lw.EndHour))
		}
	}
	if cfg.Segmenter.NoiseFloorRMS < 0 || cfg.Segmenter.NoiseFloorRMS > 1 {
		errs = append(errs, fmt.Errorf("segmenter.noise_floor_rms %.4f is out of range [0, 1]", cfg.Segmenter.NoiseFloorRMS))
	}
	if cfg.Segmenter.MinSilenceTimeout > 0 && cfg.Segmenter.MaxSilenceTimeout > 0 &&
		cfg.Segmenter.MinSilenceTimeout > cfg.Segmenter.MaxSilenceTimeout {
		errs = append(errs, errors.New("segmenter.min_silence_timeout must not exceed max_silence_timeout"))
	}

	if cfg.Gateway.MaxSpeakers < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_speakers %d must not be negative", cfg.Gateway.MaxSpeakers))
	}

	if th := cfg.Identity.ClusterThreshold; th < 0 || th > 2 {
		errs = append(errs, fmt.Errorf("identity.cluster_threshold %.3f is out of range [0, 2] (cosine distance)", th))
	}
	if sc := cfg.Identity.PromoteMaxSelfConsistency; sc < 0 || sc > 2 {
		errs = append(errs, fmt.Errorf("identity.promote_max_self_consistency %.3f is out of range [0, 2]", sc))
	}

	if cfg.Tracker.MaxTranscriptionRetries < 0 {
		errs = append(errs, errors.New("tracker.max_transcription_retries must not be negative"))
	}
	if cfg.Tracker.MaxIdentifyRetries < 0 {
		errs = append(errs, errors.New("tracker.max_identify_retries must not be negative"))
	}

	if cfg.Commands.ScanWindow < 0 {
		errs = append(errs, errors.New("commands.scan_window must not be negative"))
	}
	triggersSeen := make(map[string]int, len(cfg.Commands.Triggers))
	for i, tr := range cfg.Commands.Triggers {
		prefix := fmt.Sprintf("commands.triggers[%d]", i)
		if tr.Phrase == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is required", prefix))
		} else {
			if prev, ok := triggersSeen[tr.Phrase]; ok {
				errs = append(errs, fmt.Errorf("%s.phrase %q is a duplicate of commands.triggers[%d]", prefix, tr.Phrase, prev))
			}
			triggersSeen[tr.Phrase] = i
		}
		if tr.AgentID == "" {
			errs = append(errs, fmt.Errorf("%s.agent_id is required", prefix))
		}
		if len(tr.AllowedSpeakers) == 0 {
			slog.Warn("trigger has an empty allowed_speakers list; nobody can use it",
				"phrase", tr.Phrase)
		}
	}

	if cfg.Events.Enabled && len(cfg.Events.Brokers) == 0 {
		slog.Warn("events.enabled is true but no brokers are configured; publisher will run in log-only mode")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
