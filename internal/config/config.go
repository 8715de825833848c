// Package config provides the configuration schema, loader, and provider
// registry for the Earshot ambient transcription pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a yaml-parseable wrapper around time.Duration, accepting
// values like "1.5s", "2h" or "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Identity  IdentityConfig  `yaml:"identity"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Commands  CommandsConfig  `yaml:"commands"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// external collaborator. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	// ASR is the primary diarizing transcription backend.
	ASR ProviderEntry `yaml:"asr"`

	// ASRFallback, when set, is tried whenever the primary ASR fails.
	ASRFallback *ProviderEntry `yaml:"asr_fallback"`

	// VAD selects the voice-activity-detection engine.
	VAD ProviderEntry `yaml:"vad"`

	// Voiceprint selects the speaker-embedding backend.
	Voiceprint ProviderEntry `yaml:"voiceprint"`

	// Dispatch selects the command dispatcher client.
	Dispatch ProviderEntry `yaml:"dispatch"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "assemblyai", "deepgram", "ecapa").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For
	// self-hosted backends (voiceprint, dispatch) it is the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// StoreConfig holds settings for the speaker profile store.
type StoreConfig struct {
	// PostgresDSN is the connection string for the pgvector-backed store.
	// When empty, profiles live in memory and vanish on restart.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the voiceprint model.
	// Must match the model configured in Providers.Voiceprint.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// SegmenterConfig tunes the voice-activity segmenter.
type SegmenterConfig struct {
	SampleRate         int      `yaml:"sample_rate"`
	FrameDuration      Duration `yaml:"frame_duration"`
	MinSpeechDuration  Duration `yaml:"min_speech_duration"`
	MaxSegmentDuration Duration `yaml:"max_segment_duration"`
	BaseSilenceTimeout Duration `yaml:"base_silence_timeout"`
	MinSilenceTimeout  Duration `yaml:"min_silence_timeout"`
	MaxSilenceTimeout  Duration `yaml:"max_silence_timeout"`

	// NoiseFloorRMS gates VAD decisions; frames quieter than this are
	// always treated as silence.
	NoiseFloorRMS float64 `yaml:"noise_floor_rms"`

	// Listening restricts capture to a daily window. Nil means always on.
	Listening *ListeningConfig `yaml:"listening"`
}

// ListeningConfig is a daily capture window on the local clock. A window
// whose start hour exceeds its end hour wraps past midnight.
type ListeningConfig struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// GatewayConfig tunes the transcription gateway.
type GatewayConfig struct {
	// PollCeiling bounds how long a single transcription may run.
	PollCeiling Duration `yaml:"poll_ceiling"`

	// MinBillable flags segments shorter than the provider's billing floor.
	MinBillable Duration `yaml:"min_billable"`

	// EnforceBillingFloor marks sub-floor segments skipped_too_short.
	EnforceBillingFloor bool `yaml:"enforce_billing_floor"`

	// MaxSpeakers hints the diarizer's expected speaker count.
	MaxSpeakers int `yaml:"max_speakers"`

	// Language is the requested transcription language code.
	Language string `yaml:"language"`
}

// IdentityConfig tunes speaker identification and candidate management.
type IdentityConfig struct {
	ClusterThreshold          float64  `yaml:"cluster_threshold"`
	PromoteMinSamples         int      `yaml:"promote_min_samples"`
	PromoteMaxVariance        float64  `yaml:"promote_max_variance"`
	PromoteMaxSelfConsistency float64  `yaml:"promote_max_self_consistency"`
	PruneMinSamples           int      `yaml:"prune_min_samples"`
	PruneAge                  Duration `yaml:"prune_age"`
	MinUtteranceDuration      Duration `yaml:"min_utterance_duration"`
}

// TrackerConfig tunes the pipeline state tracker's export gate.
type TrackerConfig struct {
	UnidentifiedGrace       Duration `yaml:"unidentified_grace"`
	IDFailedGrace           Duration `yaml:"id_failed_grace"`
	MaxTranscriptionRetries int      `yaml:"max_transcription_retries"`
	MaxIdentifyRetries      int      `yaml:"max_identify_retries"`
	RetryBackoff            Duration `yaml:"retry_backoff"`
}

// CommandsConfig configures trigger phrase detection and dispatch.
type CommandsConfig struct {
	// ScanWindow is how many leading characters of an utterance are
	// searched for a trigger phrase.
	ScanWindow int `yaml:"scan_window"`

	// DispatchTimeout bounds a single dispatch call.
	DispatchTimeout Duration `yaml:"dispatch_timeout"`

	// FuzzyMaxDistance is the edit-distance budget for wake-word matching.
	// 0 uses the default of 1; -1 disables fuzzy matching.
	FuzzyMaxDistance int `yaml:"fuzzy_max_distance"`

	Triggers []TriggerConfig `yaml:"triggers"`
}

// TriggerConfig declares one trigger phrase and its authorization list.
type TriggerConfig struct {
	// Phrase is the wake phrase, matched case-insensitively.
	Phrase string `yaml:"phrase"`

	// AgentID names the downstream agent that receives the command.
	AgentID string `yaml:"agent_id"`

	// AllowedSpeakers lists enrolled profile names permitted to use this
	// trigger. An empty list authorizes nobody.
	AllowedSpeakers []string `yaml:"allowed_speakers"`
}

// EventsConfig configures the optional Kafka notifications.
type EventsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TopicExports    string   `yaml:"topic_exports"`
	TopicPromotions string   `yaml:"topic_promotions"`
}
