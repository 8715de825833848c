package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  asr:
    name: assemblyai
    api_key: test-key
  asr_fallback:
    name: deepgram
    api_key: fallback-key
    model: nova-2
  vad:
    name: energy
  voiceprint:
    name: ecapa
    base_url: http://localhost:5055
  dispatch:
    name: http
    base_url: http://localhost:9000
store:
  postgres_dsn: postgres://earshot:pw@localhost:5432/earshot?sslmode=disable
  embedding_dimensions: 192
segmenter:
  sample_rate: 16000
  frame_duration: 30ms
  min_speech_duration: 1.5s
  max_segment_duration: 30m
  base_silence_timeout: 4s
  min_silence_timeout: 3s
  max_silence_timeout: 8s
  noise_floor_rms: 0.005
  listening:
    start_hour: 7
    end_hour: 23
gateway:
  poll_ceiling: 30m
  min_billable: 10s
  enforce_billing_floor: true
  max_speakers: 4
  language: en
identity:
  cluster_threshold: 0.20
  promote_min_samples: 10
  promote_max_variance: 20.0
  promote_max_self_consistency: 0.15
  prune_min_samples: 3
  prune_age: 720h
  min_utterance_duration: 1s
tracker:
  unidentified_grace: 2h
  id_failed_grace: 168h
  max_transcription_retries: 3
  retry_backoff: 5m
commands:
  scan_window: 20
  dispatch_timeout: 5s
  triggers:
    - phrase: hey oasis
      agent_id: home-assistant
      allowed_speakers: [ada, brook]
events:
  enabled: false
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.ASR.Name != "assemblyai" {
		t.Errorf("asr provider = %q", cfg.Providers.ASR.Name)
	}
	if cfg.Providers.ASRFallback == nil || cfg.Providers.ASRFallback.Model != "nova-2" {
		t.Errorf("asr_fallback = %+v", cfg.Providers.ASRFallback)
	}
	if got := cfg.Segmenter.MinSpeechDuration.Std(); got != 1500*time.Millisecond {
		t.Errorf("min_speech_duration = %v", got)
	}
	if got := cfg.Tracker.IDFailedGrace.Std(); got != 168*time.Hour {
		t.Errorf("id_failed_grace = %v", got)
	}
	if cfg.Segmenter.Listening == nil || cfg.Segmenter.Listening.StartHour != 7 {
		t.Errorf("listening = %+v", cfg.Segmenter.Listening)
	}
	if len(cfg.Commands.Triggers) != 1 || cfg.Commands.Triggers[0].AgentID != "home-assistant" {
		t.Errorf("triggers = %+v", cfg.Commands.Triggers)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
  not_a_real_field: true
providers:
  asr:
    name: assemblyai
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReaderBadDuration(t *testing.T) {
	yaml := `
providers:
  asr:
    name: assemblyai
gateway:
  poll_ceiling: thirty minutes
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Providers: ProvidersConfig{ASR: ProviderEntry{Name: "assemblyai"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "minimal valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing asr provider",
			mutate:  func(c *Config) { c.Providers.ASR.Name = "" },
			wantErr: "providers.asr.name is required",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "tls missing key",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantErr: "server.tls requires both",
		},
		{
			name: "listening hour out of range",
			mutate: func(c *Config) {
				c.Segmenter.Listening = &ListeningConfig{StartHour: 25, EndHour: 9}
			},
			wantErr: "start_hour 25",
		},
		{
			name:    "noise floor out of range",
			mutate:  func(c *Config) { c.Segmenter.NoiseFloorRMS = 1.5 },
			wantErr: "noise_floor_rms",
		},
		{
			name: "silence timeouts inverted",
			mutate: func(c *Config) {
				c.Segmenter.MinSilenceTimeout = Duration(8 * time.Second)
				c.Segmenter.MaxSilenceTimeout = Duration(3 * time.Second)
			},
			wantErr: "min_silence_timeout",
		},
		{
			name:    "cluster threshold out of range",
			mutate:  func(c *Config) { c.Identity.ClusterThreshold = 3.0 },
			wantErr: "cluster_threshold",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Tracker.MaxTranscriptionRetries = -1 },
			wantErr: "max_transcription_retries",
		},
		{
			name: "trigger missing agent",
			mutate: func(c *Config) {
				c.Commands.Triggers = []TriggerConfig{{Phrase: "hey oasis"}}
			},
			wantErr: "agent_id is required",
		},
		{
			name: "duplicate trigger phrase",
			mutate: func(c *Config) {
				c.Commands.Triggers = []TriggerConfig{
					{Phrase: "hey oasis", AgentID: "a", AllowedSpeakers: []string{"ada"}},
					{Phrase: "hey oasis", AgentID: "b", AllowedSpeakers: []string{"ada"}},
				}
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsMultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{LogLevel: "loud"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "providers.asr.name"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}
