// Package events publishes pipeline notifications to Kafka. When no
// brokers are configured the publisher runs in log-only mode so the rest
// of the pipeline never has to care whether a cluster is reachable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/oasis-home/earshot/internal/identity"
	"github.com/oasis-home/earshot/internal/identity/profilestore"
	"github.com/oasis-home/earshot/internal/pipeline"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicExports    string
	TopicPromotions string
	Enabled         bool
	WriteTimeout    time.Duration
	BatchTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.TopicExports == "" {
		c.TopicExports = "earshot.transcripts.ready"
	}
	if c.TopicPromotions == "" {
		c.TopicPromotions = "earshot.candidates.eligible"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
}

// ExportReadyEvent announces that a segment has cleared its grace period
// and its transcript may leave the device.
type ExportReadyEvent struct {
	SegmentID  string    `json:"segmentId"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
	Utterances int       `json:"utterances"`
	Resolved   int       `json:"resolvedUtterances"`
}

// PromotionEligibleEvent announces that an unknown-speaker cluster has
// accumulated enough consistent samples to be offered for naming.
type PromotionEligibleEvent struct {
	ClusterID       string    `json:"clusterId"`
	SampleCount     int       `json:"sampleCount"`
	Variance        float64   `json:"variance"`
	SelfConsistency float64   `json:"selfConsistency"`
	TranscriptRefs  []string  `json:"transcriptRefs,omitempty"`
	FirstSeenAt     time.Time `json:"firstSeenAt"`
}

// Publisher writes export-ready and promotion-eligible events to their
// respective topics.
type Publisher struct {
	exports    *kafka.Writer
	promotions *kafka.Writer
	enabled    bool
	logger     *slog.Logger
}

var _ identity.PromotionListener = (*Publisher)(nil)

// New creates a publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher whose methods always succeed.
func New(cfg *Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("event publishing disabled, running in log-only mode")
		return &Publisher{logger: logger}
	}
	cfg.applyDefaults()

	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("event publisher initialized",
		"brokers", cfg.Brokers,
		"topicExports", cfg.TopicExports,
		"topicPromotions", cfg.TopicPromotions)

	return &Publisher{
		exports:    newWriter(cfg.TopicExports),
		promotions: newWriter(cfg.TopicPromotions),
		enabled:    true,
		logger:     logger,
	}
}

// PublishExportReady emits an event for a segment released by the export gate.
func (p *Publisher) PublishExportReady(ctx context.Context, e *pipeline.Entry) error {
	ev := ExportReadyEvent{
		SegmentID:  e.SegmentID,
		Status:     string(e.Status),
		RecordedAt: e.EnteredAt,
	}
	if e.Transcript != nil {
		ev.Utterances = len(e.Transcript.Utterances)
		for i := range e.Transcript.Utterances {
			if e.Transcript.Utterances[i].Resolved != nil {
				ev.Resolved++
			}
		}
	}
	return p.publish(ctx, p.exports, e.SegmentID, ev)
}

// PromotionEligible emits an event for a candidate that crossed the
// promotion bar. Implements identity.PromotionListener; failures are
// logged rather than propagated because eligibility is advisory.
func (p *Publisher) PromotionEligible(ctx context.Context, c *profilestore.Candidate) {
	ev := PromotionEligibleEvent{
		ClusterID:       c.ClusterID,
		SampleCount:     c.SampleCount,
		Variance:        c.Variance,
		SelfConsistency: c.SelfConsistency,
		TranscriptRefs:  c.SampleTranscriptRefs,
		FirstSeenAt:     c.CreatedAt,
	}
	if err := p.publish(ctx, p.promotions, c.ClusterID, ev); err != nil {
		p.logger.Error("failed to publish promotion eligibility", "cluster", c.ClusterID, "error", err)
	}
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	p.logger.Debug("publishing event", "key", key, "payload", string(payload))

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "producer", Value: []byte("earshot")},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to %s: %w", writer.Topic, err)
	}
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.exports, p.promotions} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
