// Package identity resolves provisional diarization tags ("SPEAKER_00") to
// enrolled speaker names, maintains unknown-speaker candidate clusters, and
// owns profile enrollment. It is the only writer of the profile/candidate
// store; all writes for a given key are serialized.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oasis-home/earshot/internal/identity/profilestore"
	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/internal/pipeline"
	"github.com/oasis-home/earshot/internal/resilience"
	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
)

// methodMultiSegmentAvg names the identification method recorded on
// resolved utterances: embeddings from several utterances averaged before
// matching.
const methodMultiSegmentAvg = "multi-segment-avg"

// PromotionListener is notified when a candidate crosses the promotion
// thresholds. The listener decides what happens next (auto-promote, operator
// approval); the engine only signals eligibility.
type PromotionListener interface {
	PromotionEligible(ctx context.Context, c *profilestore.Candidate)
}

// Config tunes the engine. Zero-value fields are replaced with the
// documented defaults.
type Config struct {
	// MaxUtterancesPerTag bounds how many utterances feed the averaged
	// embedding per speaker tag. Default: 3.
	MaxUtterancesPerTag int

	// MinUtteranceDuration excludes short utterances, which produce noisy
	// embeddings. Default: 1s.
	MinUtteranceDuration time.Duration

	// ClusterThreshold is the fixed cosine-distance cutoff for joining an
	// existing unknown-speaker candidate. Default: 0.20.
	ClusterThreshold float64

	// MaxProfileEmbeddings bounds a profile's embedding list; oldest dropped
	// on overflow. Default: 20.
	MaxProfileEmbeddings int

	// MaxCandidateEmbeddings bounds a candidate's embedding list. Default: 20.
	MaxCandidateEmbeddings int

	// MaxTranscriptRefs bounds a candidate's sample transcript list.
	// Default: 10.
	MaxTranscriptRefs int

	// Promotion eligibility thresholds. Defaults: 10 samples, variance
	// below 20.0, self-consistency below 0.15.
	PromoteMinSamples         int
	PromoteMaxVariance        float64
	PromoteMaxSelfConsistency float64

	// Candidate pruning: fewer than PruneMinSamples samples after PruneAge
	// means the cluster never amounted to a recurring voice. Defaults: 3
	// samples, 30 days.
	PruneMinSamples int
	PruneAge        time.Duration

	// Retry governs embedding extraction retries.
	Retry resilience.RetryConfig

	// Breaker protects the embedding collaborator.
	Breaker resilience.CircuitBreakerConfig
}

func (c *Config) applyDefaults() {
	if c.MaxUtterancesPerTag <= 0 {
		c.MaxUtterancesPerTag = 3
	}
	if c.MinUtteranceDuration <= 0 {
		c.MinUtteranceDuration = time.Second
	}
	if c.ClusterThreshold <= 0 {
		c.ClusterThreshold = 0.20
	}
	if c.MaxProfileEmbeddings <= 0 {
		c.MaxProfileEmbeddings = 20
	}
	if c.MaxCandidateEmbeddings <= 0 {
		c.MaxCandidateEmbeddings = 20
	}
	if c.MaxTranscriptRefs <= 0 {
		c.MaxTranscriptRefs = 10
	}
	if c.PromoteMinSamples <= 0 {
		c.PromoteMinSamples = 10
	}
	if c.PromoteMaxVariance <= 0 {
		c.PromoteMaxVariance = 20.0
	}
	if c.PromoteMaxSelfConsistency <= 0 {
		c.PromoteMaxSelfConsistency = 0.15
	}
	if c.PruneMinSamples <= 0 {
		c.PruneMinSamples = 3
	}
	if c.PruneAge <= 0 {
		c.PruneAge = 30 * 24 * time.Hour
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "voiceprint"
	}
}

// Engine is the identity resolver. Identify calls for distinct transcripts
// may run concurrently; profile and candidate writes are serialized
// internally.
type Engine struct {
	cfg      Config
	embedder voiceprint.Provider
	store    profilestore.Store
	tracker  *pipeline.Tracker
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time

	breaker  *resilience.CircuitBreaker
	keys     *keyMutex
	candMu   sync.Mutex // single lock for the candidate set: write volume is low
	listener PromotionListener
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithPromotionListener registers the promotion-eligibility listener.
func WithPromotionListener(l PromotionListener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine. metrics may be nil.
func New(cfg Config, embedder voiceprint.Provider, store profilestore.Store, tracker *pipeline.Tracker, metrics *observe.Metrics, log *slog.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		tracker:  tracker,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		keys:     newKeyMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Identify enriches the transcript in place: every provisional speaker tag
// is either resolved to an enrolled profile, absorbed into an
// unknown-speaker candidate, or left unresolved. The segment provides the
// audio backing each utterance.
//
// The transcript lands in complete when every tag was processed, or
// speaker_id_failed when embedding extraction broke for at least one tag.
func (e *Engine) Identify(ctx context.Context, seg *audio.Segment, tr *pipeline.Transcript) error {
	log := e.log.With("segment_id", tr.SegmentID)

	if err := e.tracker.Set(tr.SegmentID, pipeline.StatusIdentifying); err != nil {
		return fmt.Errorf("identity: segment %s: %w", tr.SegmentID, err)
	}
	return e.identify(ctx, seg, tr, true, log)
}

// Reidentify gives a transcript another matching pass after the profile set
// changed (an enrollment or a promotion). Transcripts in speaker_id_failed
// get a full identification pass, bounded by the tracker's retry budget.
// Transcripts that completed with every speaker unknown are re-matched in
// place: their status, and the export grace clock anchored to it, are left
// untouched. Neither pass clusters unmatched embeddings again — the first
// pass already counted them toward a candidate.
func (e *Engine) Reidentify(ctx context.Context, seg *audio.Segment, tr *pipeline.Transcript) error {
	log := e.log.With("segment_id", tr.SegmentID)

	entry, ok := e.tracker.Entry(tr.SegmentID)
	if !ok {
		return fmt.Errorf("identity: segment %s: not tracked", tr.SegmentID)
	}
	switch entry.Status {
	case pipeline.StatusSpeakerIDFailed:
		if err := e.tracker.Set(tr.SegmentID, pipeline.StatusIdentifying); err != nil {
			return fmt.Errorf("identity: segment %s: %w", tr.SegmentID, err)
		}
		return e.identify(ctx, seg, tr, false, log)
	case pipeline.StatusComplete:
		profiles, err := e.store.ListProfiles(ctx)
		if err != nil {
			return fmt.Errorf("identity: list profiles: %w", err)
		}
		if failed := e.resolveTags(ctx, seg, tr, profiles, false, log); len(failed) > 0 {
			return fmt.Errorf("identity: segment %s: embedding extraction failed for tags %v", tr.SegmentID, failed)
		}
		return nil
	default:
		return fmt.Errorf("identity: segment %s: status %s is not reidentifiable", tr.SegmentID, entry.Status)
	}
}

func (e *Engine) identify(ctx context.Context, seg *audio.Segment, tr *pipeline.Transcript, absorbUnknowns bool, log *slog.Logger) error {
	start := e.now()

	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		e.fail(tr.SegmentID, log)
		return fmt.Errorf("identity: list profiles: %w", err)
	}

	failedTags := e.resolveTags(ctx, seg, tr, profiles, absorbUnknowns, log)

	if e.metrics != nil {
		e.metrics.IdentificationDuration.Record(ctx, e.now().Sub(start).Seconds())
	}

	if len(failedTags) > 0 {
		e.fail(tr.SegmentID, log)
		return fmt.Errorf("identity: segment %s: embedding extraction failed for tags %v", tr.SegmentID, failedTags)
	}
	if err := e.tracker.Set(tr.SegmentID, pipeline.StatusComplete); err != nil {
		return fmt.Errorf("identity: segment %s: %w", tr.SegmentID, err)
	}
	return nil
}

// resolveTags runs the per-tag match loop, enriching the transcript in place.
// Tags whose utterances are already resolved are skipped, so a repeated pass
// only touches the unknowns. Returns the tags whose embedding extraction
// failed.
func (e *Engine) resolveTags(ctx context.Context, seg *audio.Segment, tr *pipeline.Transcript, profiles []*profilestore.Profile, absorbUnknowns bool, log *slog.Logger) []string {
	var failedTags []string
	for _, tag := range speakerTags(tr) {
		utts := utterancesFor(tr, tag)
		if allResolved(utts) {
			continue
		}

		emb, err := e.embedTag(ctx, seg, utts)
		if err != nil {
			failedTags = append(failedTags, tag)
			log.Error("embedding extraction failed", "speaker_tag", tag, "error", err)
			continue
		}
		if emb == nil {
			// Nothing long enough to embed; the tag stays unresolved.
			continue
		}

		if resolved := e.matchProfiles(profiles, emb); resolved != nil {
			for _, u := range utts {
				u.Resolved = resolved
			}
			if e.metrics != nil {
				e.metrics.IdentificationDistance.Record(ctx, resolved.Distance)
			}
			log.Info("speaker resolved",
				"speaker_tag", tag,
				"name", resolved.Name,
				"distance", resolved.Distance,
			)
			continue
		}
		if !absorbUnknowns {
			continue
		}

		// No profile matched: cluster with the unknowns. Best effort — a
		// store hiccup here must not fail the transcript.
		if err := e.absorbUnknown(ctx, emb, tr.SegmentID); err != nil {
			log.Warn("candidate clustering failed", "speaker_tag", tag, "error", err)
		}
	}
	return failedTags
}

func (e *Engine) fail(segmentID string, log *slog.Logger) {
	if err := e.tracker.Set(segmentID, pipeline.StatusSpeakerIDFailed); err != nil {
		log.Error("status update failed", "error", err)
	}
}

// embedTag selects the tag's longest usable utterances, embeds each clip,
// and returns the normalized average. Returns (nil, nil) when no utterance
// is long enough.
func (e *Engine) embedTag(ctx context.Context, seg *audio.Segment, utts []*pipeline.Utterance) ([]float32, error) {
	usable := make([]*pipeline.Utterance, 0, len(utts))
	for _, u := range utts {
		if u.Duration() >= e.cfg.MinUtteranceDuration {
			usable = append(usable, u)
		}
	}
	if len(usable) == 0 {
		return nil, nil
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Duration() > usable[j].Duration()
	})
	if len(usable) > e.cfg.MaxUtterancesPerTag {
		usable = usable[:e.cfg.MaxUtterancesPerTag]
	}

	var vectors [][]float32
	for _, u := range usable {
		clip := seg.Clip(u.StartOffset, u.EndOffset)
		if len(clip) == 0 {
			continue
		}
		vec, err := resilience.Retry(ctx, e.cfg.Retry, func(ctx context.Context) ([]float32, error) {
			var v []float32
			berr := e.breaker.Execute(func() error {
				var ierr error
				v, ierr = e.embedder.Embed(ctx, clip, seg.SampleRate)
				return ierr
			})
			return v, berr
		})
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordProviderError(ctx, e.embedder.ModelID(), "embedding")
			}
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.RecordProviderRequest(ctx, e.embedder.ModelID(), "embedding", "ok")
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return averageVector(vectors), nil
}

// matchProfiles applies the minimum-distance rule: the speaker matches a
// profile if the averaged embedding is close to any of that profile's
// historical samples. Equal winning distances for two profiles leave the tag
// unresolved rather than guessing.
func (e *Engine) matchProfiles(profiles []*profilestore.Profile, emb []float32) *pipeline.ResolvedSpeaker {
	var (
		best     *profilestore.Profile
		bestDist float64
		tied     bool
	)
	for _, p := range profiles {
		if len(p.Embeddings) == 0 {
			continue
		}
		minDist := cosineDistance(emb, p.Embeddings[0])
		for _, pe := range p.Embeddings[1:] {
			if d := cosineDistance(emb, pe); d < minDist {
				minDist = d
			}
		}
		if minDist >= p.Threshold {
			continue
		}
		switch {
		case best == nil || minDist < bestDist:
			best, bestDist, tied = p, minDist, false
		case minDist == bestDist:
			tied = true
		}
	}
	if best == nil || tied {
		return nil
	}
	return &pipeline.ResolvedSpeaker{
		Name:     best.Name,
		Distance: bestDist,
		Method:   methodMultiSegmentAvg,
	}
}

// absorbUnknown clusters an unmatched embedding: append to the closest
// candidate within the clustering threshold, or start a new cluster.
func (e *Engine) absorbUnknown(ctx context.Context, emb []float32, segmentID string) error {
	e.candMu.Lock()
	defer e.candMu.Unlock()

	candidates, err := e.store.ListCandidates(ctx)
	if err != nil {
		return err
	}

	var (
		best     *profilestore.Candidate
		bestDist = e.cfg.ClusterThreshold
	)
	for _, c := range candidates {
		for _, ce := range c.Embeddings {
			if d := cosineDistance(emb, ce); d < bestDist {
				best, bestDist = c, d
			}
		}
	}

	now := e.now()
	if best == nil {
		c := &profilestore.Candidate{
			ClusterID:            "cand-" + uuid.NewString(),
			Embeddings:           [][]float32{emb},
			SampleTranscriptRefs: []string{segmentID},
			SampleCount:          1,
			CreatedAt:            now,
			LastSeenAt:           now,
		}
		if err := e.store.PutCandidate(ctx, c); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.Candidates.Add(ctx, 1)
		}
		e.log.Info("new unknown-speaker candidate", "cluster_id", c.ClusterID)
		return nil
	}

	best.Embeddings = appendBounded(best.Embeddings, emb, e.cfg.MaxCandidateEmbeddings)
	best.SampleTranscriptRefs = appendBoundedStr(best.SampleTranscriptRefs, segmentID, e.cfg.MaxTranscriptRefs)
	best.SampleCount++
	best.LastSeenAt = now
	best.SelfConsistency = pairwiseConsistency(best.Embeddings)
	best.Variance = clusterVariance(best.Embeddings)
	if err := e.store.PutCandidate(ctx, best); err != nil {
		return err
	}

	if e.eligible(best) {
		e.log.Info("candidate eligible for promotion",
			"cluster_id", best.ClusterID,
			"samples", best.SampleCount,
			"variance", best.Variance,
			"self_consistency", best.SelfConsistency,
		)
		if e.listener != nil {
			e.listener.PromotionEligible(ctx, best)
		}
	}
	return nil
}

// eligible applies the promotion invariant.
func (e *Engine) eligible(c *profilestore.Candidate) bool {
	return c.SampleCount >= e.cfg.PromoteMinSamples &&
		c.Variance < e.cfg.PromoteMaxVariance &&
		c.SelfConsistency < e.cfg.PromoteMaxSelfConsistency
}

// Enroll extracts one embedding per sample clip and merges them into the
// profile for name, recomputing self-consistency and the adaptive threshold.
// Re-running with identical samples is idempotent: duplicate vectors are not
// unioned twice.
func (e *Engine) Enroll(ctx context.Context, name string, clips [][]byte, sampleRate int) (*profilestore.Profile, error) {
	if name == "" {
		return nil, errors.New("identity: enroll: empty name")
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("identity: enroll %q: no audio samples", name)
	}

	unlock := e.keys.lock(name)
	defer unlock()

	var fresh [][]float32
	for i, clip := range clips {
		vec, err := resilience.Retry(ctx, e.cfg.Retry, func(ctx context.Context) ([]float32, error) {
			var v []float32
			berr := e.breaker.Execute(func() error {
				var ierr error
				v, ierr = e.embedder.Embed(ctx, clip, sampleRate)
				return ierr
			})
			return v, berr
		})
		if err != nil {
			return nil, fmt.Errorf("identity: enroll %q: sample %d: %w", name, i, err)
		}
		fresh = append(fresh, vec)
	}

	now := e.now()
	p, err := e.store.GetProfile(ctx, name)
	switch {
	case errors.Is(err, profilestore.ErrNotFound):
		p = &profilestore.Profile{
			Name:             name,
			EnrollmentMethod: "manual",
			CreatedAt:        now,
		}
	case err != nil:
		return nil, fmt.Errorf("identity: enroll %q: %w", name, err)
	}

	for _, vec := range fresh {
		if containsVector(p.Embeddings, vec) {
			continue
		}
		p.Embeddings = appendBounded(p.Embeddings, vec, e.cfg.MaxProfileEmbeddings)
	}
	p.SelfConsistency = pairwiseConsistency(p.Embeddings)
	p.Threshold = adaptiveThreshold(p.SelfConsistency)
	p.UpdatedAt = now

	if err := e.store.PutProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("identity: enroll %q: %w", name, err)
	}
	e.log.Info("profile enrolled",
		"name", name,
		"embeddings", len(p.Embeddings),
		"threshold", p.Threshold,
		"self_consistency", p.SelfConsistency,
	)
	return p, nil
}

// PromoteCandidate turns an unknown-speaker cluster into (or merges it into)
// the named profile and deletes the cluster. Eligibility is advisory here:
// the caller is an operator or an approval flow acting on the eligibility
// signal.
func (e *Engine) PromoteCandidate(ctx context.Context, clusterID, name string) (*profilestore.Profile, error) {
	if name == "" {
		return nil, errors.New("identity: promote: empty name")
	}

	unlock := e.keys.lock(name)
	defer unlock()
	e.candMu.Lock()
	defer e.candMu.Unlock()

	c, err := e.store.GetCandidate(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("identity: promote %q: %w", clusterID, err)
	}
	if !e.eligible(c) {
		e.log.Warn("promoting candidate below eligibility thresholds",
			"cluster_id", clusterID,
			"samples", c.SampleCount,
			"variance", c.Variance,
		)
	}

	now := e.now()
	p, err := e.store.GetProfile(ctx, name)
	switch {
	case errors.Is(err, profilestore.ErrNotFound):
		p = &profilestore.Profile{
			Name:             name,
			EnrollmentMethod: "candidate-promotion",
			CreatedAt:        now,
		}
	case err != nil:
		return nil, fmt.Errorf("identity: promote %q: %w", clusterID, err)
	}

	for _, vec := range c.Embeddings {
		if containsVector(p.Embeddings, vec) {
			continue
		}
		p.Embeddings = appendBounded(p.Embeddings, vec, e.cfg.MaxProfileEmbeddings)
	}
	p.SelfConsistency = pairwiseConsistency(p.Embeddings)
	p.Threshold = adaptiveThreshold(p.SelfConsistency)
	p.UpdatedAt = now

	if err := e.store.PutProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("identity: promote %q: %w", clusterID, err)
	}
	if err := e.store.DeleteCandidate(ctx, clusterID); err != nil {
		return nil, fmt.Errorf("identity: promote %q: %w", clusterID, err)
	}
	if e.metrics != nil {
		e.metrics.Candidates.Add(ctx, -1)
	}
	e.log.Info("candidate promoted", "cluster_id", clusterID, "name", name)
	return p, nil
}

// SweepCandidates prunes clusters that never accumulated enough samples.
// Returns the number pruned. Safe to skip or delay; only eventual execution
// matters.
func (e *Engine) SweepCandidates(ctx context.Context) (int, error) {
	e.candMu.Lock()
	defer e.candMu.Unlock()

	candidates, err := e.store.ListCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("identity: sweep: %w", err)
	}

	now := e.now()
	pruned := 0
	for _, c := range candidates {
		if c.SampleCount >= e.cfg.PruneMinSamples || now.Sub(c.CreatedAt) <= e.cfg.PruneAge {
			continue
		}
		if err := e.store.DeleteCandidate(ctx, c.ClusterID); err != nil {
			return pruned, fmt.Errorf("identity: sweep: %w", err)
		}
		pruned++
		if e.metrics != nil {
			e.metrics.Candidates.Add(ctx, -1)
		}
		e.log.Info("stale candidate pruned",
			"cluster_id", c.ClusterID,
			"samples", c.SampleCount,
			"age", now.Sub(c.CreatedAt),
		)
	}
	return pruned, nil
}

// speakerTags returns the transcript's distinct tags in first-appearance
// order, keeping identification deterministic.
func speakerTags(tr *pipeline.Transcript) []string {
	seen := make(map[string]bool)
	var tags []string
	for i := range tr.Utterances {
		tag := tr.Utterances[i].SpeakerTag
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

func allResolved(utts []*pipeline.Utterance) bool {
	for _, u := range utts {
		if u.Resolved == nil {
			return false
		}
	}
	return true
}

func utterancesFor(tr *pipeline.Transcript, tag string) []*pipeline.Utterance {
	var out []*pipeline.Utterance
	for i := range tr.Utterances {
		if tr.Utterances[i].SpeakerTag == tag {
			out = append(out, &tr.Utterances[i])
		}
	}
	return out
}

func appendBounded(list [][]float32, v []float32, max int) [][]float32 {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

func appendBoundedStr(list []string, s string, max int) []string {
	list = append(list, s)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

func containsVector(list [][]float32, v []float32) bool {
	for _, e := range list {
		if equalVectors(e, v) {
			return true
		}
	}
	return false
}
