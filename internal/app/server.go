package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oasis-home/earshot/internal/health"
	"github.com/oasis-home/earshot/internal/observe"
	"github.com/oasis-home/earshot/pkg/audio"
)

// maxUploadBytes bounds WAV uploads on the ingest and enrollment endpoints.
// 16 kHz 16-bit mono runs ~1.9 MiB per minute; this allows roughly half an
// hour of audio.
const maxUploadBytes = 64 << 20

// maxEnrollClipBytes bounds a single enrollment clip.
const maxEnrollClipBytes = 8 << 20

// newServer builds the HTTP server: health and metrics endpoints plus the
// operator API for ingest, enrollment, and candidate promotion.
func (a *App) newServer() (*http.Server, error) {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()

	checkers := []health.Checker{
		health.BacklogChecker(a.tracker, 4*segmentQueueDepth),
	}
	if pinger, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("profile-store", pinger))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/transcripts", a.handleListTranscripts)
	mux.HandleFunc("GET /v1/segments", a.handleListSegments)
	mux.HandleFunc("POST /v1/ingest", a.handleIngest)
	mux.HandleFunc("GET /v1/speakers", a.handleListSpeakers)
	mux.HandleFunc("POST /v1/speakers/{name}/enroll", a.handleEnroll)
	mux.HandleFunc("GET /v1/candidates", a.handleListCandidates)
	mux.HandleFunc("POST /v1/candidates/{id}/promote", a.handlePromote)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// handleListTranscripts serves transcripts that have cleared the export gate.
func (a *App) handleListTranscripts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.exporter.exported())
}

// handleListSegments reports the pipeline status of every in-flight segment.
func (a *App) handleListSegments(w http.ResponseWriter, _ *http.Request) {
	type segmentStatus struct {
		SegmentID string    `json:"segmentId"`
		Status    string    `json:"status"`
		EnteredAt time.Time `json:"enteredAt"`
		Retries   int       `json:"retries,omitempty"`
	}
	entries := a.tracker.Entries()
	out := make([]segmentStatus, len(entries))
	for i, e := range entries {
		out[i] = segmentStatus{
			SegmentID: e.SegmentID,
			Status:    string(e.Status),
			EnteredAt: e.EnteredAt,
			Retries:   e.Retries,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleIngest accepts a WAV recording and injects it into the pipeline as a
// single segment, the batch-upload counterpart of live capture.
func (a *App) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(data) > maxUploadBytes {
		httpError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes))
		return
	}

	sampleRate, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode wav: %w", err))
		return
	}

	end := time.Now()
	start := end.Add(-time.Duration(audio.PCMDuration(pcm, sampleRate)) * time.Millisecond)
	seg := audio.NewSegment(start, end, sampleRate, pcm)

	a.enqueue(r.Context(), seg)
	a.logger.Info("segment ingested via http", "segment", seg.ID, "duration", seg.Duration())

	writeJSON(w, http.StatusAccepted, map[string]string{"segmentId": seg.ID})
}

// handleListSpeakers lists enrolled profiles without their embeddings.
func (a *App) handleListSpeakers(w http.ResponseWriter, r *http.Request) {
	profiles, err := a.store.ListProfiles(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	type speaker struct {
		Name             string    `json:"name"`
		Threshold        float64   `json:"threshold"`
		SelfConsistency  float64   `json:"selfConsistency"`
		EnrollmentMethod string    `json:"enrollmentMethod"`
		Embeddings       int       `json:"embeddings"`
		UpdatedAt        time.Time `json:"updatedAt"`
	}
	out := make([]speaker, len(profiles))
	for i, p := range profiles {
		out[i] = speaker{
			Name:             p.Name,
			Threshold:        p.Threshold,
			SelfConsistency:  p.SelfConsistency,
			EnrollmentMethod: p.EnrollmentMethod,
			Embeddings:       len(p.Embeddings),
			UpdatedAt:        p.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEnroll enrolls (or re-enrolls) a speaker from a WAV clip.
func (a *App) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if a.engine == nil {
		httpError(w, http.StatusServiceUnavailable, fmt.Errorf("speaker identification is disabled"))
		return
	}
	name := r.PathValue("name")
	if name == "" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("speaker name is required"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxEnrollClipBytes+1))
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(data) > maxEnrollClipBytes {
		httpError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("clip exceeds %d bytes", maxEnrollClipBytes))
		return
	}
	sampleRate, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode wav: %w", err))
		return
	}

	profile, err := a.engine.Enroll(r.Context(), name, [][]byte{pcm}, sampleRate)
	if err != nil {
		httpError(w, http.StatusBadGateway, fmt.Errorf("enroll: %w", err))
		return
	}
	// The profile set grew; unresolved transcripts may match it now.
	go a.reidentify(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       profile.Name,
		"threshold":  profile.Threshold,
		"embeddings": len(profile.Embeddings),
	})
}

// handleListCandidates lists unknown-speaker clusters and whether each is
// promotion-eligible.
func (a *App) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := a.store.ListCandidates(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	type candidate struct {
		ClusterID       string    `json:"clusterId"`
		SampleCount     int       `json:"sampleCount"`
		Variance        float64   `json:"variance"`
		SelfConsistency float64   `json:"selfConsistency"`
		TranscriptRefs  []string  `json:"transcriptRefs,omitempty"`
		FirstSeenAt     time.Time `json:"firstSeenAt"`
		LastSeenAt      time.Time `json:"lastSeenAt"`
	}
	out := make([]candidate, len(candidates))
	for i, c := range candidates {
		out[i] = candidate{
			ClusterID:       c.ClusterID,
			SampleCount:     c.SampleCount,
			Variance:        c.Variance,
			SelfConsistency: c.SelfConsistency,
			TranscriptRefs:  c.SampleTranscriptRefs,
			FirstSeenAt:     c.CreatedAt,
			LastSeenAt:      c.LastSeenAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePromote names an unknown-speaker cluster, converting it into an
// enrolled profile.
func (a *App) handlePromote(w http.ResponseWriter, r *http.Request) {
	if a.engine == nil {
		httpError(w, http.StatusServiceUnavailable, fmt.Errorf("speaker identification is disabled"))
		return
	}
	clusterID := r.PathValue("id")
	name := r.URL.Query().Get("name")
	if name == "" {
		httpError(w, http.StatusBadRequest, fmt.Errorf("query parameter 'name' is required"))
		return
	}

	profile, err := a.engine.PromoteCandidate(r.Context(), clusterID, name)
	if err != nil {
		httpError(w, http.StatusConflict, fmt.Errorf("promote %q: %w", clusterID, err))
		return
	}
	go a.reidentify(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       profile.Name,
		"threshold":  profile.Threshold,
		"embeddings": len(profile.Embeddings),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
