// Package assemblyai provides an AssemblyAI-backed ASR provider with speaker
// diarization. It implements the asr.Provider interface.
//
// AssemblyAI is a batch API: audio is uploaded (POST /v2/upload), a transcript
// job is created (POST /v2/transcript with speaker_labels enabled), and the
// job is polled (GET /v2/transcript/{id}) until it reaches a terminal status.
// The poll interval is fixed; the overall ceiling is the caller's context
// deadline, so a hung job surfaces as context.DeadlineExceeded rather than
// blocking forever.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/asr"
)

const (
	defaultBaseURL      = "https://api.assemblyai.com"
	defaultPollInterval = 3 * time.Second

	// perSecondRate approximates AssemblyAI's published per-second price,
	// used for the transcript cost estimate.
	perSecondRate = 0.00025
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint, mainly for tests against a local
// stub server.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithPollInterval sets the fixed interval between job status polls.
// Defaults to 3 s.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) { p.pollInterval = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements asr.Provider backed by the AssemblyAI batch API.
type Provider struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New creates an AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [asr.Provider]: upload, create job, poll to terminal.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, hints asr.Hints) (*asr.Result, error) {
	audioURL, err := p.upload(ctx, audio.EncodeWAV(pcm, sampleRate))
	if err != nil {
		return nil, fmt.Errorf("assemblyai: upload: %w", err)
	}

	jobID, err := p.createJob(ctx, audioURL, hints)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: create transcript: %w", err)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("assemblyai: poll transcript %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		job, err := p.getJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("assemblyai: poll transcript %s: %w", jobID, err)
		}
		switch job.Status {
		case "completed":
			return job.toResult(), nil
		case "error":
			return nil, fmt.Errorf("assemblyai: transcript %s failed: %s", jobID, job.Error)
		default:
			// queued / processing — keep polling.
		}
	}
}

// upload POSTs raw audio bytes and returns the temporary upload URL.
func (p *Provider) upload(ctx context.Context, wav []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/upload", bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := p.do(req, &resp); err != nil {
		return "", err
	}
	if resp.UploadURL == "" {
		return "", errors.New("empty upload_url in response")
	}
	return resp.UploadURL, nil
}

// createJob submits a transcription job with diarization enabled.
func (p *Provider) createJob(ctx context.Context, audioURL string, hints asr.Hints) (string, error) {
	body := map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": true,
	}
	if hints.MaxSpeakers > 0 {
		body["speakers_expected"] = hints.MaxSpeakers
	}
	if hints.Language != "" {
		body["language_code"] = hints.Language
	} else {
		body["language_detection"] = true
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var resp transcriptJob
	if err := p.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("empty transcript id in response")
	}
	return resp.ID, nil
}

// getJob fetches the current job state.
func (p *Provider) getJob(ctx context.Context, id string) (*transcriptJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	var job transcriptJob
	if err := p.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// do executes the request and decodes a JSON body, converting non-2xx
// responses into errors.
func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "…"
	}
	return string(b)
}

// transcriptJob mirrors the subset of the AssemblyAI transcript resource this
// provider consumes.
type transcriptJob struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Error        string  `json:"error"`
	LanguageCode string  `json:"language_code"`
	AudioDur     float64 `json:"audio_duration"`
	Utterances   []struct {
		Speaker    string  `json:"speaker"`
		Text       string  `json:"text"`
		Start      int64   `json:"start"` // milliseconds
		End        int64   `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"utterances"`
}

// toResult converts a completed job into the provider-neutral result shape.
// AssemblyAI labels speakers "A", "B", …; they are rewritten to the
// "SPEAKER_NN" convention used across the pipeline.
func (j *transcriptJob) toResult() *asr.Result {
	res := &asr.Result{
		Language: j.LanguageCode,
		Cost:     j.AudioDur * perSecondRate,
	}
	labels := make(map[string]string)
	for _, u := range j.Utterances {
		tag, ok := labels[u.Speaker]
		if !ok {
			tag = fmt.Sprintf("SPEAKER_%02d", len(labels))
			labels[u.Speaker] = tag
		}
		res.Utterances = append(res.Utterances, asr.Utterance{
			Speaker:    tag,
			Text:       u.Text,
			Start:      time.Duration(u.Start) * time.Millisecond,
			End:        time.Duration(u.End) * time.Millisecond,
			Confidence: u.Confidence,
		})
	}
	return res
}
