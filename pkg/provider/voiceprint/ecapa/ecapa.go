// Package ecapa provides a voiceprint provider backed by a self-hosted
// ECAPA-TDNN embedding server (a SpeechBrain-style model exposed over HTTP at
// POST /embed). It implements the voiceprint.Provider interface.
//
// The server accepts a WAV upload and returns {"embedding": [...]} with a
// 192-dimensional vector.
package ecapa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/oasis-home/earshot/pkg/audio"
	"github.com/oasis-home/earshot/pkg/provider/voiceprint"
)

const (
	defaultDimensions = 192
	defaultModelID    = "ecapa-tdnn"
)

// Compile-time assertion that Provider implements voiceprint.Provider.
var _ voiceprint.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithDimensions overrides the expected vector length. Defaults to 192.
func WithDimensions(d int) Option {
	return func(p *Provider) { p.dimensions = d }
}

// WithModelID sets the model identifier reported by ModelID.
func WithModelID(id string) Option {
	return func(p *Provider) { p.modelID = id }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements voiceprint.Provider against an embedding server.
type Provider struct {
	serverURL  string
	dimensions int
	modelID    string
	httpClient *http.Client
}

// New creates a Provider that connects to the embedding server at serverURL
// (e.g., "http://localhost:8602"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("ecapa: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		dimensions: defaultDimensions,
		modelID:    defaultModelID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Embed implements [voiceprint.Provider]. It uploads the clip as WAV and
// parses the embedding from the JSON response.
func (p *Provider) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	wav := audio.EncodeWAV(pcm, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, fmt.Errorf("ecapa: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("ecapa: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("ecapa: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/embed", &body)
	if err != nil {
		return nil, fmt.Errorf("ecapa: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ecapa: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ecapa: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ecapa: read response body: %w", err)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("ecapa: parse JSON response: %w", err)
	}
	if len(result.Embedding) != p.dimensions {
		return nil, fmt.Errorf("ecapa: got %d-dimensional embedding, want %d", len(result.Embedding), p.dimensions)
	}
	return result.Embedding, nil
}

// Dimensions implements [voiceprint.Provider].
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements [voiceprint.Provider].
func (p *Provider) ModelID() string { return p.modelID }
