package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Compile-time assertion that HTTPDispatcher implements Dispatcher.
var _ Dispatcher = (*HTTPDispatcher)(nil)

// HTTPOption is a functional option for configuring an HTTPDispatcher.
type HTTPOption func(*HTTPDispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDispatcher) { d.httpClient = c }
}

// WithAuthToken sets a static Bearer token sent on every request.
func WithAuthToken(token string) HTTPOption {
	return func(d *HTTPDispatcher) { d.authToken = token }
}

// HTTPDispatcher implements Dispatcher against a JSON-over-HTTP endpoint
// (POST {baseURL}/v1/commands).
type HTTPDispatcher struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTP creates an HTTPDispatcher targeting baseURL. baseURL must be
// non-empty.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTPDispatcher, error) {
	if baseURL == "" {
		return nil, errors.New("dispatch: baseURL must not be empty")
	}
	d := &HTTPDispatcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dispatch implements [Dispatcher].
func (d *HTTPDispatcher) Dispatch(ctx context.Context, cmd Command) (*Receipt, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/commands", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("dispatch: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("dispatch: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("dispatch: dispatcher returned HTTP %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("dispatch: decode receipt: %w", err)
	}
	return &receipt, nil
}
