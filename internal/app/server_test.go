package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oasis-home/earshot/pkg/audio"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestApp(t, nil)
	srv, err := env.app.newServer()
	if err != nil {
		t.Fatalf("newServer() = %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return env, ts
}

func TestServerHealthEndpoints(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", resp.StatusCode)
	}
}

func TestServerIngest(t *testing.T) {
	t.Parallel()

	env, ts := newTestServer(t)

	wav := audio.EncodeWAV(block(6000, 2*time.Second), 16000)
	resp, err := http.Post(ts.URL+"/v1/ingest", "audio/wav", bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("POST /v1/ingest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/ingest = %d, want 202", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id := body["segmentId"]
	if id == "" {
		t.Fatal("response missing segmentId")
	}
	if _, ok := env.app.tracker.Entry(id); !ok {
		t.Error("ingested segment not tracked")
	}

	// The segment should now appear in the status listing.
	listResp, err := http.Get(ts.URL + "/v1/segments")
	if err != nil {
		t.Fatalf("GET /v1/segments: %v", err)
	}
	defer listResp.Body.Close()
	var segments []struct {
		SegmentID string `json:"segmentId"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&segments); err != nil {
		t.Fatalf("decode segments: %v", err)
	}
	if len(segments) != 1 || segments[0].SegmentID != id || segments[0].Status != "recorded" {
		t.Errorf("segments = %+v, want one recorded entry for %s", segments, id)
	}
}

func TestServerIngestRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/ingest", "audio/wav", bytes.NewReader([]byte("not a wav")))
	if err != nil {
		t.Fatalf("POST /v1/ingest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /v1/ingest = %d, want 400", resp.StatusCode)
	}
}

func TestServerEnrollAndListSpeakers(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	wav := audio.EncodeWAV(block(5000, 2*time.Second), 16000)
	resp, err := http.Post(ts.URL+"/v1/speakers/ada/enroll", "audio/wav", bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("POST enroll: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST enroll = %d, want 200", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/v1/speakers")
	if err != nil {
		t.Fatalf("GET /v1/speakers: %v", err)
	}
	defer listResp.Body.Close()
	var speakers []struct {
		Name       string  `json:"name"`
		Threshold  float64 `json:"threshold"`
		Embeddings int     `json:"embeddings"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&speakers); err != nil {
		t.Fatalf("decode speakers: %v", err)
	}
	if len(speakers) != 1 || speakers[0].Name != "ada" || speakers[0].Embeddings != 1 {
		t.Errorf("speakers = %+v, want ada with one embedding", speakers)
	}
	if th := speakers[0].Threshold; th < 0.20 || th > 0.50 {
		t.Errorf("threshold = %.3f, want within [0.20, 0.50]", th)
	}
}

func TestServerPromoteRequiresName(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/candidates/cand-1/promote", "application/json", nil)
	if err != nil {
		t.Fatalf("POST promote: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST promote = %d, want 400", resp.StatusCode)
	}
}

func TestServerPromoteUnknownCandidate(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/candidates/cand-missing/promote?name=ada", "application/json", nil)
	if err != nil {
		t.Fatalf("POST promote: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("POST promote = %d, want 409", resp.StatusCode)
	}
}

func TestServerTranscriptsEmpty(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/transcripts")
	if err != nil {
		t.Fatalf("GET /v1/transcripts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /v1/transcripts = %d, want 200", resp.StatusCode)
	}
}
