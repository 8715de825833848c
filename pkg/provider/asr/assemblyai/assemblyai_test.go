package assemblyai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oasis-home/earshot/pkg/provider/asr"
)

// newStubServer simulates the AssemblyAI batch flow: upload, job creation,
// then polls that return "processing" pollsUntilDone times before the final
// payload.
func newStubServer(t *testing.T, pollsUntilDone int32, final string) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/upload/abc"})
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["speaker_labels"] != true {
			t.Error("speaker_labels must be enabled on job creation")
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("GET /v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) <= pollsUntilDone {
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
			return
		}
		w.Write([]byte(final))
	})
	return httptest.NewServer(mux)
}

func TestTranscribe(t *testing.T) {
	final := `{
		"id": "job-1",
		"status": "completed",
		"language_code": "en",
		"audio_duration": 12.0,
		"utterances": [
			{"speaker": "A", "text": "Morning.", "start": 100, "end": 900, "confidence": 0.97},
			{"speaker": "B", "text": "Morning to you.", "start": 1200, "end": 2400, "confidence": 0.91},
			{"speaker": "A", "text": "Coffee is ready.", "start": 3000, "end": 4100, "confidence": 0.95}
		]
	}`
	srv := newStubServer(t, 2, final)
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), make([]byte, 3200), 16000, asr.Hints{Language: "en", MaxSpeakers: 4})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Language != "en" {
		t.Errorf("language: want en, got %q", res.Language)
	}
	if res.Cost <= 0 {
		t.Errorf("expected positive cost estimate, got %v", res.Cost)
	}
	if len(res.Utterances) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(res.Utterances))
	}

	// Letter labels are rewritten to SPEAKER_NN, stable per letter.
	if got := res.Utterances[0].Speaker; got != "SPEAKER_00" {
		t.Errorf("utterance 0 speaker: %q", got)
	}
	if got := res.Utterances[1].Speaker; got != "SPEAKER_01" {
		t.Errorf("utterance 1 speaker: %q", got)
	}
	if got := res.Utterances[2].Speaker; got != "SPEAKER_00" {
		t.Errorf("utterance 2 speaker: %q", got)
	}
	if got := res.Utterances[1].Start; got != 1200*time.Millisecond {
		t.Errorf("utterance 1 start: %v", got)
	}
}

func TestTranscribeJobError(t *testing.T) {
	srv := newStubServer(t, 0, `{"id":"job-1","status":"error","error":"audio too noisy"}`)
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), make([]byte, 3200), 16000, asr.Hints{})
	if err == nil || !strings.Contains(err.Error(), "audio too noisy") {
		t.Errorf("expected job error, got %v", err)
	}
}

func TestTranscribeRespectsContextDeadline(t *testing.T) {
	// Job never completes; the caller's deadline is the poll ceiling.
	srv := newStubServer(t, 1<<30, "")
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL), WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Transcribe(ctx, make([]byte, 3200), 16000, asr.Hints{})
	if err == nil || ctx.Err() == nil {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
