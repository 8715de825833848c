package ecapa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed" {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		// Sanity-check the WAV header of the upload.
		head := make([]byte, 4)
		if _, err := file.Read(head); err != nil || string(head) != "RIFF" {
			http.Error(w, "not a wav upload", http.StatusBadRequest)
			return
		}

		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = float32(i)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 192)
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 192 {
		t.Fatalf("embedding length = %d, want 192", len(vec))
	}
	if vec[5] != 5 {
		t.Errorf("embedding[5] = %v, want 5", vec[5])
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embedServer(t, 64)
	defer srv.Close()

	p, err := New(srv.URL) // expects 192
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), make([]byte, 3200), 16000); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), make([]byte, 3200), 16000); err == nil {
		t.Error("expected error for HTTP 503")
	}
}

func TestNewDefaults(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}

	p, err := New("http://localhost:8602", WithDimensions(256), WithModelID("custom"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Dimensions() != 256 {
		t.Errorf("Dimensions() = %d, want 256", p.Dimensions())
	}
	if p.ModelID() != "custom" {
		t.Errorf("ModelID() = %q, want custom", p.ModelID())
	}
}
