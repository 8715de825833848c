package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDispatch(t *testing.T) {
	var gotAuth string
	var gotCmd Command
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/commands" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotCmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Receipt{Accepted: true, Response: "lights on"})
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.URL, WithAuthToken("secret"))
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}

	cmd := Command{
		Speaker:     "ada",
		Text:        "turn on the lights",
		Timestamp:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SourceAgent: "home-assistant",
	}
	receipt, err := d.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !receipt.Accepted {
		t.Error("receipt not accepted")
	}
	if receipt.Response != "lights on" {
		t.Errorf("response = %q", receipt.Response)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q, want Bearer token", gotAuth)
	}
	if gotCmd.Speaker != "ada" || gotCmd.SourceAgent != "home-assistant" {
		t.Errorf("command payload = %+v", gotCmd)
	}
}

func TestHTTPDispatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if _, err := d.Dispatch(context.Background(), Command{Speaker: "ada"}); err == nil {
		t.Error("expected error for HTTP 502")
	}
}

func TestNewHTTPRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTP(""); err == nil {
		t.Error("expected error for empty base URL")
	}
}
