package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/oasis-home/earshot/pkg/provider/asr"
	asrmock "github.com/oasis-home/earshot/pkg/provider/asr/mock"
)

func TestASRFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	t.Parallel()
	primary := &asrmock.Provider{Result: &asr.Result{Language: "en"}}
	secondary := &asrmock.Provider{Result: &asr.Result{Language: "de"}}

	f := NewASRFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), nil, 16000, asr.Hints{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "en" {
		t.Errorf("served by %q result, want primary", res.Language)
	}
	if len(secondary.Calls) != 0 {
		t.Error("fallback was called while the primary was healthy")
	}
}

func TestASRFallbackFailsOver(t *testing.T) {
	t.Parallel()
	primary := &asrmock.Provider{Err: errBoom}
	secondary := &asrmock.Provider{Result: &asr.Result{Language: "de"}}

	f := NewASRFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), nil, 16000, asr.Hints{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "de" {
		t.Errorf("result language = %q, want fallback's", res.Language)
	}
}

func TestASRFallbackAllFailed(t *testing.T) {
	t.Parallel()
	f := NewASRFallback(&asrmock.Provider{Err: errBoom}, "primary", FallbackConfig{})
	f.AddFallback("secondary", &asrmock.Provider{Err: errBoom})

	_, err := f.Transcribe(context.Background(), nil, 16000, asr.Hints{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Transcribe error = %v, want ErrAllFailed", err)
	}
}
