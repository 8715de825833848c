package config

import (
	"errors"
	"testing"

	"github.com/oasis-home/earshot/pkg/provider/asr"
	asrmock "github.com/oasis-home/earshot/pkg/provider/asr/mock"
	"github.com/oasis-home/earshot/pkg/provider/vad"
	vadmock "github.com/oasis-home/earshot/pkg/provider/vad/mock"
)

func TestRegistryCreateASR(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterASR("mock", func(entry ProviderEntry) (asr.Provider, error) {
		if entry.APIKey != "k" {
			t.Errorf("entry.APIKey = %q", entry.APIKey)
		}
		return &asrmock.Provider{}, nil
	})

	p, err := r.CreateASR(ProviderEntry{Name: "mock", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateASR() = %v", err)
	}
	if p == nil {
		t.Fatal("CreateASR() returned nil provider")
	}
}

func TestRegistryUnregisteredProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.CreateASR(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateASR() = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateVoiceprint(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateVoiceprint() = %v, want ErrProviderNotRegistered", err)
	}
	_, err = r.CreateDispatch(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateDispatch() = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterVAD("energy", func(ProviderEntry) (vad.Engine, error) {
		return nil, errors.New("first")
	})
	r.RegisterVAD("energy", func(ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})

	e, err := r.CreateVAD(ProviderEntry{Name: "energy"})
	if err != nil {
		t.Fatalf("CreateVAD() = %v", err)
	}
	if e == nil {
		t.Fatal("CreateVAD() returned nil engine")
	}
}
