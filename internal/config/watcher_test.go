package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
server:
  log_level: info
providers:
  asr:
    name: assemblyai
`

const watcherYAMLv2 = `
server:
  log_level: debug
providers:
  asr:
    name: assemblyai
`

const watcherYAMLBroken = `
server:
  log_level: shouting
providers:
  asr:
    name: assemblyai
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Nudge mtime forward; coarse filesystem clocks can otherwise hide
	// consecutive writes from the mtime check.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("log level = %q, want info", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeConfig(t, path, watcherYAMLBroken)

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeConfig(t, path, watcherYAMLv1)

	var (
		mu     sync.Mutex
		gotOld *Config
		gotNew *Config
	)
	changed := make(chan struct{})
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		close(changed)
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherYAMLv2)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Server.LogLevel != LogInfo || gotNew.Server.LogLevel != LogDebug {
		t.Errorf("onChange(%q -> %q), want info -> debug",
			gotOld.Server.LogLevel, gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Errorf("Current() log level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcherKeepsOldConfigOnInvalidUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, func(_, _ *Config) {
		t.Error("onChange called for invalid config")
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherYAMLBroken)
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("log level = %q, want info (old config retained)", got)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	w.Stop()
	w.Stop()
}
