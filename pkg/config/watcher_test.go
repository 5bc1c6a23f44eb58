// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initial := `skills:
  dir: skills-v1
`
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	// Track changes
	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		changes <- cfg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.Start(ctx)
	defer watcher.Stop()

	cfg := watcher.Config()
	if cfg.Skills.Dir != "skills-v1" {
		t.Errorf("expected skills dir 'skills-v1', got %q", cfg.Skills.Dir)
	}

	// Wait a bit to ensure watcher is running
	time.Sleep(100 * time.Millisecond)

	updated := `skills:
  dir: skills-v2
`
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to write updated config: %v", err)
	}

	select {
	case newCfg := <-changes:
		if newCfg.Skills.Dir != "skills-v2" {
			t.Errorf("expected skills dir 'skills-v2', got %q", newCfg.Skills.Dir)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timeout waiting for config change notification")
	}
}

func TestWatcherMultipleListeners(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initial := `log:
  level: info
`
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	// Multiple listeners
	count1 := 0
	count2 := 0
	watcher.OnChange(func(*Config) { count1++ })
	watcher.OnChange(func(*Config) { count2++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.Start(ctx)
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configPath, []byte(`log:
  level: debug
`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both listeners called once, got count1=%d, count2=%d", count1, count2)
	}
}

func TestWatcherKeepsConfigOnBrokenReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(`log:
  level: info
`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	notified := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { notified <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	// Invalid retry config fails validation during reload.
	if err := os.WriteFile(configPath, []byte(`retry:
  backoff: cubic
`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	select {
	case <-notified:
		t.Error("listeners must not fire for a failed reload")
	case <-time.After(300 * time.Millisecond):
	}
	if watcher.Config().Log.Level != "info" {
		t.Errorf("expected previous config kept, got %+v", watcher.Config())
	}
}

func TestWatcherStops(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(`log: {}`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx := context.Background()
	watcher.Start(ctx)

	// Stop should complete quickly
	done := make(chan struct{})
	go func() {
		watcher.Stop()
		close(done)
	}()

	select {
	case <-done:
		// Good
	case <-time.After(1 * time.Second):
		t.Error("watcher.Stop() did not complete in time")
	}
}

func TestWatchConfigWithProfile(t *testing.T) {
	tmpDir := t.TempDir()

	basePath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(basePath, []byte(`log:
  level: info
`), 0644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, cfg, err := WatchConfig(ctx, basePath,
		WithWatchInterval(50*time.Millisecond),
		WithWatchProfile("dev"))
	if err != nil {
		t.Fatalf("failed to watch config: %v", err)
	}
	defer watcher.Stop()

	// No overlay file yet, base config applies.
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(next *Config) { changes <- next })

	time.Sleep(100 * time.Millisecond)

	// Creating the profile overlay counts as a change.
	devPath := filepath.Join(tmpDir, "config.dev.yaml")
	if err := os.WriteFile(devPath, []byte(`log:
  level: debug
`), 0644); err != nil {
		t.Fatalf("failed to write dev config: %v", err)
	}

	select {
	case next := <-changes:
		if next.Log.Level != "debug" {
			t.Errorf("expected overlay level 'debug', got %q", next.Log.Level)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timeout waiting for overlay reload")
	}
}
