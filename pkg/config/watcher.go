// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

func splitBase(path string) (string, string) {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext), ext
}

// fingerprint identifies one observed state of a watched file. Size is
// included so rewrites within the modtime granularity still register.
type fingerprint struct {
	modTime time.Time
	size    int64
	exists  bool
}

func fingerprintOf(path string) fingerprint {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}
	}
	return fingerprint{modTime: info.ModTime(), size: info.Size(), exists: true}
}

// Watcher polls the config file (and its active profile overlay) and
// reloads on change. Listeners receive the new config; a reload that
// fails to parse keeps the previous config and is only logged.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	profile   string
	interval  time.Duration
	seen      map[string]fingerprint
	config    *Config
	listeners []func(*Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchProfile selects the profile overlay to load and watch.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) {
		w.profile = profile
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher loads the config at path and prepares change monitoring.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 1 * time.Second,
		seen:     make(map[string]fingerprint),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := LoadWithProfile(w.path, w.profile)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	for _, path := range w.watchedPaths() {
		w.seen[path] = fingerprintOf(path)
	}
	return w, nil
}

// watchedPaths is the base file plus the profile overlay. The overlay
// is tracked even while absent so creating it later triggers a reload.
func (w *Watcher) watchedPaths() []string {
	if w.path == "" {
		return nil
	}
	paths := []string{w.path}
	if w.profile != "" {
		base, ext := splitBase(w.path)
		paths = append(paths, base+"."+w.profile+ext)
	}
	return paths
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching for configuration changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload(ctx)
			}
		}
	}
}

func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.watchedPaths() {
		current := fingerprintOf(path)
		if current != w.seen[path] {
			w.seen[path] = current
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadWithProfile(w.path, w.profile)
	if err != nil {
		w.logger.ErrorContext(ctx, "config reload failed, keeping previous", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "config reloaded", "path", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchConfig loads the config at path, starts watching it, and returns
// the watcher with the initial config.
func WatchConfig(ctx context.Context, path string, opts ...WatcherOption) (*Watcher, *Config, error) {
	watcher, err := NewWatcher(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	watcher.Start(ctx)
	return watcher, watcher.Config(), nil
}
