package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/platformbuilds/authz-core/internal/utils/fswatcher"
	"github.com/platformbuilds/authz-core/pkg/logger"
)

// Watcher reloads the configuration file on change and notifies registered
// callbacks with the fresh snapshot. Only hot-reloadable settings (cache
// TTLs, warm-up tuning, check timeouts) should be consumed through it;
// connection settings require a restart.
type Watcher struct {
	configPath string
	logger     logger.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
	stopCh    chan struct{}
}

// NewWatcher builds a watcher over the given config file.
func NewWatcher(configPath string, initial *Config, log logger.Logger) *Watcher {
	return &Watcher{
		configPath: configPath,
		current:    initial,
		logger:     log,
		stopCh:     make(chan struct{}),
	}
}

// Start begins watching for configuration file changes. Blocks until ctx is
// cancelled or Stop is called; run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fswatcher.New()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	w.logger.Info("configuration watcher started", "configPath", w.configPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fswatcher.Write) {
				continue
			}
			w.logger.Info("configuration file changed, reloading", "file", event.Name)

			cfg, err := Load()
			if err != nil {
				w.logger.Error("failed to reload configuration, keeping previous", "error", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			callbacks := append([]func(*Config){}, w.callbacks...)
			w.mu.Unlock()

			for _, cb := range callbacks {
				cb(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("configuration watcher error", "error", err)

		case <-ctx.Done():
			return nil

		case <-w.stopCh:
			return nil
		}
	}
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() { close(w.stopCh) }

// OnChange registers a callback invoked with every successfully reloaded
// configuration.
func (w *Watcher) OnChange(cb func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the latest configuration snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
