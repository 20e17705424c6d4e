package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadCallback is invoked after a new configuration has been loaded and
// judged safe to apply. Returning an error keeps the previous configuration.
type ReloadCallback func(old, new *Config) error

// ConfigReloader watches the config file and SIGHUP and re-applies the
// settings that can change at runtime (log level and rate limits).
type ConfigReloader struct {
	path     string
	logger   *logrus.Logger
	watcher  *fsnotify.Watcher
	signals  chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *Config
	onReload ReloadCallback
}

// NewConfigReloader creates a reloader. With an empty path only SIGHUP
// triggers a reload.
func NewConfigReloader(path string, cfg *Config, logger *logrus.Logger) (*ConfigReloader, error) {
	r := &ConfigReloader{
		path:    path,
		logger:  logger,
		signals: make(chan os.Signal, 1),
		stopCh:  make(chan struct{}),
		current: cfg,
	}

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		// Watch the directory so atomic renames by editors are seen.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch config directory: %w", err)
		}
		r.watcher = watcher
	}

	signal.Notify(r.signals, syscall.SIGHUP)
	return r, nil
}

// SetOnReloadCallback registers the function applying a reloaded config.
func (r *ConfigReloader) SetOnReloadCallback(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = cb
}

// GetCurrentConfig returns a copy of the active configuration.
func (r *ConfigReloader) GetCurrentConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := *r.current
	cp.CORS.AllowedOrigins = append([]string(nil), r.current.CORS.AllowedOrigins...)
	return &cp
}

// Start blocks, processing file events and signals until Stop is called.
func (r *ConfigReloader) Start() {
	var events chan fsnotify.Event
	var errs chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errs = r.watcher.Errors
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.signals:
			r.logger.Info("Received SIGHUP, reloading configuration")
			r.reload()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.WithField("file", ev.Name).Debug("Config file changed, reloading")
			r.reload()
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

// Stop terminates the reloader and releases the watcher.
func (r *ConfigReloader) Stop() {
	r.stopOnce.Do(func() {
		signal.Stop(r.signals)
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

func (r *ConfigReloader) reload() {
	if r.path == "" {
		r.logger.Warn("No config file configured, nothing to reload")
		return
	}

	next, err := LoadConfig(r.path)
	if err != nil {
		r.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current
	if err := r.validateReloadSafety(old, next); err != nil {
		r.logger.WithError(err).Error("Rejected configuration reload")
		return
	}
	if r.onReload != nil {
		if err := r.onReload(old, next); err != nil {
			r.logger.WithError(err).Error("Failed to apply reloaded configuration")
			return
		}
	}
	r.current = next
	r.logger.Info("Configuration reloaded")
}

// validateReloadSafety rejects changes to settings that would invalidate
// stored data or live sessions.
func (r *ConfigReloader) validateReloadSafety(old, next *Config) error {
	if old.Security.EncryptionSecret != next.Security.EncryptionSecret {
		return fmt.Errorf("security.encryption_secret cannot be changed during hot reload")
	}
	if old.Security.CipherAlgorithm != next.Security.CipherAlgorithm {
		return fmt.Errorf("security.cipher_algorithm cannot be changed during hot reload")
	}
	if old.Security.JWTSecret != next.Security.JWTSecret {
		return fmt.Errorf("security.jwt_secret cannot be changed during hot reload")
	}
	if old.Database.Driver != next.Database.Driver {
		return fmt.Errorf("database.driver cannot be changed during hot reload")
	}
	if old.Database.DSN != next.Database.DSN {
		return fmt.Errorf("database.dsn cannot be changed during hot reload")
	}
	if old.TLS != next.TLS {
		return fmt.Errorf("tls cannot be changed during hot reload")
	}
	return nil
}
