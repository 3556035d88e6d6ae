package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigManager provides thread-safe, read-only configuration management.
// Configuration files are never modified by the application; all updates come
// from external sources such as ConfigMaps or volume mounts.
//
// Readers always see a whole configuration value: reloads swap the pointer
// under a write lock and invalid updates leave the last good config active.
//
//nolint:revive // ConfigManager reads better than Manager at call sites
type ConfigManager interface {
	// GetConfig safely retrieves the current configuration
	GetConfig() *Config

	// ReloadConfig reads the latest configuration from disk and applies it if valid.
	ReloadConfig() error

	// WatchConfig observes the configuration file for external changes.
	// Blocks until context is cancelled.
	WatchConfig(ctx context.Context) error

	// Close releases the file watcher resources
	Close() error
}

// Validator allows custom validation beyond Config.Validate
type Validator interface {
	Validate(config *Config) error
}

// Loader reads a configuration document from a path
type Loader interface {
	Load(path string) (*Config, error)
}

type defaultValidator struct{}

func (*defaultValidator) Validate(config *Config) error {
	return config.Validate()
}

type fileLoader struct{}

func (*fileLoader) Load(path string) (*Config, error) {
	return LoadConfig(WithConfigPath(path))
}

type configManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	loader     Loader
	validator  Validator
	watcher    *fsnotify.Watcher
	watcherMu  sync.Mutex
	onReload   []func(*Config)
}

// ConfigManagerOption allows customizing ConfigManager behavior
//
//nolint:revive // matches ConfigManager
type ConfigManagerOption func(*configManager)

// WithValidator sets a custom validator for the config manager
func WithValidator(validator Validator) ConfigManagerOption {
	return func(cm *configManager) {
		cm.validator = validator
	}
}

// WithLoader sets a custom config loader for the config manager
func WithLoader(loader Loader) ConfigManagerOption {
	return func(cm *configManager) {
		cm.loader = loader
	}
}

// WithReloadHook registers a callback invoked after every successful reload
func WithReloadHook(fn func(*Config)) ConfigManagerOption {
	return func(cm *configManager) {
		cm.onReload = append(cm.onReload, fn)
	}
}

// NewConfigManager creates a new ConfigManager with the given configuration file path.
// It loads and validates the initial configuration.
func NewConfigManager(configPath string, opts ...ConfigManagerOption) (ConfigManager, error) {
	cm := &configManager{
		configPath: configPath,
		loader:     &fileLoader{},
		validator:  &defaultValidator{},
	}

	for _, opt := range opts {
		opt(cm)
	}

	if err := cm.ReloadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return cm, nil
}

// NewStaticConfigManager wraps an already loaded configuration that never changes
func NewStaticConfigManager(cfg *Config) ConfigManager {
	return &configManager{config: cfg}
}

// GetConfig safely retrieves the current configuration
func (cm *configManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Shallow copy; Config values are replaced, never modified in place
	configCopy := *cm.config
	return &configCopy
}

// ReloadConfig reads the configuration file and applies it if valid.
// If the new configuration is invalid, the previous configuration remains active.
func (cm *configManager) ReloadConfig() error {
	if cm.loader == nil {
		return nil
	}

	newConfig, err := cm.loader.Load(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cm.validator.Validate(newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.mu.Lock()
	cm.config = newConfig
	cm.mu.Unlock()

	for _, fn := range cm.onReload {
		fn(newConfig)
	}

	slog.Info("Configuration reloaded", "path", cm.configPath)
	return nil
}

// WatchConfig observes the configuration file for external changes.
// This method blocks until the context is cancelled.
func (cm *configManager) WatchConfig(ctx context.Context) error {
	if cm.configPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	cm.watcherMu.Lock()
	if cm.watcher != nil {
		cm.watcherMu.Unlock()
		return fmt.Errorf("config watcher is already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cm.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	cm.watcher = watcher
	cm.watcherMu.Unlock()

	if err := watcher.Add(cm.configPath); err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", cm.configPath, err)
	}

	slog.Info("Started watching configuration file", "path", cm.configPath)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping config file watcher due to context cancellation")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				slog.Info("External config update detected, reloading", "path", cm.configPath)

				if err := cm.ReloadConfig(); err != nil {
					// previous config remains active
					slog.Error("Failed to reload config", "error", err)
				}
			}

			// ConfigMap updates swap symlinks, which removes the watched inode
			if event.Has(fsnotify.Remove) {
				slog.Debug("Config file removed, re-watching", "path", cm.configPath)
				_ = watcher.Add(cm.configPath)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// Close releases the file watcher if active
func (cm *configManager) Close() error {
	cm.watcherMu.Lock()
	defer cm.watcherMu.Unlock()

	if cm.watcher != nil {
		if err := cm.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
		cm.watcher = nil
		slog.Info("Config watcher closed")
	}

	return nil
}
