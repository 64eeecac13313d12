package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the freshly loaded configuration after
// the config file changes on disk.
type ChangeHandler func(cfg *Config)

// Manager holds the live configuration and hot-reloads it when the
// backing file changes. Reload failures keep the previous configuration
// in place.
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	cfg      *Config
	handlers []ChangeHandler
}

// NewManager loads the configuration and starts watching its file when
// one was used. With no config file the manager is static.
func NewManager(logger *zap.Logger) (*Manager, error) {
	cfg, v, err := load()
	if err != nil {
		return nil, err
	}

	m := &Manager{logger: logger, cfg: cfg}

	if v != nil && v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			var next Config
			if err := v.Unmarshal(&next); err != nil {
				logger.Error("Failed to reload config, keeping previous",
					zap.String("file", e.Name), zap.Error(err))
				return
			}
			if err := next.Validate(); err != nil {
				logger.Error("Rejected invalid config reload, keeping previous",
					zap.String("file", e.Name), zap.Error(err))
				return
			}
			m.apply(&next)
			logger.Info("Configuration reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return m, nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a handler invoked after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) apply(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
}
