package config

import (
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrNoConfigFile is returned when watching is requested without a file
var ErrNoConfigFile = errors.New("config watcher needs a config file")

// ChangeHandler receives the reloaded configuration
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes and hands the result to
// its handlers. Only settings that can change at runtime are acted on by
// the handlers; the rest take effect on restart.
type Watcher struct {
	v        *viper.Viper
	logger   *zap.Logger
	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
}

// NewWatcher loads path and prepares to watch it
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, ErrNoConfigFile
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Watcher{v: v, logger: logger, current: cfg}, nil
}

// Current returns the last successfully loaded configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a handler for reloaded configuration
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

// Start begins watching the file
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.v.WatchConfig()
}

func (w *Watcher) reload(name string) {
	cfg, err := decode(w.v)
	if err != nil {
		// Keep running on the previous configuration
		w.logger.Error("Rejected config change", zap.String("file", name), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("Config reloaded", zap.String("file", name))
	for _, h := range handlers {
		h(cfg)
	}
}
