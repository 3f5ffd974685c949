package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/atlas/internal/config"
	"github.com/rs/zerolog"
)

// ReloadFunc receives a freshly loaded and validated configuration.
type ReloadFunc func(cfg *config.Config) error

// ConfigWatcher reloads the config file when it changes on disk. Editors often replace the file
// instead of writing it, so the parent directory is watched and events are filtered by name.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	debounce   time.Duration
	onReload   ReloadFunc
	logger     zerolog.Logger

	done     chan struct{}
	timerMu  sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
}

// ConfigWatcherConfig holds configuration for the watcher
type ConfigWatcherConfig struct {
	ConfigPath string
	Debounce   time.Duration
	OnReload   ReloadFunc
	Logger     zerolog.Logger
}

// NewConfigWatcher creates a watcher for cfg.ConfigPath
func NewConfigWatcher(cfg ConfigWatcherConfig) (*ConfigWatcher, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	return &ConfigWatcher{
		watcher:    watcher,
		configPath: filepath.Clean(cfg.ConfigPath),
		debounce:   cfg.Debounce,
		onReload:   cfg.OnReload,
		logger:     cfg.Logger,
		done:       make(chan struct{}),
	}, nil
}

// Start starts watching
func (w *ConfigWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().
		Str("path", w.configPath).
		Msg("Config watcher started")

	return nil
}

// Stop stops the watcher
func (w *ConfigWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		w.logger.Info().Msg("Config watcher stopped")
	})
	return err
}

func (w *ConfigWatcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.configPath {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.configPath)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.configPath).Msg("Ignoring unreadable config change")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Str("path", w.configPath).Msg("Ignoring invalid config change")
		return
	}
	if w.onReload == nil {
		return
	}
	if err := w.onReload(cfg); err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed")
		return
	}
	w.logger.Info().Str("path", w.configPath).Msg("Config reloaded")
}
