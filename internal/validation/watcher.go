package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadConfigFile reads a validation config from YAML. Fields absent from
// the file keep their DefaultConfig values.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read validation config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse validation config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RuleWatcher hot-reloads a validation config file. Rapid editor saves are
// debounced; a reload that fails to parse keeps the previous config live.
type RuleWatcher struct {
	path     string
	logger   *zap.Logger
	onChange func(Config)
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewRuleWatcher creates a watcher for path. onChange receives every
// successfully parsed config.
func NewRuleWatcher(path string, onChange func(Config), logger *zap.Logger) *RuleWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleWatcher{
		path:     path,
		logger:   logger.Named("rule-watcher"),
		onChange: onChange,
		debounce: 200 * time.Millisecond,
	}
}

// Start begins watching. Non-blocking; idempotent while running.
func (w *RuleWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch if the file itself is registered.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run()
	w.logger.Info("watching validation rules", zap.String("path", w.path))
	return nil
}

// Stop cancels the watch and waits for the goroutine to exit. Idempotent.
func (w *RuleWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.watcher.Close()
}

func (w *RuleWatcher) run() {
	defer close(w.doneCh)

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if pending != nil {
				pending.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(w.debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(w.debounce)
			}
		case <-pendingC:
			pending = nil
			pendingC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *RuleWatcher) reload() {
	cfg, err := LoadConfigFile(w.path)
	if err != nil {
		w.logger.Warn("rule reload failed, keeping previous config", zap.Error(err))
		return
	}
	w.logger.Info("validation rules reloaded",
		zap.Strings("required_sections", cfg.RequiredSections),
		zap.Int("min_requirements", cfg.MinRequirements))
	w.onChange(cfg)
}
