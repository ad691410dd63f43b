package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent reports the outcome of one reload pass.
type ReloadedEvent struct {
	Timestamp time.Time
	Entities  []string
	Error     error
}

// FileWatcher monitors a definition directory and re-registers entities
// when their documents change. Reloads are debounced so an editor
// writing several files triggers one recompilation pass.
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	loader          *Loader
	registry        *Registry
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
	stopped         bool
}

// NewFileWatcher creates a watcher for a definition directory.
func NewFileWatcher(path string, registry *Registry, loader *Loader, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            path,
		loader:          loader,
		registry:        registry,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the definition directory for changes.
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	if err := fw.watcher.Add(fw.path); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("Starting definition file watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Definition file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.shouldProcessEvent(event) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("Definition file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.performReload)
}

// performReload loads every definition document and re-registers the
// parsed entities. A failing entity keeps its previous compiled set.
func (fw *FileWatcher) performReload() {
	fw.logger.Info("Reloading definitions from disk",
		zap.String("path", fw.path),
	)

	defs, err := fw.loader.LoadFromDirectory(fw.path)
	if err != nil {
		fw.logger.Error("Failed to load definitions",
			zap.String("path", fw.path),
			zap.Error(err),
		)
		fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	entities := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, err := fw.registry.Register(def); err != nil {
			fw.logger.Error("Definition compile failed, keeping previous set",
				zap.String("entity", def.Entity),
				zap.Error(err),
			)
			fw.emit(ReloadedEvent{
				Timestamp: time.Now(),
				Error:     fmt.Errorf("compile failed for entity %s: %w", def.Entity, err),
			})
			return
		}
		entities = append(entities, def.Entity)
	}

	fw.logger.Info("Definitions reloaded successfully",
		zap.Int("count", len(entities)),
		zap.Strings("entities", entities),
	)

	fw.emit(ReloadedEvent{Timestamp: time.Now(), Entities: entities})
}

// emit delivers a reload event unless the watcher has been stopped. The
// read lock excludes Stop's close of eventChan, so a debounce timer
// firing during shutdown can never send on a closed channel.
func (fw *FileWatcher) emit(ev ReloadedEvent) {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	if fw.stopped {
		return
	}
	select {
	case fw.eventChan <- ev:
	default:
		fw.logger.Warn("Reload event dropped, channel full")
	}
}

// EventChan returns a channel for receiving reload events.
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped || !fw.isWatching {
		return nil
	}
	fw.stopped = true

	close(fw.stopChan)
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	close(fw.eventChan)
	return nil
}

// SetDebounceTimeout sets the debounce timeout for file changes.
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching reports whether the watcher is currently active.
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.isWatching
}
