package profile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"baseline/pkg/logging"
)

// ChangeOperation describes what happened to a stored profile.
type ChangeOperation string

const (
	OperationCreate ChangeOperation = "Create"
	OperationUpdate ChangeOperation = "Update"
	OperationDelete ChangeOperation = "Delete"
)

// ChangeEvent reports a change to one profile file.
type ChangeEvent struct {
	// Name is the profile name derived from the file name.
	Name string

	// Operation describes the kind of change.
	Operation ChangeOperation

	// Timestamp is when the change was detected.
	Timestamp time.Time

	// FilePath is the path of the file that changed.
	FilePath string
}

// Watcher watches a profile directory and emits debounced change events.
// Long-lived test agents use it to pick up edited baseline overrides
// without a restart.
type Watcher struct {
	mu sync.Mutex

	dir              string
	debounceInterval time.Duration

	watcher *fsnotify.Watcher
	pending map[string]*pendingChange
	stopCh  chan struct{}
	running bool
}

// pendingChange tracks a debounced event awaiting emission.
type pendingChange struct {
	event ChangeEvent
	timer *time.Timer
}

// NewWatcher creates a watcher for the given profile directory.
func NewWatcher(dir string, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		dir:              dir,
		debounceInterval: debounceInterval,
		pending:          make(map[string]*pendingChange),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching and sends events to changes until the context is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	w.watcher = fw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	if err := fw.Add(w.dir); err != nil {
		w.Stop()
		return err
	}

	go w.processEvents(ctx, changes)

	logging.Info("ProfileWatcher", "Watching %s for profile changes", w.dir)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return

		case <-w.stopCh:
			w.cancelPending()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ProfileWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	name, ok := profileName(filepath.Base(event.Name))
	if !ok {
		return
	}

	var op ChangeOperation
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		op = OperationCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		op = OperationUpdate
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		op = OperationDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		// The new name will produce its own Create.
		op = OperationDelete
	default:
		return
	}

	w.debounce(ChangeEvent{
		Name:      name,
		Operation: op,
		Timestamp: time.Now(),
		FilePath:  event.Name,
	}, changes)
}

// debounce coalesces rapid successive changes to the same profile into one
// event carrying the merged operation.
func (w *Watcher) debounce(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.pending[event.Name]; ok {
		entry.timer.Stop()
		event.Operation = mergeOperations(entry.event.Operation, event.Operation)
	}

	name := event.Name
	timer := time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		entry, ok := w.pending[name]
		if ok {
			delete(w.pending, name)
		}
		w.mu.Unlock()

		if !ok {
			return
		}

		select {
		case changes <- entry.event:
			logging.Debug("ProfileWatcher", "Emitted %s for profile %s", entry.event.Operation, name)
		default:
			logging.Warn("ProfileWatcher", "Change channel full, dropping %s for profile %s", entry.event.Operation, name)
		}
	})

	w.pending[event.Name] = &pendingChange{event: event, timer: timer}
}

// mergeOperations folds two operations on the same profile into the one the
// subscriber should see.
func mergeOperations(old, new ChangeOperation) ChangeOperation {
	if old == OperationCreate {
		if new == OperationDelete {
			return OperationDelete
		}
		return OperationCreate
	}
	if old == OperationUpdate && new == OperationDelete {
		return OperationDelete
	}
	return new
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range w.pending {
		entry.timer.Stop()
	}
	w.pending = make(map[string]*pendingChange)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	if w.watcher != nil {
		if err := w.watcher.Close(); err != nil {
			logging.Error("ProfileWatcher", err, "Error closing filesystem watcher")
		}
		w.watcher = nil
	}

	logging.Info("ProfileWatcher", "Stopped watching %s", w.dir)
	return nil
}
