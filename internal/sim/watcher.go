package sim

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// DeviceWatcher calls a handler whenever the device file changes.
// Bursts of events for the file are coalesced.
type DeviceWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
	done    chan struct{}
}

// WatcherOption configures a DeviceWatcher.
type WatcherOption func(*DeviceWatcher)

// WithDebounce sets how long the watcher waits for the file to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DeviceWatcher) {
		w.debounce = d
	}
}

// NewDeviceWatcher watches the directory holding path, since editors usually
// replace the file rather than write it in place.
func NewDeviceWatcher(path string, onChange func(), opts ...WatcherOption) (*DeviceWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving device path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &DeviceWatcher{
		watcher:  fsWatcher,
		path:     abs,
		debounce: watchDebounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It returns immediately.
func (w *DeviceWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop stops the watcher and cancels any pending notification.
func (w *DeviceWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *DeviceWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Device watcher error")
		}
	}
}

func (w *DeviceWatcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		log.Debug().Str("path", w.path).Str("op", event.Op.String()).Msg("Device file changed")
		if w.onChange != nil {
			w.onChange()
		}
	})
}
