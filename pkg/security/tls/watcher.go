package tls

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the watcher waits after the last file
// event before reloading.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher keeps an identity in step with certificate and key files on disk.
// Each reload builds a new immutable Identity; a failed reload keeps the
// previous one.
type Watcher struct {
	certFile string
	keyFile  string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Identity)

	current atomic.Pointer[Identity]

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnChange registers a callback run after each successful reload.
func WithOnChange(fn func(*Identity)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// WithWatcherLogger overrides the component logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher loads the identity once and returns a watcher for the files.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		debounce: DefaultWatchDebounce,
		logger:   slog.Default().With("component", "tls.watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}

	id, err := LoadFiles(w.certFile, w.keyFile)
	if err != nil {
		return nil, err
	}
	w.current.Store(id)
	return w, nil
}

// Current returns the most recently loaded identity.
func (w *Watcher) Current() *Identity {
	return w.current.Load()
}

// Run watches the directories holding the certificate and key until ctx is
// done. Directories are watched rather than the files so that editors and
// tools that replace files by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
		w.mu.Lock()
		w.running = false
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
	}()

	dirs := map[string]struct{}{
		filepath.Dir(w.certFile): {},
		filepath.Dir(w.keyFile):  {},
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	w.logger.Info("watching certificate files", "cert_file", w.certFile, "key_file", w.keyFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("certificate file event", "path", event.Name, "op", event.Op.String())
			w.schedule()

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("certificate watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == w.certFile || name == w.keyFile
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { _ = w.Reload() })
}

// Reload loads the files now. On failure the current identity is kept and
// the error returned.
func (w *Watcher) Reload() error {
	id, err := LoadFiles(w.certFile, w.keyFile)
	if err != nil {
		w.logger.Error("certificate reload failed, keeping current identity", "error", err)
		return err
	}
	w.current.Store(id)

	info := id.Info()
	w.logger.Info("certificate reloaded",
		"subject", info.Subject,
		"not_after", info.NotAfter,
		"serial", info.SerialNumber,
	)
	if w.onChange != nil {
		w.onChange(id)
	}
	return nil
}
