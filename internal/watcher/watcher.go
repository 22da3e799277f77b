package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a workspace directory for out-of-band writes to the
// issue store and emits no-payload wake-up signals. It says only THAT
// something changed, never what; the refresh scheduler decides when to
// act on it.
//
// Falls back to mtime polling if fsnotify cannot watch the path (some
// filesystems don't support it).
type Watcher struct {
	mu           sync.Mutex
	path         string
	pollInterval time.Duration
	pollingMode  bool
	fs           *fsnotify.Watcher
	events       chan struct{} // Buffered to avoid blocking
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func New(path string, pollInterval time.Duration) *Watcher {
	return &Watcher{
		path:         path,
		pollInterval: pollInterval,
		events:       make(chan struct{}, 1),
	}
}

// Events returns the wake-up channel. The channel never carries more
// than one pending signal; bursts coalesce here before the scheduler
// even sees them.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Start begins watching. Safe to call once.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  fsnotify unavailable (%v), falling back to polling", err)
		w.pollingMode = true
	} else if err := fs.Add(w.path); err != nil {
		log.Printf("⚠️  cannot watch %s (%v), falling back to polling", w.path, err)
		fs.Close()
		w.pollingMode = true
	} else {
		w.fs = fs
	}

	if w.pollingMode {
		w.startPolling(ctx)
		return
	}
	w.startFSWatch(ctx)
}

// Repoint switches the watched directory (workspace switch). A signal is
// emitted so subscribers refresh against the new workspace immediately.
func (w *Watcher) Repoint(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fs != nil {
		if err := w.fs.Remove(w.path); err != nil {
			log.Printf("⚠️  failed to unwatch %s: %v", w.path, err)
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
	}
	w.path = path
	w.signal()
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fs != nil {
		w.fs.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) startFSWatch(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fs.Events:
				if !ok {
					return
				}
				// Only writes and creates indicate store changes
				if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
					continue
				}
				w.signal()
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  watcher error: %v", err)
			}
		}
	}()
}

func (w *Watcher) startPolling(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		last := w.latestModTime()
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := w.latestModTime()
				if current.After(last) {
					last = current
					w.signal()
				}
			}
		}
	}()
}

// latestModTime returns the newest mtime among the watched directory and
// its immediate children. Shallow on purpose: the store writes land at
// the top level of the workspace directory.
func (w *Watcher) latestModTime() time.Time {
	w.mu.Lock()
	path := w.path
	w.mu.Unlock()

	var latest time.Time
	if info, err := os.Stat(path); err == nil {
		latest = info.ModTime()
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return latest
	}
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(path, entry.Name()))
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

// signal sends a non-blocking wake-up; a pending signal absorbs new ones.
func (w *Watcher) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
