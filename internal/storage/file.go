package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inercia/helpdesk/internal/fileutil"
)

// DebounceDelay is the default delay for batching file system events.
const DebounceDelay = 50 * time.Millisecond

// FileOption configures a FileStorage.
type FileOption func(*FileStorage)

// WithDebounce sets the delay used to batch rapid file system events.
func WithDebounce(d time.Duration) FileOption {
	return func(fs *FileStorage) {
		fs.debounceDelay = d
	}
}

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(logger *slog.Logger) FileOption {
	return func(fs *FileStorage) {
		fs.logger = logger
	}
}

// FileStorage stores one file per key in a directory. Every process that
// opens the same directory shares the same origin; changes made by other
// processes are detected with fsnotify.
//
// An instance never receives events for its own writes: it remembers the
// content it last wrote or saw for each key and only announces a change when
// the file differs from that.
//
// Thread-safety: All public methods are safe for concurrent use.
type FileStorage struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	subs  subscribers
	queue *queue

	mu     sync.Mutex
	known  map[string]string
	closed bool

	debounceDelay time.Duration
	debounceMu    sync.Mutex
	pending       map[string]struct{}
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

var _ Storage = (*FileStorage)(nil)

// OpenFile opens (creating if needed) the storage directory dir and starts
// watching it.
func OpenFile(dir string, opts ...FileOption) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fs := &FileStorage{
		dir:           dir,
		watcher:       watcher,
		known:         make(map[string]string),
		debounceDelay: DebounceDelay,
		pending:       make(map[string]struct{}),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.queue = newQueue(&fs.subs)

	if err := fs.prime(); err != nil {
		watcher.Close()
		fs.queue.close()
		return nil, err
	}

	go fs.eventLoop()
	return fs, nil
}

// Dir returns the storage directory.
func (fs *FileStorage) Dir() string {
	return fs.dir
}

// prime records the current content of every key so the first external
// change is compared against what was on disk at open time.
func (fs *FileStorage) prime() error {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return fmt.Errorf("failed to list storage directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || ValidateKey(e.Name()) != nil {
			continue
		}
		data, ok, err := fileutil.ReadFileIfExists(filepath.Join(fs.dir, e.Name()))
		if err != nil || !ok {
			continue
		}
		fs.known[e.Name()] = string(data)
	}
	return nil
}

func (fs *FileStorage) path(key string) string {
	return filepath.Join(fs.dir, key)
}

// Get implements Storage.
func (fs *FileStorage) Get(key string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	if fs.isClosed() {
		return "", false, ErrClosed
	}
	data, ok, err := fileutil.ReadFileIfExists(fs.path(key))
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), ok, nil
}

// Set implements Storage.
func (fs *FileStorage) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	if err := fileutil.WriteFileAtomic(fs.path(key), []byte(value), 0600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	fs.known[key] = value
	return nil
}

// Remove implements Storage.
func (fs *FileStorage) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	if err := fileutil.RemoveIfExists(fs.path(key)); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	delete(fs.known, key)
	return nil
}

// Subscribe implements Storage.
func (fs *FileStorage) Subscribe(fn func(Event)) func() {
	return fs.subs.add(fn)
}

// Close stops the watcher and releases resources.
// After Close returns, no more events will be delivered to subscribers.
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	fs.mu.Unlock()

	close(fs.done)
	err := fs.watcher.Close()
	<-fs.stopped

	fs.debounceMu.Lock()
	if fs.debounceTimer != nil {
		fs.debounceTimer.Stop()
		fs.debounceTimer = nil
	}
	fs.debounceMu.Unlock()

	fs.queue.close()
	return err
}

func (fs *FileStorage) isClosed() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.closed
}

func (fs *FileStorage) eventLoop() {
	defer close(fs.stopped)

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			fs.handleEvent(event)

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			if fs.logger != nil {
				fs.logger.Warn("Storage watcher error", "error", err)
			}
		}
	}
}

func (fs *FileStorage) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	key := filepath.Base(event.Name)
	if strings.HasSuffix(key, fileutil.TempSuffix) || ValidateKey(key) != nil {
		return
	}

	fs.debounceMu.Lock()
	fs.pending[key] = struct{}{}
	if fs.debounceTimer != nil {
		fs.debounceTimer.Stop()
	}
	fs.debounceTimer = time.AfterFunc(fs.debounceDelay, fs.firePending)
	fs.debounceMu.Unlock()
}

// firePending compares each touched key against what this instance knows
// and queues an event for every real change.
func (fs *FileStorage) firePending() {
	fs.debounceMu.Lock()
	pending := fs.pending
	fs.pending = make(map[string]struct{})
	fs.debounceTimer = nil
	fs.debounceMu.Unlock()

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		data, exists, err := fileutil.ReadFileIfExists(fs.path(key))
		if err != nil {
			if fs.logger != nil {
				fs.logger.Debug("Failed to read changed key", "key", key, "error", err)
			}
			continue
		}

		fs.mu.Lock()
		if fs.closed {
			fs.mu.Unlock()
			return
		}
		old, had := fs.known[key]
		var ev Event
		switch {
		case exists && had && old == string(data):
			fs.mu.Unlock()
			continue
		case exists:
			fs.known[key] = string(data)
			ev = Event{Key: key, OldValue: old, NewValue: string(data)}
		case had:
			delete(fs.known, key)
			ev = Event{Key: key, OldValue: old, Removed: true}
		default:
			fs.mu.Unlock()
			continue
		}
		fs.mu.Unlock()

		if fs.logger != nil {
			fs.logger.Debug("Storage key changed externally", "key", key, "removed", ev.Removed)
		}
		fs.queue.push(ev)
	}
}
