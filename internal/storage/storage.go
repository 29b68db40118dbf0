// Package storage provides durable key/value storage shared by every
// controller instance of the same origin.
//
// A write performed through one Storage is announced to the subscribers of
// every other Storage opened on the same origin. The writer itself is never
// notified of its own writes, mirroring browser storage events.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/inercia/helpdesk/internal/fileutil"
)

var (
	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage closed")
	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Event describes a change made by another instance.
type Event struct {
	Key      string
	OldValue string
	NewValue string
	// Removed is true when the key was deleted; NewValue is empty then.
	Removed bool
}

// Storage is a per-origin durable key/value store with change notification.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value of key and whether it is present.
	Get(key string) (string, bool, error)
	// Set stores value under key.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Subscribe registers fn for changes made by other instances.
	// Events are delivered in order on a single goroutine.
	// The returned function cancels the subscription.
	Subscribe(fn func(Event)) (cancel func())
	// Close releases resources. No events are delivered after Close returns.
	Close() error
}

// ValidateKey checks that key can be used as a file name on every platform.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, fileutil.TempSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// subscribers is a set of event callbacks.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) dispatch(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.fns))
	// Registration order.
	for i := 0; i < s.next; i++ {
		if fn, ok := s.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// queue delivers events to subscribers asynchronously and in order, so a
// writer holding its own locks never runs another instance's handlers inline.
type queue struct {
	subs   *subscribers
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	busy   bool
	closed bool
	done   chan struct{}
}

func newQueue(subs *subscribers) *queue {
	q := &queue{subs: subs, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.events = append(q.events, ev)
	q.cond.Broadcast()
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.events) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.events = nil
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		q.busy = true
		q.mu.Unlock()

		q.subs.dispatch(ev)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// wait blocks until every queued event has been delivered.
func (q *queue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.events) > 0 || q.busy) && !q.closed {
		q.cond.Wait()
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
