package storage

import (
	"sync"
)

// Origin is an in-process storage area shared by several MemoryStorage
// instances, the equivalent of one browser profile's storage for one site.
type Origin struct {
	mu        sync.Mutex
	data      map[string]string
	instances map[*MemoryStorage]struct{}
}

// NewOrigin creates an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		data:      make(map[string]string),
		instances: make(map[*MemoryStorage]struct{}),
	}
}

// Open returns a new instance attached to the origin.
func (o *Origin) Open() *MemoryStorage {
	m := &MemoryStorage{origin: o}
	m.queue = newQueue(&m.subs)

	o.mu.Lock()
	o.instances[m] = struct{}{}
	o.mu.Unlock()
	return m
}

// Snapshot returns a copy of every stored key.
func (o *Origin) Snapshot() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.data))
	for k, v := range o.data {
		out[k] = v
	}
	return out
}

// MemoryStorage is one instance's handle on an Origin.
type MemoryStorage struct {
	origin *Origin
	subs   subscribers
	queue  *queue

	mu     sync.Mutex
	closed bool
}

var _ Storage = (*MemoryStorage)(nil)

// Get implements Storage.
func (m *MemoryStorage) Get(key string) (string, bool, error) {
	if m.isClosed() {
		return "", false, ErrClosed
	}
	m.origin.mu.Lock()
	defer m.origin.mu.Unlock()
	v, ok := m.origin.data[key]
	return v, ok, nil
}

// Set implements Storage. Writing the value already stored is not announced.
func (m *MemoryStorage) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if m.isClosed() {
		return ErrClosed
	}

	o := m.origin
	o.mu.Lock()
	old, existed := o.data[key]
	if existed && old == value {
		o.mu.Unlock()
		return nil
	}
	o.data[key] = value
	others := o.othersLocked(m)
	o.mu.Unlock()

	ev := Event{Key: key, OldValue: old, NewValue: value}
	for _, other := range others {
		other.queue.push(ev)
	}
	return nil
}

// Remove implements Storage.
func (m *MemoryStorage) Remove(key string) error {
	if m.isClosed() {
		return ErrClosed
	}

	o := m.origin
	o.mu.Lock()
	old, existed := o.data[key]
	if !existed {
		o.mu.Unlock()
		return nil
	}
	delete(o.data, key)
	others := o.othersLocked(m)
	o.mu.Unlock()

	ev := Event{Key: key, OldValue: old, Removed: true}
	for _, other := range others {
		other.queue.push(ev)
	}
	return nil
}

// Subscribe implements Storage.
func (m *MemoryStorage) Subscribe(fn func(Event)) func() {
	return m.subs.add(fn)
}

// Wait blocks until every event already queued for this instance has been
// delivered to its subscribers.
func (m *MemoryStorage) Wait() {
	m.queue.wait()
}

// Close implements Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.origin.mu.Lock()
	delete(m.origin.instances, m)
	m.origin.mu.Unlock()

	m.queue.close()
	return nil
}

func (m *MemoryStorage) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// othersLocked returns every instance except self. Must be called with o.mu held.
func (o *Origin) othersLocked(self *MemoryStorage) []*MemoryStorage {
	others := make([]*MemoryStorage, 0, len(o.instances))
	for inst := range o.instances {
		if inst != self {
			others = append(others, inst)
		}
	}
	return others
}
