package gridstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

// EventType indicates what changed in a Memory store.
type EventType int

const (
	EventGridSaved EventType = iota
	EventGridDeleted
)

// Event is emitted to subscribers after a change.
type Event struct {
	Type EventType
	Key  string
}

// Memory is an in-process, thread-safe Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry

	subs []func(Event)
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Save stores a copy of e, replacing any entry under key.
func (m *Memory) Save(_ context.Context, key string, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.Records = append([]losgrid.Record(nil), e.Records...)

	m.mu.Lock()
	m.entries[key] = e
	subs := append([]func(Event){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Type: EventGridSaved, Key: key})
	}
	return nil
}

func (m *Memory) Load(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	e.Records = append([]losgrid.Record(nil), e.Records...)
	return e, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	subs := append([]func(Event){}, m.subs...)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	for _, fn := range subs {
		fn(Event{Type: EventGridDeleted, Key: key})
	}
	return nil
}

// Keys lists the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Subscribe registers fn to be called after every change. Callbacks run on
// the caller's goroutine outside the store lock.
func (m *Memory) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}
