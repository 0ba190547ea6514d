package storage

import (
	"context"
	"sync"
)

// Store is an in-memory profile store. Each tab talks to it through its own
// Session so watch events can exclude the writing tab. Tests run any number
// of tabs against one Store in-process.
type Store struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	session int
	key     string
	fn      func(value []byte)
}

func NewStore() *Store {
	return &Store{
		values:   map[string][]byte{},
		watchers: map[int]*watcher{},
	}
}

// Session returns a per-tab handle on the store.
func (s *Store) Session() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &session{store: s, id: s.nextID}
}

type session struct {
	store *Store
	id    int
}

func (s *session) Get(_ context.Context, key string) ([]byte, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	value, ok := s.store.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

func (s *session) Set(_ context.Context, key string, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)

	s.store.mu.Lock()
	s.store.values[key] = copied
	notify := make([]func(value []byte), 0, len(s.store.watchers))
	for _, w := range s.store.watchers {
		if w.session == s.id || w.key != key {
			continue
		}
		notify = append(notify, w.fn)
	}
	s.store.mu.Unlock()

	// storage events reach other tabs asynchronously
	for _, fn := range notify {
		go fn(copied)
	}
	return nil
}

func (s *session) Delete(_ context.Context, key string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.values, key)
	return nil
}

func (s *session) Watch(key string, fn func(value []byte)) func() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.nextID++
	id := s.store.nextID
	s.store.watchers[id] = &watcher{session: s.id, key: key, fn: fn}
	return func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		delete(s.store.watchers, id)
	}
}
