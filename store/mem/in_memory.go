package mem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/utils"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return NewMemStoreWithErrHandler(nil)
}

// NewMemStoreWithErrHandler fails every call with whatever errHandler returns.
func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		scopes: make(map[string]map[string][]byte),
		fault:  errHandler,
	}
}

/**
 * memStore keeps every scope in process memory. The engine falls back to it
 * when no postgres or badger store is configured, so nothing survives a restart.
 */
type memStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string][]byte
	fault  func() error
}

func (m *memStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.fault != nil {
		return m.fault()
	}
	return nil
}

func (m *memStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	for _, prefix := range utils.SortedKeys(m.scopes) {
		entries := m.scopes[prefix]
		for _, key := range utils.SortedKeys(entries) {
			fmt.Fprintf(&b, "%s%s: %s\n", prefix, key, entries[key])
		}
	}
	return b.String()
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.scopes[prefix][key]
	if !ok {
		return nil, nil
	}
	// callers may keep the slice, never hand out the stored one
	return append([]byte(nil), value...), nil
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.scopes[prefix]
	if !ok {
		entries = make(map[string][]byte)
		m.scopes[prefix] = entries
	}
	entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.scopes[prefix]
	delete(entries, key)
	if len(entries) == 0 {
		delete(m.scopes, prefix)
	}
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	// the iterator may call back into the store, walk a snapshot
	m.mu.RLock()
	keys := utils.SortedKeys(m.scopes[prefix])
	m.mu.RUnlock()

	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}
