package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Document is the shared in-memory copy of one settings blob. Every holder of
// the same (application, tenant) sees the same Document; access goes through
// its lock.
type Document[T any] struct {
	key   docKey
	store *Store

	mu   sync.Mutex
	data T
}

func (d *Document[T]) App() string     { return d.key.app }
func (d *Document[T]) TenantID() int64 { return d.key.tenantID }

// Read runs fn with the document locked. fn must not retain the pointer.
func (d *Document[T]) Read(fn func(*T)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.data)
}

// Mutate runs fn with the document locked and persists before unlocking when
// fn reports a change.
func (d *Document[T]) Mutate(ctx context.Context, fn func(*T) bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !fn(&d.data) {
		return false, nil
	}
	return true, d.persist(ctx)
}

// Save persists the current contents.
func (d *Document[T]) Save(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist(ctx)
}

func (d *Document[T]) persist(ctx context.Context) error {
	data, err := json.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("encode settings %s: %w", d.key, err)
	}
	return d.store.save(ctx, d.key, data)
}
