package store

import (
	"context"
	"fmt"
	"sync"
)

type memTxKey struct{}

// memTx buffers writes until the unit of work commits.
type memTx struct {
	staged map[any]map[any]any
	apply  []func()
}

// tombstone marks a key deleted inside a unit of work.
type tombstone struct{}

func memTxFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (tx *memTx) lookup(table, key any) (any, bool) {
	rows, ok := tx.staged[table]
	if !ok {
		return nil, false
	}
	v, ok := rows[key]
	return v, ok
}

func (tx *memTx) stage(table, key, value any, apply func()) {
	rows, ok := tx.staged[table]
	if !ok {
		rows = make(map[any]any)
		tx.staged[table] = rows
	}
	rows[key] = value
	tx.apply = append(tx.apply, apply)
}

// Memory is the in-process Runner. Units of work are serialized; their
// writes are staged and applied only when fn returns nil.
type Memory struct {
	mu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if memTxFrom(ctx) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{staged: make(map[any]map[any]any)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	for _, apply := range tx.apply {
		apply()
	}
	return nil
}

// MemoryTable is a map-backed Table that honours Memory units of work.
type MemoryTable[K comparable, V any] struct {
	mu   sync.RWMutex
	rows map[K]V
}

func NewMemoryTable[K comparable, V any]() *MemoryTable[K, V] {
	return &MemoryTable[K, V]{rows: make(map[K]V)}
}

func (t *MemoryTable[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if tx := memTxFrom(ctx); tx != nil {
		if v, ok := tx.lookup(t, key); ok {
			if _, gone := v.(tombstone); gone {
				return zero, false, nil
			}
			return v.(V), true, nil
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	return v, ok, nil
}

func (t *MemoryTable[K, V]) Insert(ctx context.Context, key K, value V) error {
	_, found, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	t.write(ctx, key, value)
	return nil
}

func (t *MemoryTable[K, V]) Update(ctx context.Context, key K, value V) error {
	_, found, err := t.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
	}
	t.write(ctx, key, value)
	return nil
}

// Range calls fn for every record visible to ctx, staged writes included,
// until fn returns false. Iteration order is unspecified.
func (t *MemoryTable[K, V]) Range(ctx context.Context, fn func(key K, value V) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	view := make(map[K]V, len(t.rows))
	for k, v := range t.rows {
		view[k] = v
	}
	t.mu.RUnlock()

	if tx := memTxFrom(ctx); tx != nil {
		for k, v := range tx.staged[t] {
			if _, gone := v.(tombstone); gone {
				delete(view, k.(K))
				continue
			}
			view[k.(K)] = v.(V)
		}
	}

	for k, v := range view {
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (t *MemoryTable[K, V]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := memTxFrom(ctx); tx != nil {
		tx.stage(t, key, tombstone{}, func() {
			t.mu.Lock()
			delete(t.rows, key)
			t.mu.Unlock()
		})
		return nil
	}

	t.mu.Lock()
	delete(t.rows, key)
	t.mu.Unlock()
	return nil
}

// Len reports the number of committed records.
func (t *MemoryTable[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *MemoryTable[K, V]) write(ctx context.Context, key K, value V) {
	if tx := memTxFrom(ctx); tx != nil {
		tx.stage(t, key, value, func() {
			t.mu.Lock()
			t.rows[key] = value
			t.mu.Unlock()
		})
		return
	}

	t.mu.Lock()
	t.rows[key] = value
	t.mu.Unlock()
}
