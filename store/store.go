// Package store holds the keyed-record and unit-of-work abstractions the
// marketplace services persist through. Records are replaced whole on
// update; there is no in-place field mutation.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey signals Insert hit an existing key.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrKeyNotFound signals Update targeted a missing key.
	ErrKeyNotFound = errors.New("store: key not found")
)

// Table is a keyed record table.
type Table[K comparable, V any] interface {
	// Get returns the record stored under key and whether it is present.
	Get(ctx context.Context, key K) (V, bool, error)
	// Insert stores a new record; ErrDuplicateKey when key is taken.
	Insert(ctx context.Context, key K, value V) error
	// Update replaces an existing record; ErrKeyNotFound when key is absent.
	Update(ctx context.Context, key K, value V) error
}

// Runner executes fn as one atomic unit of work. Every table write made
// through the context handed to fn commits together or not at all. Nested
// calls join the outer unit.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Sequence hands out increasing ids from a named counter row.
type Sequence struct {
	counters Table[string, uint64]
	name     string
}

// NewSequence binds a sequence to its counter row.
func NewSequence(counters Table[string, uint64], name string) *Sequence {
	return &Sequence{counters: counters, name: name}
}

// Last returns the most recently issued id, 0 before the first Next.
func (s *Sequence) Last(ctx context.Context) (uint64, error) {
	last, found, err := s.counters.Get(ctx, s.name)
	if err != nil {
		return 0, fmt.Errorf("store: read sequence %s: %w", s.name, err)
	}
	if !found {
		return 0, nil
	}
	return last, nil
}

// Next advances the counter and returns the new id. Call it only once the
// creating operation has passed every check.
func (s *Sequence) Next(ctx context.Context) (uint64, error) {
	last, found, err := s.counters.Get(ctx, s.name)
	if err != nil {
		return 0, fmt.Errorf("store: read sequence %s: %w", s.name, err)
	}
	if !found {
		if err := s.counters.Insert(ctx, s.name, 1); err != nil {
			return 0, fmt.Errorf("store: start sequence %s: %w", s.name, err)
		}
		return 1, nil
	}
	next := last + 1
	if err := s.counters.Update(ctx, s.name, next); err != nil {
		return 0, fmt.Errorf("store: advance sequence %s: %w", s.name, err)
	}
	return next, nil
}
