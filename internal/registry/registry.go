// Package registry tracks the open connections of one endpoint.
package registry

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/multierr"
)

var (
	// ErrDuplicate is returned by Add when the key already has an entry.
	ErrDuplicate = errors.New("registry: key already registered")
	// ErrClosed is returned by Add once CloseAll has run.
	ErrClosed = errors.New("registry: closed")
)

// Entry is one key/value pair of a snapshot.
type Entry[K comparable, V io.Closer] struct {
	Key   K
	Value V
}

// Registry maps peer keys to open connections. A single mutex guards every
// operation, and closing a connection always happens together with its
// removal, so the registry never holds a closed connection.
type Registry[K comparable, V io.Closer] struct {
	entries map[K]V
	closed  bool
	mu      sync.RWMutex
}

// New creates an empty Registry.
func New[K comparable, V io.Closer]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
	}
}

// Add registers v under key. An existing entry is never replaced.
func (r *Registry[K, V]) Add(key K, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.entries[key]; ok {
		return ErrDuplicate
	}
	r.entries[key] = v
	return nil
}

// Lookup returns the entry for key.
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Remove unregisters key without closing it. It is a no-op if key is absent.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return v, ok
}

// CloseIf removes and closes the entry for key in one guarded step. When
// match is non-nil the entry is only taken if match reports true for it.
// The boolean reports whether this call took the entry; exactly one caller
// wins for any given connection.
func (r *Registry[K, V]) CloseIf(key K, match func(V) bool) (V, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[key]
	if !ok || (match != nil && !match(v)) {
		var zero V
		return zero, false, nil
	}
	delete(r.entries, key)
	return v, true, v.Close()
}

// CloseAll closes and removes every entry and refuses further additions.
// It returns how many entries it removed.
func (r *Registry[K, V]) CloseAll() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var err error
	n := len(r.entries)
	for key, v := range r.entries {
		err = multierr.Append(err, v.Close())
		delete(r.entries, key)
	}
	return n, err
}

// Snapshot returns the entries registered at the instant of the call.
func (r *Registry[K, V]) Snapshot() []Entry[K, V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry[K, V], 0, len(r.entries))
	for k, v := range r.entries {
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out
}

// Keys returns the keys registered at the instant of the call.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	return out
}

// Len returns the number of registered entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
