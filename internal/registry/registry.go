// Package registry implements the kernel's handle registry: the single
// per-kernel map from opaque handle to in-memory transaction, protected by
// one readers-writer lock, with a monotonic handle allocator and a
// configurable cap on concurrently active transactions.
//
// Generalizes a symbolic-name-to-object-id resolver backed by a
// single-writer directory layout into an in-memory lookup keyed by opaque
// int64 handles rather than names, with a single RWMutex standing in for
// direct filesystem access.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fenilsonani/poskernel/internal/txn"
)

// ErrHandleNotFound is returned when a handle does not refer to a
// transaction known to this registry.
var ErrHandleNotFound = errors.New("registry: handle not found")

// ErrCapacityExceeded is returned by Begin when the registry already holds
// MaxConcurrent non-terminal transactions.
var ErrCapacityExceeded = errors.New("registry: max concurrent transactions exceeded")

// DefaultMaxConcurrent is the cap applied when a Registry is constructed
// with maxConcurrent <= 0.
const DefaultMaxConcurrent = 1000

// Registry is the handle -> transaction map. Reads take the RLock side;
// mutations (including Begin and Delete) take the write side. The lock is
// never held across anything but in-memory work plus the single WAL append
// the caller's callback performs — it is the caller's job to keep that
// window tight.
type Registry struct {
	mu            sync.RWMutex
	transactions  map[int64]*txn.Transaction
	nextHandle    int64
	maxConcurrent int
}

// New constructs an empty registry. maxConcurrent <= 0 selects
// DefaultMaxConcurrent.
func New(maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Registry{
		transactions:  make(map[int64]*txn.Transaction),
		maxConcurrent: maxConcurrent,
	}
}

// allocate returns the next handle, skipping the reserved value 0.
func (r *Registry) allocate() int64 {
	h := atomic.AddInt64(&r.nextHandle, 1)
	if h == 0 {
		h = atomic.AddInt64(&r.nextHandle, 1)
	}
	return h
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, t := range r.transactions {
		if !t.State.IsTerminal() {
			n++
		}
	}
	return n
}

// Begin allocates a fresh handle and, while still holding the registry's
// write lock, invokes build with it. build is expected to log the
// transaction's TransactionBegin WAL record and construct the in-memory
// Transaction — the "append then apply" ordering, with the map insertion
// standing in for "apply". If the registry is already at capacity, build
// is never called and ErrCapacityExceeded is returned.
func (r *Registry) Begin(build func(handle int64) (*txn.Transaction, error)) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCountLocked() >= r.maxConcurrent {
		return 0, ErrCapacityExceeded
	}
	handle := r.allocate()
	t, err := build(handle)
	if err != nil {
		return 0, err
	}
	r.transactions[handle] = t
	return handle, nil
}

// Insert places a transaction reconstructed by recovery directly under the
// given handle, bypassing the capacity check (recovery restores exactly
// what the WAL says existed) and advancing the allocator so that newly
// begun transactions never collide with a recovered handle.
func (r *Registry) Insert(handle int64, t *txn.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[handle] = t
	for {
		cur := atomic.LoadInt64(&r.nextHandle)
		if handle <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&r.nextHandle, cur, handle) {
			break
		}
	}
}

// Mutate looks up handle under the write lock and, if found, invokes fn
// with exclusive access to the transaction. fn is responsible for its own
// state checks, WAL append, and in-memory application.
func (r *Registry) Mutate(handle int64, fn func(t *txn.Transaction) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHandleNotFound, handle)
	}
	return fn(t)
}

// Read looks up handle under the read lock and invokes fn. Any number of
// Read calls between two Mutate calls observe the identical transaction
// state.
func (r *Registry) Read(handle int64, fn func(t *txn.Transaction) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHandleNotFound, handle)
	}
	return fn(t)
}

// Delete removes handle from the registry (close_transaction). It does not
// require the transaction to be in a terminal state — closing a handle
// only releases the kernel's in-memory slot, it never touches the WAL,
// which is retained indefinitely.
func (r *Registry) Delete(handle int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrHandleNotFound, handle)
	}
	delete(r.transactions, handle)
	return nil
}

// Len returns the number of handles currently registered, terminal or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions)
}

// ForEach invokes fn for every registered transaction under the read lock.
// Used by recovery's post-replay timeout sweep and by diagnostics.
func (r *Registry) ForEach(fn func(handle int64, t *txn.Transaction)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for h, t := range r.transactions {
		fn(h, t)
	}
}
