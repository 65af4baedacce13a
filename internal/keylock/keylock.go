// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

// Package keylock provides per-key mutual exclusion for concurrent
// authentication flows. A lock is scoped to a (domain, key) pair so that
// operations on the same username serialize while unrelated usernames
// proceed fully in parallel.
package keylock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/samber/oops"
)

// Domain partitions the key space. Locks in different domains never
// contend, even for equal keys.
type Domain int

// Lock domains used by the authentication service.
const (
	DomainRegister Domain = iota
	DomainLogin
	DomainRemove
)

// String returns a human-readable domain name for logging.
func (d Domain) String() string {
	switch d {
	case DomainRegister:
		return "register"
	case DomainLogin:
		return "login"
	case DomainRemove:
		return "remove"
	default:
		return "unknown"
	}
}

type lockKey struct {
	domain Domain
	key    uint64
}

// entry is a single-slot semaphore plus a reference count of holders and
// waiters. The entry is removed from the table when the count drops to zero.
type entry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is a table of per-key mutexes. The zero value is not usable;
// construct with New. Safe for concurrent use.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[lockKey]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[lockKey]*entry)}
}

// Handle represents a held lock. Release returns the lock and is safe to
// call more than once; callers should defer it immediately after a
// successful Acquire so the lock is returned on every exit path.
type Handle struct {
	once sync.Once
	km   *KeyedMutex
	lk   lockKey
}

// Release returns the lock. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.km.release(h.lk)
	})
}

// Acquire blocks until the (domain, key) lock is free or ctx is done.
// On a ctx error the caller did not acquire the lock and must not proceed.
func (km *KeyedMutex) Acquire(ctx context.Context, domain Domain, key uint64) (*Handle, error) {
	lk := lockKey{domain: domain, key: key}

	km.mu.Lock()
	e, ok := km.entries[lk]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		km.entries[lk] = e
	}
	e.refs++
	km.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return &Handle{km: km, lk: lk}, nil
	case <-ctx.Done():
		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.entries, lk)
		}
		km.mu.Unlock()
		return nil, oops.Code("LOCK_WAIT_CANCELLED").
			With("domain", domain.String()).
			With("key", key).
			Wrap(ctx.Err())
	}
}

func (km *KeyedMutex) release(lk lockKey) {
	km.mu.Lock()
	e, ok := km.entries[lk]
	if !ok {
		km.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(km.entries, lk)
	}
	km.mu.Unlock()

	<-e.sem
}

// Len returns the number of live lock entries. Useful for tests and the
// lock-table gauge.
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.entries)
}

// HashString derives a lock key from a string using FNV-1a. Usernames are
// lock keys in the register and login domains.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
