/*
lock.go - Keyed mutual exclusion for aggregate serialization

PURPOSE:
  Mutating operations that read-then-write a shared aggregate serialize
  on a key: "branch:<id>" for position assignment and compaction,
  "bay:<id>" for allocation, "account:<id>" for ledger mutations.
  Two concurrent joins on a branch can never mint the same position;
  two concurrent allocations on a bay can never both succeed.

LOCK ORDERING:
  When an operation needs more than one key (the wash coordinator does),
  locks are acquired in the fixed order branch -> bay -> account to rule
  out deadlock. See wash/lifecycle.go.
*/
package core

import "sync"

// KeyedMutex provides one mutex per string key. Entries are created on
// first use and removed when the last holder releases, so the map stays
// proportional to the number of keys currently contended.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns the release function.
//
//	unlock := locks.Lock("branch:" + string(branchID))
//	defer unlock()
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Lock key builders. Centralized so every package spells keys the same way.

func BranchLockKey(id BranchID) string    { return "branch:" + string(id) }
func BayLockKey(id BayID) string          { return "bay:" + string(id) }
func AccountLockKey(id CustomerID) string { return "account:" + string(id) }
