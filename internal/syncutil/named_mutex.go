// Package syncutil contains synchronization primitives
package syncutil

import (
	"sync"

	"github.com/gogf/gf/encoding/ghash"
)

// NamedMutex is a struct allowing to lock/unlock using a key.
// Two keys may share the same underlying mutex, so a goroutine must
// never hold more than one key at a time
type NamedMutex struct {
	locks []sync.RWMutex
	size  uint32
}

// NewNamedMutex creates a new NamedMutex with the given capacity.
// If the max number is below 2, 2 will be used.
// using a prime number as max offers better performance
func NewNamedMutex(maxMutexes uint32) *NamedMutex {
	if maxMutexes < 2 {
		maxMutexes = 2
	}

	return &NamedMutex{
		size:  maxMutexes,
		locks: make([]sync.RWMutex, maxMutexes),
	}
}

func (mu *NamedMutex) get(key []byte) *sync.RWMutex {
	return &mu.locks[ghash.SDBMHash(key)%mu.size]
}

// Lock locks the provided key for writing and returns the method
// to call to unlock it.
// If the lock is already in use, the calling goroutine blocks until
// the mutex is available.
func (mu *NamedMutex) Lock(key []byte) (unlock func()) {
	m := mu.get(key)
	m.Lock()
	return m.Unlock
}

// RLock locks the provided key for reading and returns the method
// to call to unlock it.
func (mu *NamedMutex) RLock(key []byte) (runlock func()) {
	m := mu.get(key)
	m.RLock()
	return m.RUnlock
}
