package core

import "sync"

// withLock runs a short critical section and returns with mu released.
// Callers decide under the lock and invoke callbacks after withLock returns,
// so the release point is always the end of the call.
func withLock(mu *sync.Mutex, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// lockedValue is withLock for critical sections that compute a value.
func lockedValue[T any](mu *sync.Mutex, fn func() T) T {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
