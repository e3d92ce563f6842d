package core

import (
	"maps"
	"sync"
)

const (
	sentinelAlive uint64 = 0x5eb1a7e5c0ffee01
	sentinelDead  uint64 = 0
)

// checkSentinel aborts when the manager's guard word was overwritten or the
// manager was shut down.
func (m *SequenceManager) checkSentinel(op string) {
	if m.sentinel != sentinelAlive {
		fatalf(op, "manager %s is corrupt or shut down (sentinel %#x)", m.id, m.sentinel)
	}
}

// =============================================================================
// Crash keys: process-wide annotations of what each manager is running
// =============================================================================

// CrashKey describes the task a manager is running.
type CrashKey struct {
	Manager   string
	QueueName string
	TaskName  string
	// Depth is the nesting depth the task runs at.
	Depth int
}

var crashKeys = struct {
	sync.Mutex
	keys map[string]CrashKey
}{keys: make(map[string]CrashKey)}

func setCrashKey(id string, key CrashKey) {
	crashKeys.Lock()
	defer crashKeys.Unlock()
	crashKeys.keys[id] = key
}

func clearCrashKey(id string) {
	crashKeys.Lock()
	defer crashKeys.Unlock()
	delete(crashKeys.keys, id)
}

// CrashKeys returns a snapshot of the registry keyed by manager id.
// Crash reporters read it from a panic handler or a signal hook.
func CrashKeys() map[string]CrashKey {
	crashKeys.Lock()
	defer crashKeys.Unlock()
	return maps.Clone(crashKeys.keys)
}
