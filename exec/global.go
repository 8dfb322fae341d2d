package exec

import "sync"

// globalRegistry holds the names of cross-shard functions the per-shard
// executor never runs itself: encountering one halts the executor and
// hands control back to the worker loop, per the short-circuit
// contract. It is deliberately separate from the mappers registry — a
// global function never receives a single document.
var (
	globalMu  sync.RWMutex
	globalSet = map[string]bool{}
)

// RegisterGlobal marks funcName as a cross-shard operation.
func RegisterGlobal(funcName string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalSet[funcName] = true
}

// IsGlobal reports whether funcName is a registered global operation.
func IsGlobal(funcName string) bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalSet[funcName]
}
