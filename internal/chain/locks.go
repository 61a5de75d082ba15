package chain

import "sync"

// sessionLocks hands out one mutex per (tenant, session) pair so the
// read-tail-then-append critical section is serialized per chain while
// appends to distinct sessions proceed in parallel. Locks are never removed;
// a mutex per active session is cheap relative to the rows behind it.
type sessionLocks struct {
	registry sync.Map // string key -> *sync.Mutex
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "/" + sessionID
}

func (l *sessionLocks) get(tenantID, sessionID string) *sync.Mutex {
	mu, _ := l.registry.LoadOrStore(sessionKey(tenantID, sessionID), &sync.Mutex{})
	return mu.(*sync.Mutex)
}
