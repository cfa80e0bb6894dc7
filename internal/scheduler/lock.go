package scheduler

import "sync"

// sessionLocks tracks sessions with an in-flight invocation
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]struct{})}
}

// tryLock claims the session; it returns false when another invocation holds it
func (l *sessionLocks) tryLock(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[sessionID]; busy {
		return false
	}
	l.active[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) unlock(sessionID string) {
	l.mu.Lock()
	delete(l.active, sessionID)
	l.mu.Unlock()
}

// busy reports whether a session currently has an in-flight invocation
func (l *sessionLocks) busy(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sessionID]
	return ok
}
