package engine

import "sync"

// threadLocks serializes turn processing per thread within this process.
// The database advisory lock in the checkpoint store protects checkpoint ID
// allocation across processes; this lock additionally keeps a whole turn
// (load, generate, commit) atomic with respect to other turns on the same
// thread, so a slow turn cannot interleave with a later one.
//
// Locks are never evicted. One mutex per thread ever seen is a few dozen
// bytes; a process handles far fewer distinct threads than that matters.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for threadID and returns its unlock function.
func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	m, ok := l.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[threadID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
