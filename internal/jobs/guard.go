package jobs

import "sync"

// Guard serializes writers per job ID. Read-modify-write cycles on a
// job record must run under the job's lock so state appends from the
// scheduler, dispatcher, and API never interleave.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-job lock, creating it on first use.
func (g *Guard) Lock(jobID string) {
	g.lockFor(jobID).Lock()
}

// Unlock releases the per-job lock.
func (g *Guard) Unlock(jobID string) {
	g.lockFor(jobID).Unlock()
}

// Forget drops the lock entry for a deleted job. Callers must hold no
// lock on the job when calling.
func (g *Guard) Forget(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, jobID)
}

func (g *Guard) lockFor(jobID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[jobID] = lock
	}
	return lock
}
