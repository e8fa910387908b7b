package quest

import "sync"

// teamLocks hands out one mutex per team. Teams never share a lock, so
// operations on different teams proceed independently.
type teamLocks struct {
	mu    sync.RWMutex
	locks map[int64]*sync.Mutex
}

func newTeamLocks() *teamLocks {
	return &teamLocks{locks: make(map[int64]*sync.Mutex)}
}

func (r *teamLocks) get(teamID int64) *sync.Mutex {
	r.mu.RLock()
	l, ok := r.locks[teamID]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if l, ok := r.locks[teamID]; ok {
		return l
	}
	l = &sync.Mutex{}
	r.locks[teamID] = l
	return l
}

// lock acquires the team's mutex and returns its unlock func.
func (r *teamLocks) lock(teamID int64) func() {
	l := r.get(teamID)
	l.Lock()
	return l.Unlock
}
