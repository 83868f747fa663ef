package service

import "sync"

// projectLocks hands out one RWMutex per project.
// Collection resets hold the write side; searches and incremental pushes hold the read side.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*sync.RWMutex)}
}

func (l *projectLocks) get(projectID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[projectID]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[projectID] = m
	}
	return m
}
