package graph

import (
	"sort"
	"sync"
)

// idLocks serializes writes per entity id. Multi-id writes acquire their
// locks in lexicographic id order so concurrent writers cannot deadlock.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *idLocks) lockFor(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Acquire locks the given ids and returns the release function.
func (l *idLocks) Acquire(ids ...string) func() {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, id := range uniq {
		m := l.lockFor(id)
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
