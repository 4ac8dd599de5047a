// internal/database/locks.go - advisory entity-type scoped locking
package database

import (
	"sort"
	"sync"
)

// Resource group names used by cross-entity critical sections.
const (
	ResourceUnscheduledMaintenances = "unscheduled_maintenances"
	ResourceScheduledMaintenances   = "scheduled_maintenances"
	ResourceRoutes                  = "routes"
	ResourceStates                  = "states"
)

// LockManager provides advisory, named, entity-type-scoped locks. A
// critical section names the resource groups it spans; groups are
// acquired in sorted order so overlapping sections cannot deadlock, and
// released on every exit path.
type LockManager struct {
	mu     sync.Mutex
	groups map[string]*sync.Mutex
}

func NewLockManager() *LockManager {
	return &LockManager{
		groups: make(map[string]*sync.Mutex),
	}
}

func (lm *LockManager) group(name string) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	g, ok := lm.groups[name]
	if !ok {
		g = &sync.Mutex{}
		lm.groups[name] = g
	}
	return g
}

// WithLock runs fn while holding every named resource group.
func (lm *LockManager) WithLock(groups []string, fn func() error) error {
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	sort.Strings(sorted)

	acquired := make([]*sync.Mutex, 0, len(sorted))
	for i, name := range sorted {
		if i > 0 && name == sorted[i-1] {
			continue
		}
		g := lm.group(name)
		g.Lock()
		acquired = append(acquired, g)
	}
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}()

	return fn()
}
