package lifecycle

import (
	"fmt"
	"net"
	"sync"

	"forge/internal/domain"
)

// PortAllocator hands out unique host ports above a configured base,
// keyed by (projectSlug, deploymentID), so a restart can recover prior
// assignments via Restore.
type PortAllocator struct {
	mu       sync.Mutex
	base     int
	next     int
	byKey    map[string]int
	reserved map[int]bool
}

// NewPortAllocator starts handing out ports at base (inclusive).
func NewPortAllocator(base int) *PortAllocator {
	if base <= 0 {
		base = 20000
	}
	return &PortAllocator{
		base:     base,
		next:     base,
		byKey:    make(map[string]int),
		reserved: make(map[int]bool),
	}
}

func key(projectSlug, deploymentID string) string {
	return projectSlug + "/" + deploymentID
}

// Allocate returns an existing assignment for (projectSlug, deploymentID)
// if one exists, otherwise picks the next free port starting from base,
// skipping ports already bound on the host.
func (a *PortAllocator) Allocate(projectSlug, deploymentID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key(projectSlug, deploymentID)
	if p, ok := a.byKey[k]; ok {
		return p, nil
	}

	for attempts := 0; attempts < 10000; attempts++ {
		candidate := a.next
		a.next++
		if a.reserved[candidate] {
			continue
		}
		if !portFree(candidate) {
			continue
		}
		a.reserved[candidate] = true
		a.byKey[k] = candidate
		return candidate, nil
	}
	return 0, fmt.Errorf("no free host port found starting from %d", a.base)
}

// Release frees a port assignment once its container is removed.
func (a *PortAllocator) Release(projectSlug, deploymentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key(projectSlug, deploymentID)
	if p, ok := a.byKey[k]; ok {
		delete(a.reserved, p)
		delete(a.byKey, k)
	}
}

// Restore seeds the allocator with port assignments loaded from the store,
// so a restarted process doesn't hand out a port already in use.
func (a *PortAllocator) Restore(allocations []domain.PortAllocation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, alloc := range allocations {
		k := key(alloc.ProjectSlug, alloc.DeploymentID)
		a.byKey[k] = alloc.HostPort
		a.reserved[alloc.HostPort] = true
		if alloc.HostPort >= a.next {
			a.next = alloc.HostPort + 1
		}
	}
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
