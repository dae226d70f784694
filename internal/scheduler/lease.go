package scheduler

import (
	"sync"

	"github.com/radiosonde-watch/autorx/internal/sdr"
)

// leaseTable tracks which consumer currently owns each receiver. A receiver
// is leased to at most one owner; the scan sweep and every decode session
// acquire a lease before launching their external process.
type leaseTable struct {
	mu     sync.Mutex
	owners map[string]string // receiver ID -> owner ID
}

func newLeaseTable() *leaseTable {
	return &leaseTable{owners: make(map[string]string)}
}

// Acquire leases the receiver to owner. It returns false when the receiver is
// already leased to someone else; re-acquiring an own lease succeeds.
func (t *leaseTable) Acquire(rx *sdr.Receiver, owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, leased := t.owners[rx.ID()]
	if leased && current != owner {
		return false
	}

	t.owners[rx.ID()] = owner
	return true
}

// Release frees the receiver if owner holds its lease. Releasing a lease held
// by someone else is a no-op.
func (t *leaseTable) Release(rx *sdr.Receiver, owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.owners[rx.ID()] == owner {
		delete(t.owners, rx.ID())
	}
}

// Owner returns the current lease holder, or an empty string when free.
func (t *leaseTable) Owner(rx *sdr.Receiver) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owners[rx.ID()]
}

// Free reports whether the receiver is unleased.
func (t *leaseTable) Free(rx *sdr.Receiver) bool {
	return t.Owner(rx) == ""
}
