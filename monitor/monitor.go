/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package monitor implements a Java intrinsic lock: lock_count,
// owner, an outside waiting queue, and a priority (notified wait())
// queue. Every operation is non-blocking - a Monitor only tracks
// state, it never parks a goroutine. Blocking on monitor availability
// is the owning LocalHeap/thread's job (see package object), exactly
// as the original implementation's own note puts it: "the monitor
// itself has only non-blocking APIs".
package monitor

// Tid is a thread id, matching the type used across the broker and
// object packages.
type Tid uint64

// waiterPrio is one entry of the notified-wait priority queue: whether
// the waiter has been notified yet, which thread it is, and the
// lock_count to restore once it reacquires the monitor.
type waiterPrio struct {
	notified  bool
	tid       Tid
	lockCount int
}

// Monitor is a Java monitor: at most one owner, a recursive lock
// count, and two waiting queues. The priority queue (wait()ers) is
// always served before the outside queue, and FIFO within each.
type Monitor struct {
	lockCount int
	owner     Tid
	hasOwner  bool

	waiters     []Tid
	waitersPrio []waiterPrio
}

// New returns an unlocked monitor.
func New() *Monitor {
	return &Monitor{}
}

// TryLock succeeds iff the monitor is unlocked or already owned by
// tid; on success it increments lock_count and sets owner.
func (m *Monitor) TryLock(tid Tid) bool {
	if m.hasOwner && m.owner != tid {
		return false
	}
	m.lockCount++
	m.owner = tid
	m.hasOwner = true
	return true
}

// Unlock decrements lock_count; when it reaches 0 the monitor becomes
// ownerless.
func (m *Monitor) Unlock(tid Tid) {
	if !m.hasOwner || m.owner != tid || m.lockCount == 0 {
		panic("monitor: unlock by non-owner")
	}
	m.lockCount--
	if m.lockCount == 0 {
		m.hasOwner = false
	}
}

// PushWaiter adds tid to the outside queue, or, if isNotify and tid
// already owns the monitor, to the priority queue as un-notified with
// the current lock_count saved for later restoration.
func (m *Monitor) PushWaiter(tid Tid, isNotify bool) {
	if isNotify {
		if !m.IsLockedBy(tid) {
			panic("monitor: wait() requires the monitor to be held")
		}
		m.waitersPrio = append(m.waitersPrio, waiterPrio{tid: tid, lockCount: m.lockCount})
		return
	}
	m.waiters = append(m.waiters, tid)
}

// WaitNoblock performs everything wait() does except the actual
// blocking: tid is appended to the priority queue un-notified,
// lock_count drops to 0, and the monitor becomes ownerless. The
// monitor must already be locked by tid.
func (m *Monitor) WaitNoblock(tid Tid) {
	m.PushWaiter(tid, true)
	m.lockCount = 0
	m.hasOwner = false
}

// NotifyOne flips the notified bit of the first un-notified entry in
// the priority queue, if any. The monitor must be locked by tid.
func (m *Monitor) NotifyOne(tid Tid) {
	if !m.IsLockedBy(tid) {
		panic("monitor: notify() requires the monitor to be held")
	}
	for i := range m.waitersPrio {
		if !m.waitersPrio[i].notified {
			m.waitersPrio[i].notified = true
			return
		}
	}
}

// NotifyAll flips the notified bit of every entry in the priority
// queue. The monitor must be locked by tid.
func (m *Monitor) NotifyAll(tid Tid) {
	if !m.IsLockedBy(tid) {
		panic("monitor: notifyAll() requires the monitor to be held")
	}
	for i := range m.waitersPrio {
		m.waitersPrio[i].notified = true
	}
}

// PopReadyWaiter returns the next waiter ready to (re)lock the
// monitor: None if the monitor is locked, else the head of the
// priority queue if it's notified, else the head of the outside
// queue. Priority queue is always checked first.
func (m *Monitor) PopReadyWaiter() (Tid, bool) {
	if m.IsLocked() {
		return 0, false
	}
	if len(m.waitersPrio) > 0 && m.waitersPrio[0].notified {
		tid := m.waitersPrio[0].tid
		m.waitersPrio = m.waitersPrio[1:]
		return tid, true
	}
	if len(m.waiters) > 0 {
		tid := m.waiters[0]
		m.waiters = m.waiters[1:]
		return tid, true
	}
	return 0, false
}

// IsLocked reports whether any thread currently holds the monitor.
func (m *Monitor) IsLocked() bool { return m.hasOwner }

// IsLockedBy reports whether tid currently holds the monitor.
func (m *Monitor) IsLockedBy(tid Tid) bool {
	return m.hasOwner && m.owner == tid
}

// CanBeLockedBy reports whether tid could successfully TryLock right
// now (the monitor is free, or tid already owns it - lock() is
// recursive).
func (m *Monitor) CanBeLockedBy(tid Tid) bool {
	return !m.hasOwner || m.owner == tid
}

// SavedLockCount returns the lock_count a notified waiter should
// restore on reacquiring the monitor after a wait noblock.
func (m *Monitor) SavedLockCount(tid Tid) (int, bool) {
	for _, w := range m.waitersPrio {
		if w.tid == tid {
			return w.lockCount, true
		}
	}
	return 0, false
}

// Restore sets lock_count/owner directly; used when a notified waiter
// reacquires the monitor with its saved count rather than going
// through TryLock's increment-by-one semantics.
func (m *Monitor) Restore(tid Tid, lockCount int) {
	m.owner = tid
	m.hasOwner = true
	m.lockCount = lockCount
}
