/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package broker

import "jvmbroker/monitor"

// ThreadManagerState is the broker-local thread-population state
// machine (spec.md §4.6). Only the broker's own dispatch loop ever
// touches it.
type ThreadManagerState int

const (
	NoThreadSeenYet ThreadManagerState = iota
	Running
	AllNonDaemonsDead
)

// threadInfo is the metadata the broker keeps per registered thread,
// kept even after the thread stops so it stays queryable.
type threadInfo struct {
	tid      monitor.Tid
	name     string
	priority int
	daemon   bool
	stopped  bool
}

// threadManager tracks every thread that has ever registered with the
// broker and the count of currently alive non-daemon threads, whose
// count reaching zero is one of the shutdown triggers.
type threadManager struct {
	threads        map[monitor.Tid]*threadInfo
	aliveNonDaemon int
	state          ThreadManagerState
}

func newThreadManager() *threadManager {
	return &threadManager{threads: make(map[monitor.Tid]*threadInfo)}
}

// AddThread registers tid as alive and non-daemon by default.
func (tm *threadManager) AddThread(tid monitor.Tid, name string) {
	tm.threads[tid] = &threadInfo{tid: tid, name: name, priority: 5}
	tm.aliveNonDaemon++
	tm.state = Running
}

// SetDaemon marks tid as a daemon thread, decrementing the non-daemon
// count; if that was the last non-daemon, the state machine
// transitions to AllNonDaemonsDead.
func (tm *threadManager) SetDaemon(tid monitor.Tid, daemon bool) {
	info, ok := tm.threads[tid]
	if !ok || info.daemon == daemon {
		return
	}
	info.daemon = daemon
	if daemon {
		tm.aliveNonDaemon--
	} else {
		tm.aliveNonDaemon++
	}
	tm.recomputeState()
}

// RemoveThread marks tid stopped (its metadata is retained) and
// updates the non-daemon count and state machine.
func (tm *threadManager) RemoveThread(tid monitor.Tid) {
	info, ok := tm.threads[tid]
	if !ok || info.stopped {
		return
	}
	info.stopped = true
	if !info.daemon {
		tm.aliveNonDaemon--
	}
	tm.recomputeState()
}

func (tm *threadManager) recomputeState() {
	if tm.aliveNonDaemon <= 0 {
		tm.state = AllNonDaemonsDead
	} else {
		tm.state = Running
	}
}

// State returns the current state-machine value.
func (tm *threadManager) State() ThreadManagerState { return tm.state }

// Info returns the retained metadata for tid, if it was ever
// registered.
func (tm *threadManager) Info(tid monitor.Tid) (*threadInfo, bool) {
	info, ok := tm.threads[tid]
	return info, ok
}
