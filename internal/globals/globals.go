/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package globals holds the process-wide configuration that every
// other package reads but nothing but the CLI writes: classpath
// string, starting class, parsed app arguments, and the per-VM
// thread-id generator the vm package mints thread ids from.
package globals

import "sync/atomic"

// IDCounters hands out the monotonic thread ids spec'd for spawning
// Java threads. One instance is owned per VM instance (see vm.New)
// rather than being a single process-wide singleton, so that multiple
// VMs in one process do not share an id space. Thread ids start at 1;
// 0 is reserved for the broker. Object ids are a separate counter
// (object.IDCounter), since objects are created far more often than
// threads and the object package has no reason to depend on globals.
type IDCounters struct {
	threads atomic.Uint64
}

// NewIDCounters returns a fresh set of counters with the thread
// counter seeded so the first NextThreadID() call returns 1.
func NewIDCounters() *IDCounters {
	c := &IDCounters{}
	return c
}

// NextThreadID returns the next unique, monotonically increasing
// thread id, starting at 1.
func (c *IDCounters) NextThreadID() uint64 {
	return c.threads.Add(1)
}

// Globals is the VM-wide configuration derived from the CLI and
// environment. It is deliberately a plain struct (not interfaces or
// accessors) in the teacher's own style of exposing a single Global
// value that packages read directly.
type Globals struct {
	VMName        string
	Version       string
	Classpath     string
	StartingClass string
	AppArgs       []string
	CommandLine   string
	ExitNow       bool
}

// InitGlobals builds a Globals value with sane defaults. vmName is
// typically os.Args[0].
func InitGlobals(vmName string) Globals {
	return Globals{
		VMName:  vmName,
		Version: "0.1.0",
	}
}

var globalRef *Globals

// InitGlobalsSingleton stashes g as the process-wide Globals instance,
// retrievable via GetGlobalRef. Used by cmd/jvmbroker at startup; most
// other code should prefer having Globals passed explicitly.
func InitGlobalsSingleton(g *Globals) {
	globalRef = g
}

// GetGlobalRef returns the singleton set up by InitGlobalsSingleton,
// or nil if it was never called (e.g. in unit tests that construct
// their own Globals value directly).
func GetGlobalRef() *Globals {
	return globalRef
}
