/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package object implements the Java object model: reference-counted
// objects with a well-defined owning thread, and the per-thread
// LocalHeap that is the only path through which a thread may touch
// one. Cross-thread access is arranged by exchanging OpMessages with
// the broker (package broker); this package only ever produces those
// messages, it never sends them - sending is the owning thread's job,
// keeping object free of any dependency on the broker or thread
// packages.
package object

import (
	"jvmbroker/classloader"
	"jvmbroker/monitor"
)

// ObjectId is a handle unique across every thread of one VM (all of a
// VM's heaps draw from one shared IDCounter). A 64-bit counter is
// used so the VM never has to consider id reuse racing a stale
// reference.
type ObjectId uint64

// Tid aliases the broker/thread id type so this package doesn't force
// every caller to import monitor just to spell a thread id.
type Tid = monitor.Tid

// AccessMode governs how access_object interacts with an object's
// monitor. MonitorPriority is used only when resuming a thread that
// called wait() and must be served ahead of ordinary Monitor
// requesters.
type AccessMode int

const (
	Normal AccessMode = iota
	MonitorMode
	MonitorPriority
)

// Op names the cross-thread object operations the broker forwards.
type Op int

const (
	OpAddRef Op = iota
	OpRelease
	OpOwn
	OpDisown
	// OpWhoOwns asks the broker who currently owns an object; only the
	// broker answers it (LocalHeap never sees one cross a thread's
	// inbound channel as a request to apply), so it has no
	// LocalHeap.HandleMessage case - only a reply case, carrying Owner.
	OpWhoOwns
)

// OpMessage is an object operation in flight between a thread and the
// broker (or, after the broker resolves current ownership, between
// the broker and the owning thread). Only the fields relevant to Op
// are populated.
type OpMessage struct {
	Src     Tid
	Oid     ObjectId
	Op      Op
	Mode    AccessMode // OpOwn
	Rec     Tid        // OpDisown: receiving thread
	Payload *Object    // OpDisown: the object itself, travels with the message
	Owner   Tid        // OpWhoOwns reply: the current owner (0 means the broker)
}

// Object is a live Java object: a class reference, field storage, a
// refcount, and an embedded monitor. Field storage is a flat cell
// array (one uint32 per field, 64-bit values spanning two adjacent
// cells) regardless of declared type, matching the constant pool's
// own two-slot rule for long/double.
type Object struct {
	ID       ObjectId
	RefCount int
	Class    *classloader.Class
	Fields   []uint32
	Mon      *monitor.Monitor
}

func newObject(class *classloader.Class, id ObjectId, fieldCells int) *Object {
	return &Object{
		ID:       id,
		RefCount: 1,
		Class:    class,
		Fields:   make([]uint32, fieldCells),
		Mon:      monitor.New(),
	}
}

// At returns the value of field cell i.
func (o *Object) At(i int) uint32 { return o.Fields[i] }

// SetAt sets the value of field cell i.
func (o *Object) SetAt(i int, v uint32) { o.Fields[i] = v }
