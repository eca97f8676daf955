/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package vmthread implements the per-thread execution context: a
// unique id, a LocalHeap, the broker inbound/outbound connection, an
// operand stack, a frame list, and the lifecycle that registers with
// the broker on construction and unregisters on termination.
package vmthread

import (
	"fmt"

	"jvmbroker/broker"
	"jvmbroker/classloader"
	"jvmbroker/internal/log"
	"jvmbroker/monitor"
	"jvmbroker/object"
)

// FrameInfo is one entry of a thread's call stack. Bytecode
// interpretation itself is out of scope (see StepFunc); this just
// tracks enough to let a caller-supplied interpreter save/restore its
// position across calls.
type FrameInfo struct {
	PC         int
	OpStackPos int
	LocalsPos  int
}

// StepFunc executes exactly one bytecode operation (or whatever unit
// of work the embedding interpreter defines) for t, returning false
// once the thread has nothing left to run. The coordination contract
// this package implements (registration, message handling, shutdown)
// is independent of how bytecode is actually interpreted, so the step
// itself is left to the caller - matching spec.md's decision to stub
// bytecode execution behind a pluggable function rather than building
// a full interpreter.
type StepFunc func(t *Thread) bool

// Entry is a thread's startup entry point.
type Entry struct {
	ClassName  string
	MethodName string
	This       *object.Object // nil for a static entry point
}

// Thread is a single execution context: interprets bytecode (via
// Step), owns a LocalHeap, and communicates with the broker.
type Thread struct {
	tid  monitor.Tid
	Heap *object.LocalHeap

	inbound   chan broker.Message
	brokerOut chan<- broker.Message

	loader classloader.ClassLoader
	entry  Entry
	Step   StepFunc

	OpStack []uint32
	Locals  []uint32
	Frames  []FrameInfo

	vmWasShutdown bool
	daemon        bool
}

// New constructs a thread and registers it with the broker. tid must
// be drawn from the VM's atomic counter (0 is reserved for the
// broker); idCounter must be the VM-wide object id source so that
// object ids never collide across threads spawned by the same VM.
func New(tid monitor.Tid, brokerOut chan<- broker.Message, loader classloader.ClassLoader, idCounter *object.IDCounter, entry Entry, step StepFunc) *Thread {
	inbound := make(chan broker.Message, 64)
	t := &Thread{
		tid:       tid,
		inbound:   inbound,
		brokerOut: brokerOut,
		loader:    loader,
		entry:     entry,
		Step:      step,
	}
	t.Heap = object.NewLocalHeap(tid, idCounter)
	brokerOut <- broker.Message{Kind: broker.KindRegister, RegTid: tid, RegChan: inbound}
	return t
}

// Tid returns this thread's unique id.
func (t *Thread) Tid() monitor.Tid { return t.tid }

// Entry returns the thread's startup entry point.
func (t *Thread) Entry() Entry { return t.entry }

// Loader returns the class loader this thread resolves classes
// through.
func (t *Thread) Loader() classloader.ClassLoader { return t.loader }

// SendMessage forwards msg to the broker without blocking on a reply.
func (t *Thread) SendMessage(msg broker.Message) {
	t.brokerOut <- msg
}

// SetDaemon records the daemon flag on this Thread only. The broker is
// not told, so its non-daemon liveness count still includes this
// thread.
func (t *Thread) SetDaemon(daemon bool) { t.daemon = daemon }

// HandleMessagesUntil blocks, dispatching inbound broker messages,
// until pred returns true for one of them (that message is still
// dispatched before the loop exits) or the VM shuts down. It returns
// false if the loop ended because of shutdown, in which case the
// caller must not proceed to run user code.
func (t *Thread) HandleMessagesUntil(pred func(broker.Message) bool) bool {
	for {
		msg := <-t.inbound
		stop := pred(msg)
		t.dispatch(msg)
		if stop || t.vmWasShutdown {
			break
		}
	}
	return !t.vmWasShutdown
}

// pollMessages drains every message currently queued without
// blocking, applying each one. Called between bytecode steps.
func (t *Thread) pollMessages() {
	for {
		select {
		case msg := <-t.inbound:
			t.dispatch(msg)
		default:
			return
		}
	}
}

func (t *Thread) dispatch(msg broker.Message) {
	switch msg.Kind {
	case broker.KindShutdown:
		t.vmWasShutdown = true

	case broker.KindRemoteObjectOp:
		out, err := t.Heap.HandleMessage(msg.ObjectOp)
		if err != nil {
			_ = log.Log(fmt.Sprintf("thread %d: object op error: %v", t.tid, err), log.WARNING)
			return
		}
		if out != nil {
			t.brokerOut <- broker.Message{Kind: broker.KindRemoteObjectOp, ObjectOp: *out}
		}

	case broker.KindThreadRemoteOp:
		// Thread join/notify/priority plumbing is ThreadManager's
		// concern; this thread only needs to not choke on receiving one.

	default:
		_ = log.Log(fmt.Sprintf("thread %d: unexpected message kind %v", t.tid, msg.Kind), log.WARNING)
	}
}

// AccessObject is LocalHeap.access_object lifted to thread level,
// since satisfying a remote request requires driving the broker
// conversation (spec.md §4.4): try the access locally, and if the
// object isn't here yet, ask the broker to own it and block until it
// arrives, then retry.
func (t *Thread) AccessObject(oid object.ObjectId, mode object.AccessMode, fn func(*object.Object)) bool {
	for {
		result := t.Heap.TryAccessLocal(oid, mode, fn)
		if result.Ran {
			if result.Handoff != nil {
				t.brokerOut <- broker.Message{Kind: broker.KindRemoteObjectOp, ObjectOp: *result.Handoff}
			}
			return true
		}

		t.brokerOut <- broker.Message{Kind: broker.KindRemoteObjectOp, ObjectOp: t.Heap.RequestOwn(oid, mode)}
		ok := t.HandleMessagesUntil(func(msg broker.Message) bool {
			return msg.Kind == broker.KindRemoteObjectOp &&
				msg.ObjectOp.Op == object.OpDisown &&
				msg.ObjectOp.Oid == oid
		})
		if !ok {
			return false
		}
	}
}

// Run executes the thread's step loop until Step reports it's done or
// the VM shuts down, then unregisters. Run is meant to be the entire
// body of the thread's goroutine; a panic inside Step is recovered so
// one thread's failure can never abort another's.
func (t *Thread) Run() {
	defer t.die()
	defer func() {
		if r := recover(); r != nil {
			_ = log.Log(fmt.Sprintf("thread %d: recovered panic: %v", t.tid, r), log.SEVERE)
		}
	}()

	for !t.vmWasShutdown {
		t.pollMessages()
		if t.vmWasShutdown {
			break
		}
		if t.Step == nil || !t.Step(t) {
			break
		}
	}
}

// die sends Unregister with every object still in this thread's heap,
// handing them to the broker. Unlike the implementation this was
// adapted from, Unregister is sent unconditionally on termination -
// including after a VM-initiated shutdown - so the broker's shutdown
// protocol can always observe every thread unregistering.
func (t *Thread) die() {
	t.brokerOut <- broker.Message{
		Kind:         broker.KindUnregister,
		UnregTid:     t.tid,
		UnregObjects: t.Heap.Drain(),
	}
}
