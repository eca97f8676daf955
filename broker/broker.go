/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package broker implements the ObjectBroker: a single goroutine that
// owns every cross-thread bookkeeping structure (the ownership map,
// the broker-owned object set, the per-thread outbound channels, and
// the transfer shelf) so that no two goroutines ever touch them
// concurrently. All cross-thread object access passes through it.
package broker

import (
	"jvmbroker/internal/log"
	"jvmbroker/internal/shutdown"
	"jvmbroker/monitor"
	"jvmbroker/object"
)

// Kind discriminates the broker's top-level message taxonomy
// (spec.md §4.5).
type Kind int

const (
	KindRemoteObjectOp Kind = iota
	KindRegister
	KindUnregister
	KindThreadRemoteOp
	KindVMToBroker
	KindShutdown
)

// ThreadRemoteOp names thread-level operations (join, termination
// notice, priority). The broker accepts KindThreadRemoteOp messages
// but takes no action on them; threadManager has no handler for these
// operations.
type ThreadRemoteOp int

const (
	ThreadJoin ThreadRemoteOp = iota
	ThreadNotifyTermination
	ThreadSetPriority
)

// VMOp names the control messages the VM sends the broker.
type VMOp int

const (
	VMDoShutdown VMOp = iota
	VMAckShutdown
)

// Message is the broker's single wire type. Only the fields relevant
// to Kind are populated - Go has no tagged union, and an
// interface-per-kind would force an equivalent type switch at every
// send and receive site anyway.
type Message struct {
	Kind Kind

	// KindRemoteObjectOp
	ObjectOp object.OpMessage

	// KindRegister
	RegTid  monitor.Tid
	RegName string
	RegChan chan Message

	// KindUnregister
	UnregTid     monitor.Tid
	UnregObjects map[object.ObjectId]*object.Object

	// KindThreadRemoteOp
	ThreadSrc monitor.Tid
	ThreadDst monitor.Tid
	ThreadOp  ThreadRemoteOp

	// KindVMToBroker
	VMOp VMOp

	// KindShutdown: thread-initiated (Src != 0) or broker-initiated.
	ShutdownSrc  monitor.Tid
	ShutdownCode int
}

type shutdownState int

const (
	notInShutdown shutdownState = iota
	shuttingDown
	shutDown
)

// Broker is the message-driven object ownership coordinator. Create
// one with New, then run its dispatch loop with Run in its own
// goroutine.
type Broker struct {
	vmChan chan<- VMMessage

	threads *threadManager

	ownersOf map[object.ObjectId]monitor.Tid // 0 means the broker itself
	owned    map[object.ObjectId]*object.Object

	threadChans map[monitor.Tid]chan Message
	inbound     chan Message

	shelf map[object.ObjectId][]Message

	state    shutdownState
	exitCode int
}

// VMMessage is the broker's half of the broker<->VM handshake
// (spec.md §4.5/§4.8): BrokerToVM(DidShutdown) is sent here once the
// shutdown protocol completes.
type VMMessage struct {
	DidShutdown bool
	ExitCode    int
}

// New creates a Broker and returns it along with the inbound channel
// callers (threads, the VM) use to send it messages.
func New(vmChan chan<- VMMessage) (*Broker, chan<- Message) {
	b := &Broker{
		vmChan:      vmChan,
		threads:     newThreadManager(),
		ownersOf:    make(map[object.ObjectId]monitor.Tid),
		owned:       make(map[object.ObjectId]*object.Object),
		threadChans: make(map[monitor.Tid]chan Message),
		inbound:     make(chan Message, 256),
		shelf:       make(map[object.ObjectId][]Message),
	}
	return b, b.inbound
}

// Run drives the dispatch loop until the VM acknowledges shutdown.
// It is meant to be the entire body of the broker's goroutine.
func (b *Broker) Run() {
	for {
		msg := <-b.inbound
		if !b.handle(msg) {
			return
		}
	}
}

// handle processes one message; it returns false only once the VM's
// AckShutdown has been received, telling Run to terminate the broker
// goroutine.
func (b *Broker) handle(msg Message) bool {
	switch msg.Kind {
	case KindRemoteObjectOp:
		b.handleObjectOp(msg.ObjectOp)

	case KindThreadRemoteOp:
		_ = msg.ThreadSrc // accepted and dropped; not passed on to threadManager.

	case KindVMToBroker:
		switch msg.VMOp {
		case VMDoShutdown:
			b.shutdownProtocol(shutdown.VMInitiated)
		case VMAckShutdown:
			return false
		}

	case KindShutdown:
		b.shutdownProtocol(msg.ShutdownCode)

	case KindRegister:
		b.threadChans[msg.RegTid] = msg.RegChan
		b.threads.AddThread(msg.RegTid, msg.RegName)
		_ = log.Log("broker: registered thread", log.FINEST)

	case KindUnregister:
		delete(b.threadChans, msg.UnregTid)
		for oid, obj := range msg.UnregObjects {
			b.owned[oid] = obj
			b.ownersOf[oid] = 0
		}
		b.threads.RemoveThread(msg.UnregTid)
		_ = log.Log("broker: unregistered thread", log.FINEST)
		if b.threads.State() == AllNonDaemonsDead {
			b.shutdownProtocol(shutdown.OK)
		}
	}
	return true
}

// handleObjectOp is the shelving-aware dispatcher for cross-thread
// object operations (spec.md §4.5).
func (b *Broker) handleObjectOp(op object.OpMessage) {
	if op.Op == object.OpDisown {
		b.finishDisown(op)
		return
	}
	if op.Op == object.OpWhoOwns {
		// WhoOwns is exempt from shelving (spec.md §4.5) and answered
		// immediately from the ownership map, whether or not a
		// transfer of oid is presently in flight.
		b.send(op.Src, Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{
			Oid: op.Oid, Op: object.OpWhoOwns, Owner: b.ownersOf[op.Oid],
		}})
		return
	}
	if _, transferring := b.shelf[op.Oid]; transferring {
		b.shelf[op.Oid] = append(b.shelf[op.Oid], Message{Kind: KindRemoteObjectOp, ObjectOp: op})
		return
	}

	switch op.Op {
	case object.OpAddRef:
		owner, known := b.ownersOf[op.Oid]
		if !known {
			b.ownersOf[op.Oid] = op.Src
			return
		}
		if owner == 0 {
			if obj, ok := b.owned[op.Oid]; ok {
				obj.RefCount++
			}
			return
		}
		b.send(owner, Message{Kind: KindRemoteObjectOp, ObjectOp: op})

	case object.OpRelease:
		owner := b.ownersOf[op.Oid]
		switch {
		case owner == op.Src:
			delete(b.ownersOf, op.Oid)
		case owner == 0:
			if obj, ok := b.owned[op.Oid]; ok {
				obj.RefCount--
				if obj.RefCount <= 0 {
					delete(b.owned, op.Oid)
				}
			}
		default:
			b.send(owner, Message{Kind: KindRemoteObjectOp, ObjectOp: op})
		}

	case object.OpOwn:
		owner := b.ownersOf[op.Oid]
		if owner == 0 {
			obj := b.owned[op.Oid]
			delete(b.owned, op.Oid)
			b.ownersOf[op.Oid] = op.Src
			b.send(op.Src, Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{
				Src: 0, Oid: op.Oid, Op: object.OpDisown, Rec: op.Src, Payload: obj,
			}})
			return
		}
		b.send(owner, Message{Kind: KindRemoteObjectOp, ObjectOp: op})
		b.shelf[op.Oid] = nil // begin shelving further requests for oid
	}
}

// finishDisown updates the ownership map, forwards the Disown to its
// recipient, and drains the shelf for this object in FIFO order,
// replaying each shelved message through the dispatcher again.
func (b *Broker) finishDisown(op object.OpMessage) {
	b.ownersOf[op.Oid] = op.Rec
	b.send(op.Rec, Message{Kind: KindRemoteObjectOp, ObjectOp: op})

	pending := b.shelf[op.Oid]
	delete(b.shelf, op.Oid)
	for _, m := range pending {
		b.handleObjectOp(m.ObjectOp)
	}
}

func (b *Broker) send(tid monitor.Tid, msg Message) {
	ch, ok := b.threadChans[tid]
	if !ok {
		return
	}
	ch <- msg
}

// shutdownProtocol runs spec.md §4.5's five-step sequence. The first
// trigger wins; subsequent calls (whatever their source) are no-ops.
func (b *Broker) shutdownProtocol(exitCode int) {
	if b.state != notInShutdown {
		return
	}
	_ = log.Log("broker: initiating shutdown", log.INFO)
	b.state = shuttingDown
	b.exitCode = exitCode

	for tid := range b.threadChans {
		b.send(tid, Message{Kind: KindShutdown, ShutdownCode: exitCode})
	}

	for len(b.threadChans) > 0 {
		msg := <-b.inbound
		switch msg.Kind {
		case KindUnregister:
			delete(b.threadChans, msg.UnregTid)
			for oid, obj := range msg.UnregObjects {
				b.owned[oid] = obj
				b.ownersOf[oid] = 0
			}
			b.threads.RemoveThread(msg.UnregTid)
		case KindShutdown, KindVMToBroker:
			// ignored while draining: a later shutdown trigger or a
			// premature ack must not interrupt this phase.
		default:
			b.handle(msg)
		}
	}

	b.state = shutDown
	b.vmChan <- VMMessage{DidShutdown: true, ExitCode: exitCode}
}
