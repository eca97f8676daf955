/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package object

import (
	"fmt"
	"sync/atomic"

	"jvmbroker/classloader"
)

// LocalHeap is a thread-local utility for creating, destroying, and
// accessing Java objects; it is the only path by which its owning
// thread may touch one. Unlike the implementation this was adapted
// from, LocalHeap holds no back-pointer to its owning thread - it
// keeps only the thread's tid and returns the messages it produces
// for the thread to send, avoiding the original's documented
// unsafe-pointer workaround.
type LocalHeap struct {
	tid   Tid
	owned map[ObjectId]*Object

	nextID *IDCounter
}

// IDCounter hands out unique ids. It is shared (via a pointer) across
// every LocalHeap created from the same VM so ids never collide
// across threads, matching spec.md's per-VM (not process-wide)
// id-counter decision. NewObject on one thread's heap can race
// NewObject on another's, so the counter itself must be atomic even
// though each heap's map is only ever touched by its owning thread.
type IDCounter struct {
	next atomic.Uint64
}

func (c *IDCounter) draw() ObjectId {
	return ObjectId(c.next.Add(1))
}

// NewIDCounter creates a fresh id source; a VM creates exactly one and
// shares it with every LocalHeap it spawns.
func NewIDCounter() *IDCounter { return &IDCounter{} }

// NewLocalHeap creates an empty heap for the thread identified by tid,
// drawing object ids from counter.
func NewLocalHeap(tid Tid, counter *IDCounter) *LocalHeap {
	return &LocalHeap{tid: tid, owned: make(map[ObjectId]*Object), nextID: counter}
}

// fieldCellCount returns how many uint32 cells a class's own declared
// fields require, per the layout classloader.buildFields assigns at
// load time. class is nil for objects that carry no declared fields
// of their own (e.g. synthetic internal objects), which allocates a
// zero-length field array.
func fieldCellCount(class *classloader.Class) int {
	if class == nil {
		return 0
	}
	return class.FieldCells
}

// NewObject draws a fresh id, registers it with the broker via the
// returned AddRef message (establishing this thread as owner), and
// inserts the object into the local map. The initial refcount is 1.
func (h *LocalHeap) NewObject(class *classloader.Class) (ObjectId, OpMessage) {
	id := h.nextID.draw()
	obj := newObject(class, id, fieldCellCount(class))
	h.owned[id] = obj
	return id, OpMessage{Src: h.tid, Oid: id, Op: OpAddRef}
}

// AddRef increments an object's refcount if it's locally owned;
// otherwise it returns a message the caller must forward to the
// broker.
func (h *LocalHeap) AddRef(oid ObjectId) (forward *OpMessage) {
	if obj, ok := h.owned[oid]; ok {
		obj.RefCount++
		return nil
	}
	return &OpMessage{Src: h.tid, Oid: oid, Op: OpAddRef}
}

// Release drops an object's refcount if it's locally owned, deleting
// it from the heap once the count reaches zero; otherwise it returns
// a message the caller must forward to the broker.
func (h *LocalHeap) Release(oid ObjectId) (forward *OpMessage) {
	obj, ok := h.owned[oid]
	if !ok {
		return &OpMessage{Src: h.tid, Oid: oid, Op: OpRelease}
	}
	obj.RefCount--
	if obj.RefCount <= 0 {
		delete(h.owned, oid)
	}
	return nil
}

// Get returns a locally owned object, if any.
func (h *LocalHeap) Get(oid ObjectId) (*Object, bool) {
	obj, ok := h.owned[oid]
	return obj, ok
}

// monitorPrecondition reports whether mode's monitor requirement is
// currently satisfied for this thread against obj.
func monitorPrecondition(obj *Object, tid Tid, mode AccessMode) bool {
	switch mode {
	case Normal:
		return true
	case MonitorMode, MonitorPriority:
		return obj.Mon.CanBeLockedBy(tid)
	default:
		return false
	}
}

// AccessResult reports the outcome of a TryAccessLocal call: whether
// the closure ran, and - if running it left the monitor free with a
// ready waiter - the Disown message the caller must forward to hand
// the object to that waiter.
type AccessResult struct {
	Ran     bool
	Handoff *OpMessage
}

// TryAccessLocal runs fn against oid if it is locally owned and mode's
// monitor precondition holds. After the closure returns, if the
// monitor now has a ready waiter, the object is hanhded off: removed
// from this heap and a Disown message is returned for the caller to
// send. If the object isn't locally owned, or the monitor precondition
// fails, Ran is false and the caller must fall back to requesting
// ownership from the broker.
func (h *LocalHeap) TryAccessLocal(oid ObjectId, mode AccessMode, fn func(*Object)) AccessResult {
	obj, ok := h.owned[oid]
	if !ok {
		return AccessResult{}
	}
	if !monitorPrecondition(obj, h.tid, mode) {
		return AccessResult{}
	}

	fn(obj)

	if tid, ready := obj.Mon.PopReadyWaiter(); ready {
		delete(h.owned, oid)
		return AccessResult{Ran: true, Handoff: &OpMessage{Src: h.tid, Oid: oid, Op: OpDisown, Rec: tid, Payload: obj}}
	}
	return AccessResult{Ran: true}
}

// RequestOwn builds the Own(mode) request a thread sends to the
// broker once TryAccessLocal reports the object isn't available
// locally.
func (h *LocalHeap) RequestOwn(oid ObjectId, mode AccessMode) OpMessage {
	return OpMessage{Src: h.tid, Oid: oid, Op: OpOwn, Mode: mode}
}

// SendToThread removes oid from this heap and returns the Disown
// message the caller must forward to transfer it to tid.
func (h *LocalHeap) SendToThread(oid ObjectId, tid Tid) (OpMessage, error) {
	obj, ok := h.owned[oid]
	if !ok {
		return OpMessage{}, fmt.Errorf("object %d not owned by this heap", oid)
	}
	delete(h.owned, oid)
	return OpMessage{Src: h.tid, Oid: oid, Op: OpDisown, Rec: tid, Payload: obj}, nil
}

// HandleMessage applies an incoming object operation the broker
// forwarded to this thread. It returns any outbound message the
// caller must in turn send: the Disown for an Own request that is
// satisfied immediately. An Own request that queues behind a held
// monitor returns no outbound message.
func (h *LocalHeap) HandleMessage(msg OpMessage) (outbound *OpMessage, err error) {
	switch msg.Op {
	case OpAddRef:
		obj, ok := h.owned[msg.Oid]
		if !ok {
			return nil, fmt.Errorf("AddRef for unowned object %d", msg.Oid)
		}
		obj.RefCount++
		return nil, nil

	case OpRelease:
		obj, ok := h.owned[msg.Oid]
		if !ok {
			return nil, fmt.Errorf("Release for unowned object %d", msg.Oid)
		}
		obj.RefCount--
		if obj.RefCount <= 0 {
			delete(h.owned, msg.Oid)
		}
		return nil, nil

	case OpOwn:
		obj, ok := h.owned[msg.Oid]
		if !ok {
			return nil, fmt.Errorf("Own request for unowned object %d", msg.Oid)
		}
		if msg.Mode != Normal && obj.Mon.IsLocked() {
			// the monitor is held (by this object's current owner,
			// h - monitor and ownership are always coupled): queue
			// the requester on the outside queue rather than
			// transferring now. PushWaiter's notify flag is only for
			// a thread resuming its own wait() call, which a remote
			// requester never is.
			obj.Mon.PushWaiter(msg.Src, false)
			return nil, nil
		}
		disown, err := h.SendToThread(msg.Oid, msg.Src)
		if err != nil {
			return nil, err
		}
		return &disown, nil

	case OpDisown:
		if msg.Rec != h.tid {
			return nil, fmt.Errorf("Disown addressed to %d received by %d", msg.Rec, h.tid)
		}
		if msg.Payload == nil {
			return nil, fmt.Errorf("Disown for object %d carries no payload", msg.Oid)
		}
		h.owned[msg.Oid] = msg.Payload
		return nil, nil

	case OpWhoOwns:
		// A WhoOwns reply carries its answer in msg.Owner for the
		// caller that issued the request; LocalHeap has no state to
		// update for it.
		return nil, nil

	default:
		return nil, fmt.Errorf("unrecognized object op %d", msg.Op)
	}
}

// InsertOwned installs obj (received via Disown) into this heap.
func (h *LocalHeap) InsertOwned(obj *Object) {
	h.owned[obj.ID] = obj
}

// Drain empties the heap and returns everything it held, for handing
// off to the broker when a thread terminates (spec.md §4.5's
// Unregister carries every object the dying thread still owned).
func (h *LocalHeap) Drain() map[ObjectId]*Object {
	drained := h.owned
	h.owned = make(map[ObjectId]*Object)
	return drained
}
