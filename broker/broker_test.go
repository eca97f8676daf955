package broker

import (
	"testing"
	"time"

	"jvmbroker/monitor"
	"jvmbroker/object"
)

func newTestBroker() (*Broker, chan<- Message, chan VMMessage) {
	vmChan := make(chan VMMessage, 4)
	b, in := New(vmChan)
	return b, in, vmChan
}

func registerThread(b *Broker, in chan<- Message, tid monitor.Tid) chan Message {
	ch := make(chan Message, 16)
	in <- Message{Kind: KindRegister, RegTid: tid, RegChan: ch}
	return ch
}

func recvWithTimeout(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broker message")
		return Message{}
	}
}

func TestAddRefEstablishesFirstOwner(t *testing.T) {
	b, in, _ := newTestBroker()
	go b.Run()
	defer func() { in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown} }()

	registerThread(b, in, 1)
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 42, Op: object.OpAddRef}}
	// Ownership bookkeeping is internal broker state; exercised
	// observably by TestOwnRequestForwardsToCurrentOwnerAndShelves.
}

func TestOwnRequestForwardsToCurrentOwnerAndShelves(t *testing.T) {
	b, in, _ := newTestBroker()
	go b.Run()
	defer func() { in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown} }()

	chA := registerThread(b, in, 1)
	chB := registerThread(b, in, 2)
	_ = chA

	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 100, Op: object.OpAddRef}}

	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 2, Oid: 100, Op: object.OpOwn, Mode: object.Normal}}

	msg := recvWithTimeout(t, chA)
	if msg.Kind != KindRemoteObjectOp || msg.ObjectOp.Op != object.OpOwn || msg.ObjectOp.Src != 2 {
		t.Fatalf("thread 1 should receive the forwarded Own request, got %+v", msg)
	}

	obj := &object.Object{ID: 100}
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 100, Op: object.OpDisown, Rec: 2, Payload: obj}}

	msg = recvWithTimeout(t, chB)
	if msg.Kind != KindRemoteObjectOp || msg.ObjectOp.Op != object.OpDisown || msg.ObjectOp.Payload != obj {
		t.Fatalf("thread 2 should receive the Disown with the object payload, got %+v", msg)
	}
}

func TestOwnWhenBrokerOwnsSendsDisownImmediately(t *testing.T) {
	b, in, _ := newTestBroker()
	go b.Run()
	defer func() { in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown} }()

	chA := registerThread(b, in, 1)

	// Simulate the broker already owning oid 200 (e.g. via an earlier
	// Unregister) by unregistering a thread that held it.
	registerThread(b, in, 9)
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 9, Oid: 200, Op: object.OpAddRef}}
	in <- Message{Kind: KindUnregister, UnregTid: 9, UnregObjects: map[object.ObjectId]*object.Object{
		200: {ID: 200},
	}}

	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 200, Op: object.OpOwn, Mode: object.Normal}}

	msg := recvWithTimeout(t, chA)
	if msg.Kind != KindRemoteObjectOp || msg.ObjectOp.Op != object.OpDisown || msg.ObjectOp.Rec != 1 {
		t.Fatalf("expected immediate Disown from broker, got %+v", msg)
	}
}

func TestWhoOwnsRepliesWithCurrentOwner(t *testing.T) {
	b, in, _ := newTestBroker()
	go b.Run()
	defer func() { in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown} }()

	chA := registerThread(b, in, 1)
	chB := registerThread(b, in, 2)

	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 77, Op: object.OpAddRef}}
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 2, Oid: 77, Op: object.OpWhoOwns}}

	msg := recvWithTimeout(t, chB)
	if msg.Kind != KindRemoteObjectOp || msg.ObjectOp.Op != object.OpWhoOwns || msg.ObjectOp.Owner != 1 {
		t.Fatalf("expected WhoOwns reply naming owner 1, got %+v", msg)
	}

	select {
	case m := <-chA:
		t.Fatalf("owner should not receive anything for a WhoOwns query, got %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWhoOwnsIsExemptFromShelving(t *testing.T) {
	b, in, _ := newTestBroker()
	go b.Run()
	defer func() { in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown} }()

	chA := registerThread(b, in, 1)
	registerThread(b, in, 2)
	chC := registerThread(b, in, 3)

	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 1, Oid: 55, Op: object.OpAddRef}}
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 2, Oid: 55, Op: object.OpOwn, Mode: object.Normal}}
	recvWithTimeout(t, chA) // drain the forwarded Own; oid 55 is now shelving

	// A WhoOwns sent while the transfer is in flight must still be
	// answered immediately, not queued behind the pending Disown.
	in <- Message{Kind: KindRemoteObjectOp, ObjectOp: object.OpMessage{Src: 3, Oid: 55, Op: object.OpWhoOwns}}

	msg := recvWithTimeout(t, chC)
	if msg.Kind != KindRemoteObjectOp || msg.ObjectOp.Op != object.OpWhoOwns || msg.ObjectOp.Owner != 1 {
		t.Fatalf("expected immediate WhoOwns reply naming the pre-transfer owner 1, got %+v", msg)
	}
}

func TestUnregisterLastNonDaemonTriggersShutdown(t *testing.T) {
	b, in, vmChan := newTestBroker()
	go b.Run()

	registerThread(b, in, 1)

	// Once the last non-daemon unregisters, there's no thread left to
	// broadcast Shutdown to, so the protocol drains instantly and
	// notifies the VM directly.
	in <- Message{Kind: KindUnregister, UnregTid: 1, UnregObjects: nil}

	select {
	case vm := <-vmChan:
		if !vm.DidShutdown || vm.ExitCode != 0 {
			t.Fatalf("vm message = %+v, want DidShutdown(0)", vm)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DidShutdown")
	}

	in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown}
}

func TestUnregisterWaitsForLastNonDaemonBeforeShutdown(t *testing.T) {
	b, in, vmChan := newTestBroker()
	go b.Run()

	registerThread(b, in, 1)
	chB := registerThread(b, in, 2)

	// Thread 1 unregisters first, but thread 2 is still alive, so no
	// shutdown should trigger yet.
	in <- Message{Kind: KindUnregister, UnregTid: 1, UnregObjects: nil}

	select {
	case <-chB:
		t.Fatal("did not expect a Shutdown broadcast while a non-daemon remains")
	case <-time.After(100 * time.Millisecond):
	}

	in <- Message{Kind: KindUnregister, UnregTid: 2, UnregObjects: nil}

	select {
	case vm := <-vmChan:
		if !vm.DidShutdown || vm.ExitCode != 0 {
			t.Fatalf("vm message = %+v, want DidShutdown(0)", vm)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DidShutdown")
	}

	in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown}
}

func TestVMInitiatedShutdownUsesReservedExitCode(t *testing.T) {
	b, in, vmChan := newTestBroker()
	go b.Run()

	ch := registerThread(b, in, 1)
	in <- Message{Kind: KindVMToBroker, VMOp: VMDoShutdown}

	shutdownMsg := recvWithTimeout(t, ch)
	if shutdownMsg.Kind != KindShutdown || shutdownMsg.ShutdownCode != -150392 {
		t.Fatalf("shutdownMsg = %+v, want Shutdown(-150392)", shutdownMsg)
	}

	// thread 1 must unregister before the protocol completes
	in <- Message{Kind: KindUnregister, UnregTid: 1, UnregObjects: nil}

	select {
	case vm := <-vmChan:
		if vm.ExitCode != -150392 {
			t.Fatalf("ExitCode = %d, want -150392", vm.ExitCode)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for DidShutdown")
	}

	in <- Message{Kind: KindVMToBroker, VMOp: VMAckShutdown}
}
