package broker

import "testing"

func TestThreadManagerStateTransitions(t *testing.T) {
	tm := newThreadManager()
	if tm.State() != NoThreadSeenYet {
		t.Fatalf("initial state = %v, want NoThreadSeenYet", tm.State())
	}

	tm.AddThread(1, "main")
	if tm.State() != Running {
		t.Fatalf("state after AddThread = %v, want Running", tm.State())
	}

	tm.RemoveThread(1)
	if tm.State() != AllNonDaemonsDead {
		t.Fatalf("state after last non-daemon removed = %v, want AllNonDaemonsDead", tm.State())
	}

	tm.AddThread(2, "worker")
	if tm.State() != Running {
		t.Fatalf("state after new non-daemon = %v, want Running", tm.State())
	}
}

func TestSetDaemonCanTriggerAllNonDaemonsDead(t *testing.T) {
	tm := newThreadManager()
	tm.AddThread(1, "main")
	tm.SetDaemon(1, true)
	if tm.State() != AllNonDaemonsDead {
		t.Fatalf("state = %v, want AllNonDaemonsDead once the only thread becomes a daemon", tm.State())
	}
}

func TestRemovedThreadMetadataStillQueryable(t *testing.T) {
	tm := newThreadManager()
	tm.AddThread(1, "main")
	tm.RemoveThread(1)

	info, ok := tm.Info(1)
	if !ok {
		t.Fatal("expected retained metadata for a stopped thread")
	}
	if !info.stopped {
		t.Fatal("expected info.stopped to be true")
	}
}
