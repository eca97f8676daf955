/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package vm is the public entry point: a VM owns exactly one broker
// goroutine and one class loader, and lets a caller spawn threads,
// trigger shutdown, and observe the resulting exit code (spec.md
// §4.8).
package vm

import (
	"jvmbroker/broker"
	"jvmbroker/classloader"
	"jvmbroker/classpath"
	"jvmbroker/internal/globals"
	"jvmbroker/internal/log"
	"jvmbroker/monitor"
	"jvmbroker/object"
	"jvmbroker/vmthread"
)

// VM has a well-defined lifecycle: CREATED -> RUNNING -> EXITED.
// CREATED is the state right after New, before RunThread has been
// called. RUNNING persists while at least one non-daemon thread is
// alive. EXITED is reached once the last non-daemon thread terminates,
// Java code calls System.exit(), or Exit is invoked on the VM.
type VM struct {
	brokerChan chan<- broker.Message
	vmChan     chan broker.VMMessage

	loader  classloader.ClassLoader
	idCount *object.IDCounter
	ids     *globals.IDCounters

	exitCode int
	exited   bool
}

// New creates a VM rooted at the given classpath and launches its
// broker goroutine. The broker, not the VM, is the ultimate owner of
// every Java object once its owning thread terminates.
func New(cp classpath.ClassPath) *VM {
	vmChan := make(chan broker.VMMessage, 1)
	b, brokerChan := broker.New(vmChan)
	go b.Run()

	return &VM{
		brokerChan: brokerChan,
		vmChan:     vmChan,
		loader:     classloader.New(cp),
		idCount:    object.NewIDCounter(),
		ids:        globals.NewIDCounters(),
	}
}

// RunThread spawns a new Java thread that will start by executing
// method on class, with this as the receiver (nil for a static entry
// point). The thread runs step once per unit of execution until step
// reports it is done or the VM shuts down.
//
// RunThread returns immediately; it does not wait for the thread to
// run. It returns ok=false without spawning anything if the VM has
// already exited - this is an inherent race with a concurrent
// System.exit() or Exit() call, so callers must check the return
// value rather than IsExited() beforehand.
func (v *VM) RunThread(class, method string, this *object.Object, step vmthread.StepFunc) (tid monitor.Tid, ok bool) {
	if v.IsExited() {
		return 0, false
	}

	tid = monitor.Tid(v.ids.NextThreadID())

	th := vmthread.New(tid, v.brokerChan, v.loader, v.idCount, vmthread.Entry{
		ClassName:  class,
		MethodName: method,
		This:       this,
	}, step)

	go th.Run()

	return tid, true
}

// RunMainClass loads name (blocking - this only happens once, at
// startup, before any thread exists to deadlock against) and, once
// loaded, spawns its main thread via RunThread. appArgs is accepted but
// not passed to the thread: vmthread.Entry carries no arguments. It
// returns the spawned thread's tid, or
// ok=false if the class failed to load or the VM had already exited.
func (v *VM) RunMainClass(name string, appArgs []string) (tid monitor.Tid, ok bool) {
	if v.IsExited() {
		return 0, false
	}
	cls, err := v.loader.Load(name).Get()
	if err != nil {
		_ = log.Log("failed to load "+name+": "+err.Error(), log.SEVERE)
		return 0, false
	}
	if _, found := cls.Method("main"); !found {
		_ = log.Log(name+" has no main method", log.SEVERE)
		return 0, false
	}
	return v.RunThread(name, "main", nil, nil)
}

// Exit triggers VM shutdown if it hasn't happened already, blocks
// until every thread has unregistered, and returns the resulting exit
// code. Exit is idempotent.
func (v *VM) Exit() int {
	v.internAwaitExit()
	return v.exitCode
}

// IsExited reports whether the VM has reached the EXITED state.
func (v *VM) IsExited() bool {
	_, exited := v.GetExitCode()
	return exited
}

// GetExitCode is the non-blocking poll: it reports the exit code only
// once the broker's shutdown protocol has completed. Polling this (or
// IsExited) is also how the VM acknowledges shutdown to the broker -
// internally it drains vmChan and, upon seeing DidShutdown, sends
// AckShutdown so the broker goroutine can terminate.
func (v *VM) GetExitCode() (code int, exited bool) {
	if v.exited {
		return v.exitCode, true
	}

	select {
	case msg := <-v.vmChan:
		if !msg.DidShutdown {
			return 0, false
		}
		v.exitCode = msg.ExitCode
		v.exited = true
		v.brokerChan <- broker.Message{Kind: broker.KindVMToBroker, VMOp: broker.VMAckShutdown}
		return v.exitCode, true
	default:
		return 0, false
	}
}

// internAwaitExit sends the shutdown trigger (idempotent: the broker
// ignores a second one) and blocks, polling, until the broker
// acknowledges that every thread has unregistered.
//
// Sending DoShutdown is gated on IsExited() rather than unconditional:
// if every spawned thread has already run to completion on its own
// (e.g. RunMainClass's thread finishing and triggering the broker's
// AllNonDaemonsDead shutdown before Exit is even called), the VM has
// already exited with code 0 and sending DoShutdown here would race
// that natural shutdown - the broker's first-trigger-wins rule means
// whichever message happens to arrive first decides between exit code
// 0 and the VM-initiated shutdown code, making a clean exit's code
// nondeterministic. Checking first makes the common "everything
// finished on its own" case deterministic; a concurrent RunThread
// racing this check is a separate, inherent race callers must already
// tolerate (RunThread itself documents it).
func (v *VM) internAwaitExit() {
	if v.exited {
		return
	}
	if _, exited := v.GetExitCode(); exited {
		return
	}
	_ = log.Log("vm: exiting", log.INFO)
	v.brokerChan <- broker.Message{Kind: broker.KindVMToBroker, VMOp: broker.VMDoShutdown}
	for !v.exited {
		if _, ok := v.GetExitCode(); ok {
			return
		}
	}
}
