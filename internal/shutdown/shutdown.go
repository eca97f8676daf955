/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package shutdown centralizes the process exit codes used throughout
// the VM, so that every fatal path exits with a consistent, documented
// code instead of an ad hoc literal.
package shutdown

import (
	"fmt"
	"os"

	"jvmbroker/internal/log"
)

const (
	// OK is returned on clean termination.
	OK = 0

	// JVMException is used when a JVM-internal logic error (a broken
	// broker, a protocol violation) forces termination.
	JVMException = -1

	// AppException is used when CLI handling or startup fails before
	// any Java code runs (bad arguments, no main class, class-not-found).
	AppException = -2

	// VMInitiated is the exit code reported by the broker when the VM
	// itself requested shutdown via VM.Exit rather than the program
	// running to completion or calling System.exit. Value preserved
	// from the original VM-initiated shutdown constant.
	VMInitiated = -150392
)

// Exit logs the exit code at SEVERE (if non-zero) or INFO (if zero)
// and terminates the process. It never returns.
func Exit(code int) {
	if code == OK {
		_ = log.Log("exiting normally", log.INFO)
	} else {
		_ = log.Log(fmt.Sprintf("exiting with code %d", code), log.SEVERE)
	}
	os.Exit(code)
}
