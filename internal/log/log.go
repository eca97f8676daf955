/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package log is a small leveled logger in the style the rest of the
// VM expects: a package-global level gate and a single Log function,
// no structured fields, no sinks beyond stdout.
package log

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Logging levels, from most to least verbose. Mirrors java.util.logging's
// naming since log lines are meant to read naturally next to JVM output.
const (
	FINEST = iota
	FINER
	FINE
	CONFIG
	INFO
	WARNING
	SEVERE
)

var levelNames = map[int]string{
	FINEST:  "FINEST",
	FINER:   "FINER",
	FINE:    "FINE",
	CONFIG:  "CONFIG",
	INFO:    "INFO",
	WARNING: "WARNING",
	SEVERE:  "SEVERE",
}

// Level is the current logging threshold. Messages logged below this
// level are discarded. Defaults to INFO until Init is called.
var Level = INFO

// Init resets the logger to its default level. Called once at VM
// startup; kept as its own function (rather than folded into package
// init) so callers can re-init between tests.
func Init() {
	Level = INFO
}

// Log writes msg to stdout, prefixed with a timestamp and the level
// name, provided level is at or above the current Level threshold.
// Returns an error if level is not one of the recognized constants.
func Log(msg string, level int) error {
	name, ok := levelNames[level]
	if !ok {
		return errors.New("log: unrecognized logging level")
	}
	if level < Level {
		return nil
	}
	fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", time.Now().Format("15:04:05.000"), name, msg)
	return nil
}

// SetLevel parses a verbosity spelling such as "FINE" or "SEVERE" and,
// if recognized, sets Level. Used by the CLI's -verbose:<level> flag.
func SetLevel(name string) bool {
	for lvl, n := range levelNames {
		if n == name {
			Level = lvl
			return true
		}
	}
	return false
}
