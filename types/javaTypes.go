/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package types names the single-letter field/method descriptor tags
// defined by the class file format (JVM spec §4.3) and the handful of
// predicates over them that field layout needs.
package types

import "strings"

const (
	Bool   = "Z"
	Byte   = "B"
	Char   = "C"
	Double = "D"
	Float  = "F"
	Int    = "I"
	Long   = "J"
	Ref    = "L"
	Short  = "S"
	Array  = "["
)

// IsIntegral reports whether t is one of the integral primitive tags.
func IsIntegral(t string) bool {
	return t == Byte || t == Char || t == Int || t == Long || t == Short || t == Bool
}

// IsFloatingPoint reports whether t is float or double.
func IsFloatingPoint(t string) bool {
	return t == Float || t == Double
}

// IsAddress reports whether t is a reference or array descriptor.
func IsAddress(t string) bool {
	return strings.HasPrefix(t, Ref) || strings.HasPrefix(t, Array)
}

// UsesTwoSlots identifies long and double, the two descriptor tags
// that occupy two adjacent cells in an object's flat field storage
// (and two slots on an operand stack), rather than one.
func UsesTwoSlots(t string) bool {
	return t == Double || t == Long
}
