/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package gfunction is the home for native-style Java library support
// that doesn't belong to the coordination core: java.io.Console needs
// a real terminal, which has nothing to do with object ownership or
// monitors, so it lives here rather than in object or vmthread.
package gfunction

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Console mirrors java.io.Console: a line-buffered reader and writer
// over the process's controlling terminal, plus the two operations
// that need the terminal itself rather than a plain stream -
// reading a password without echo, and reporting the terminal's
// width.
type Console struct {
	in     *os.File
	out    *os.File
	reader *bufio.Reader
}

// Load_Io_Console builds the Console backed by the process's own
// stdin/stdout, matching gfunction.go's MTableLoadGFunctions calling
// Load_Io_Console() to wire up java.io.Console support.
func Load_Io_Console() *Console {
	return NewConsole(os.Stdin, os.Stdout)
}

// NewConsole wraps the given files. in and out are normally os.Stdin
// and os.Stdout; tests pass something else to exercise ReadLine
// without a real terminal.
func NewConsole(in, out *os.File) *Console {
	return &Console{in: in, out: out, reader: bufio.NewReader(in)}
}

// IsTerminal reports whether this console's input is an actual
// terminal. Console.readPassword on the real JVM returns null when
// there is no console attached (e.g. stdin redirected from a file);
// callers should check this first.
func (c *Console) IsTerminal() bool {
	return term.IsTerminal(int(c.in.Fd()))
}

// ReadLine prints prompt (if non-empty) and reads a single line,
// stripping the trailing newline.
func (c *Console) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return trimNewline(line), nil
}

// ReadPassword prints prompt (if non-empty) and reads a line with
// terminal echo disabled, the way Console.readPassword does. It fails
// if this console isn't attached to a real terminal.
func (c *Console) ReadPassword(prompt string) (string, error) {
	if !c.IsTerminal() {
		return "", fmt.Errorf("console: not a terminal")
	}
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}
	pw, err := term.ReadPassword(int(c.in.Fd()))
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// Width reports the terminal's current column count, the value
// backing Console's line-wrapping width.
func (c *Console) Width() (int, error) {
	w, _, err := term.GetSize(int(c.out.Fd()))
	return w, err
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		n--
		if n > 0 && s[n-1] == '\r' {
			n--
		}
	}
	return s[:n]
}
