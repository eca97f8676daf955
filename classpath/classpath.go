/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package classpath resolves a fully qualified class name to the raw
// bytes of its .class file, searching a semicolon-separated list of
// directories the way the JVM's own -classpath option works.
package classpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClassPath is an ordered, immutable list of directories to search for
// .class files. The current directory is always implicitly first.
type ClassPath struct {
	paths []string
}

// NewFromString splits invar on ";", trims each segment, drops empty
// segments, and prepends "." unconditionally.
//
//	NewFromString("~/a; /b;dir ;") -> [".", "~/a", "/b", "dir"]
func NewFromString(invar string) ClassPath {
	paths := []string{"."}
	for _, s := range strings.Split(invar, ";") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		paths = append(paths, s)
	}
	return ClassPath{paths: paths}
}

// Paths returns the ordered list of search directories, "." first.
func (c ClassPath) Paths() []string {
	return c.paths
}

// Locate converts name (a dotted fully qualified class name) to a
// relative path, searches each classpath entry in order, and returns
// the bytes of the first match. Returns an error naming the class if
// no entry contains it.
func (c ClassPath) Locate(name string) ([]byte, error) {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator)) + ".class"
	for _, dir := range c.paths {
		bytes, err := os.ReadFile(filepath.Join(dir, rel))
		if err == nil {
			return bytes, nil
		}
	}
	return nil, fmt.Errorf("failed to locate class file for %s", name)
}
