/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// This file implements the async class loader itself: it turns parsed
// bytes into a cache of live *Class values, resolving the
// superclass/interface chain eagerly while never blocking on any other
// cross-class reference (field types and method signatures stay bare
// descriptor strings, handler catch-types are lazily-resolved futures)
// so that cyclic class graphs can never deadlock the loader.
package classloader

import (
	"fmt"
	"sync"

	"jvmbroker/classpath"
	"jvmbroker/internal/log"
	"jvmbroker/types"
)

// FutureClassRef is a handle to a class that may still be loading.
// Get blocks until the class is available or loading failed; it is
// safe to call from multiple goroutines and may be called more than
// once.
type FutureClassRef struct {
	done chan struct{}
	mu   sync.Mutex
	cls  *Class
	err  error
}

func newFutureClassRef() *FutureClassRef {
	return &FutureClassRef{done: make(chan struct{})}
}

func newResolvedFutureClassRef(cls *Class) *FutureClassRef {
	f := &FutureClassRef{done: make(chan struct{}), cls: cls}
	close(f.done)
	return f
}

func newFailedFutureClassRef(err error) *FutureClassRef {
	f := &FutureClassRef{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// fulfill resolves the future exactly once. Calling it twice panics -
// it would indicate two workers racing to load the same class, which
// the cache table's lock is supposed to prevent.
func (f *FutureClassRef) fulfill(cls *Class, err error) {
	f.mu.Lock()
	f.cls, f.err = cls, err
	f.mu.Unlock()
	close(f.done)
}

// Get blocks until the class is loaded, returning the load error (if
// any) otherwise. This is the *blocking resolve* primitive - callers
// outside loadClassParent must never call it on a future that may
// itself be waiting on the caller's own class to finish loading.
func (f *FutureClassRef) Get() (*Class, error) {
	<-f.done
	return f.cls, f.err
}

// cacheEntry is either a Pending class (with waiters to notify on
// completion) or a Loaded one.
type cacheEntry struct {
	loaded  *Class
	pending []chan loadResult // waiter channels, nil once Loaded
}

type loadResult struct {
	cls *Class
	err error
}

// ClassLoader resolves class names to loaded classes, fetching bytes
// via a classpath.ClassPath and caching the result. It is cheaply
// copyable: every copy shares the same table and classpath, which
// matters because each spawned loading worker keeps its own copy.
type ClassLoader struct {
	cp    classpath.ClassPath
	table *loaderTable
}

type loaderTable struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// New creates a ClassLoader rooted at cp. All clones of the returned
// value share one cache table.
func New(cp classpath.ClassPath) ClassLoader {
	return ClassLoader{
		cp:    cp,
		table: &loaderTable{entries: make(map[string]*cacheEntry)},
	}
}

// Load returns a future for name, spawning a loading worker the first
// time it's requested. Concurrent and repeated calls for the same name
// share one worker and one set of results.
func (cl ClassLoader) Load(name string) *FutureClassRef {
	cl.table.mu.Lock()
	if entry, ok := cl.table.entries[name]; ok {
		fut := joinEntry(entry)
		cl.table.mu.Unlock()
		return fut
	}
	cl.table.entries[name] = &cacheEntry{}
	cl.table.mu.Unlock()

	fut := newFutureClassRef()
	go cl.loadWorker(name, fut)
	return fut
}

// LoadFromBytes is like Load but parses a caller-supplied byte buffer
// instead of locating it on the classpath; used for classes generated
// at runtime or injected by tests. If name is already Loaded or
// Pending (e.g. a concurrent Load is already fetching it from the
// classpath), this joins that entry's waiters instead of starting a
// second worker, the same way Load itself dedupes - starting a fresh
// cacheEntry here would silently drop any waiters already registered
// on the existing one, leaving their Get calls blocked forever.
func (cl ClassLoader) LoadFromBytes(name string, raw []byte) *FutureClassRef {
	cl.table.mu.Lock()
	if entry, ok := cl.table.entries[name]; ok {
		fut := joinEntry(entry)
		cl.table.mu.Unlock()
		return fut
	}
	cl.table.entries[name] = &cacheEntry{}
	cl.table.mu.Unlock()

	fut := newFutureClassRef()
	go cl.loadWorkerFromBytes(name, raw, fut)
	return fut
}

// joinEntry returns a future for an already-present cache entry:
// already resolved if entry is Loaded, or a future that waits on a
// freshly registered waiter channel if entry is still Pending. Must
// be called with table.mu held.
func joinEntry(entry *cacheEntry) *FutureClassRef {
	if entry.loaded != nil {
		return newResolvedFutureClassRef(entry.loaded)
	}
	ch := make(chan loadResult, 1)
	entry.pending = append(entry.pending, ch)
	fut := newFutureClassRef()
	go func() {
		res := <-ch
		fut.fulfill(res.cls, res.err)
	}()
	return fut
}

// GetLoaded is the non-blocking query: it returns the class only if
// it is already fully loaded, never triggering a load.
func (cl ClassLoader) GetLoaded(name string) (*Class, bool) {
	cl.table.mu.Lock()
	defer cl.table.mu.Unlock()
	entry, ok := cl.table.entries[name]
	if !ok || entry.loaded == nil {
		return nil, false
	}
	return entry.loaded, true
}

func (cl ClassLoader) loadWorker(name string, fut *FutureClassRef) {
	raw, err := cl.cp.Locate(name)
	if err != nil {
		cl.finishLoad(name, nil, err, fut)
		return
	}
	cl.loadWorkerFromBytes(name, raw, fut)
}

func (cl ClassLoader) loadWorkerFromBytes(name string, raw []byte, fut *FutureClassRef) {
	pc, err := parse(raw)
	if err != nil {
		cl.finishLoad(name, nil, err, fut)
		return
	}
	if pc.className != name {
		err := fmt.Errorf("class file for %s actually defines %s", name, pc.className)
		cl.finishLoad(name, nil, err, fut)
		return
	}

	cls, err := cl.buildClass(pc)
	if err != nil {
		cl.finishLoad(name, nil, err, fut)
		return
	}
	cl.finishLoad(name, cls, nil, fut)
}

// buildClass resolves the superclass/interface DAG (blockingly - the
// JVM guarantees it's acyclic) and builds the method table. Field
// types, handler catch-types, and method signatures are deliberately
// left as bare names or futures; nothing here ever blocks on anything
// but a parent class.
func (cl ClassLoader) buildClass(pc *parsedClass) (*Class, error) {
	var parents []*Class

	if pc.superClassName != "" {
		super, err := cl.loadClassParent(pc.superClassName)
		if err != nil {
			return nil, err
		}
		parents = append(parents, super)
	}
	for _, iface := range pc.interfaceNames {
		p, err := cl.loadClassParent(iface)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}

	methods := make(map[string]*Method, len(pc.methods))
	for _, rm := range pc.methods {
		methods[rm.name] = &Method{
			Name:        rm.name,
			Descriptor:  rm.descriptor,
			AccessFlags: rm.accessFlags,
			Code:        cl.buildCode(rm.code, pc.pool),
		}
	}

	fields, fieldCells := buildFields(pc.fields)

	return &Class{
		Name:        pc.className,
		AccessFlags: pc.accessFlags,
		Pool:        pc.pool,
		Parents:     parents,
		Methods:     methods,
		Fields:      fields,
		FieldCells:  fieldCells,
	}, nil
}

// buildFields assigns each declared field its cell offset, in
// declaration order, per spec.md's flat-field-storage decision (see
// object.LocalHeap.NewObject and its fieldCellCount).
func buildFields(raw []rawField) ([]*Field, int) {
	fields := make([]*Field, 0, len(raw))
	offset := 0
	for _, rf := range raw {
		cells := descriptorCells(rf.descriptor)
		fields = append(fields, &Field{
			Name:        rf.name,
			Descriptor:  rf.descriptor,
			AccessFlags: rf.accessFlags,
			Offset:      offset,
			Cells:       cells,
		})
		offset += cells
	}
	return fields, offset
}

// descriptorCells reports how many uint32 cells a field descriptor
// occupies: two for long and double, one for everything else,
// including array and object references.
func descriptorCells(descriptor string) int {
	if descriptor == "" {
		return 1
	}
	if types.UsesTwoSlots(descriptor[:1]) {
		return 2
	}
	return 1
}

// loadClassParent is the *blocking resolve* primitive: spec.md
// restricts it to the superclass/interface chain, the one part of the
// class graph the JVM guarantees is acyclic.
func (cl ClassLoader) loadClassParent(name string) (*Class, error) {
	return cl.Load(name).Get()
}

// buildCode resolves each exception handler's catch type via the
// *non-blocking future resolve* primitive: handler catch-types may
// reference classes that are, transitively, still loading this very
// class, so they must never be awaited here.
func (cl ClassLoader) buildCode(rc *rawCode, pool *cpool) *Code {
	if rc == nil {
		return nil
	}
	handlers := make([]ExceptionHandler, 0, len(rc.handlers))
	for _, rh := range rc.handlers {
		var catch *FutureClassRef
		if rh.catchTypeIndex == 0 {
			catch = nil
		} else if name, err := pool.className(rh.catchTypeIndex); err == nil {
			catch = cl.Load(name)
		} else {
			catch = newFailedFutureClassRef(err)
		}
		handlers = append(handlers, ExceptionHandler{
			StartPC:    rh.startPC,
			EndPC:      rh.endPC,
			HandlerPC:  rh.handlerPC,
			CatchClass: catch,
		})
	}
	return &Code{
		MaxStack:  rc.maxStack,
		MaxLocals: rc.maxLocals,
		Bytes:     rc.bytes,
		Handlers:  handlers,
	}
}

// finishLoad installs the load result in the cache and fulfills every
// waiter, including fut itself, then logs the outcome the way the
// original loader traced class resolution at FINEST.
func (cl ClassLoader) finishLoad(name string, cls *Class, err error, fut *FutureClassRef) {
	cl.table.mu.Lock()
	entry := cl.table.entries[name]
	waiters := entry.pending
	if err == nil {
		entry.loaded = cls
		entry.pending = nil
	} else {
		delete(cl.table.entries, name)
	}
	cl.table.mu.Unlock()

	if err != nil {
		_ = log.Log("failed to load class "+name+": "+err.Error(), log.WARNING)
	} else {
		_ = log.Log("loaded class "+name, log.FINEST)
	}

	for _, w := range waiters {
		w <- loadResult{cls: cls, err: err}
	}
	fut.fulfill(cls, err)
}
