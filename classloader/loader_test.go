package classloader

import (
	"testing"

	"jvmbroker/classpath"
)

// minimalClassBytes builds a well-formed .class file for a class named
// className extending superName (or java/lang/Object if superName ==
// "") with no interfaces, fields, or methods beyond what's passed.
func minimalClassBytes(className, superName string) []byte {
	var buf []byte
	put16 := func(v uint16) { buf = append(buf, byte(v>>8), byte(v)) }
	put32 := func(v uint32) {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	putUtf8 := func(s string) {
		buf = append(buf, TagUtf8)
		put16(uint16(len(s)))
		buf = append(buf, s...)
	}
	putClass := func(utf8Idx uint16) {
		buf = append(buf, TagClass)
		put16(utf8Idx)
	}

	if superName == "" {
		superName = "java/lang/Object"
	}

	put32(0xCAFEBABE)
	put16(0) // minor
	put16(61) // major

	// constant pool: #1 this-class utf8, #2 this-class, #3 super utf8, #4 super-class
	put16(5) // count = 4 entries + 1
	putUtf8(className)
	putClass(1)
	putUtf8(superName)
	putClass(3)

	put16(AccPublic)     // access flags
	put16(2)             // this_class -> #2
	put16(4)             // super_class -> #4
	put16(0)             // interfaces_count
	put16(0)             // fields_count
	put16(0)             // methods_count
	put16(0)             // attributes_count
	return buf
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := parse([]byte{0, 0, 0, 0})
	fe, ok := err.(*FormatError)
	if !ok || fe.Kind != BadMagic {
		t.Fatalf("err = %v, want BadMagic", err)
	}
}

func TestParseTruncatedBeforeMagic(t *testing.T) {
	_, err := parse([]byte{0xCA, 0xFE})
	fe, ok := err.(*FormatError)
	if !ok || fe.Kind != BadMagic {
		t.Fatalf("err = %v, want BadMagic", err)
	}
}

func TestParseMinimalClass(t *testing.T) {
	pc, err := parse(minimalClassBytes("com/acme/Widget", ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pc.className != "com.acme.Widget" {
		t.Fatalf("className = %q", pc.className)
	}
	if pc.superClassName != "java.lang.Object" {
		t.Fatalf("superClassName = %q", pc.superClassName)
	}
}

func TestParseObjectHasNoSuperclass(t *testing.T) {
	pc, err := parse(objectClassBytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pc.superClassName != "" {
		t.Fatalf("superClassName = %q, want empty", pc.superClassName)
	}
}

func objectClassBytes() []byte {
	var buf []byte
	put16 := func(v uint16) { buf = append(buf, byte(v>>8), byte(v)) }
	put32 := func(v uint32) {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	putUtf8 := func(s string) {
		buf = append(buf, TagUtf8)
		put16(uint16(len(s)))
		buf = append(buf, s...)
	}
	putClass := func(utf8Idx uint16) {
		buf = append(buf, TagClass)
		put16(utf8Idx)
	}
	put32(0xCAFEBABE)
	put16(0)
	put16(61)
	put16(3) // #1 utf8, #2 class
	putUtf8("java/lang/Object")
	putClass(1)
	put16(AccPublic)
	put16(2) // this_class
	put16(0) // super_class = 0
	put16(0)
	put16(0)
	put16(0)
	put16(0)
	return buf
}

func TestParseLongDoubleConsumeTwoSlots(t *testing.T) {
	var buf []byte
	put16 := func(v uint16) { buf = append(buf, byte(v>>8), byte(v)) }
	put32 := func(v uint32) {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	putUtf8 := func(s string) {
		buf = append(buf, TagUtf8)
		put16(uint16(len(s)))
		buf = append(buf, s...)
	}
	putClass := func(utf8Idx uint16) {
		buf = append(buf, TagClass)
		put16(utf8Idx)
	}
	putLong := func(v int64) {
		buf = append(buf, TagLong)
		put32(uint32(v >> 32))
		put32(uint32(v))
	}

	put32(0xCAFEBABE)
	put16(0)
	put16(61)
	// #1 utf8(this), #2 class(this), #3 long (consumes #3 and #4),
	// #5 utf8(super), #6 class(super)
	put16(7)
	putUtf8("HasLong")
	putClass(1)
	putLong(123456789012345)
	putUtf8("java/lang/Object")
	putClass(5)

	put16(AccPublic)
	put16(2)
	put16(6)
	put16(0)
	put16(0)
	put16(0)
	put16(0)

	pc, err := parse(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pc.className != "HasLong" {
		t.Fatalf("className = %q", pc.className)
	}
	entry, err := pc.pool.at(3)
	if err != nil || entry.Tag != TagLong {
		t.Fatalf("entry 3 = %+v, err %v, want Long", entry, err)
	}
}

func TestClassLoaderLoadFromBytesResolvesParent(t *testing.T) {
	cl := New(classpath.NewFromString(""))
	fut := cl.LoadFromBytes("java.lang.Object", objectClassBytes())
	obj, err := fut.Get()
	if err != nil {
		t.Fatalf("load Object: %v", err)
	}
	if !obj.IsObject() {
		t.Fatalf("expected java.lang.Object")
	}

	fut = cl.LoadFromBytes("com.acme.Widget", minimalClassBytes("com/acme/Widget", ""))
	widget, err := fut.Get()
	if err != nil {
		t.Fatalf("load Widget: %v", err)
	}
	if len(widget.Parents) != 1 || !widget.Parents[0].IsObject() {
		t.Fatalf("Widget.Parents = %+v, want [Object]", widget.Parents)
	}
}

func TestClassLoaderGetLoadedNonBlocking(t *testing.T) {
	cl := New(classpath.NewFromString(""))
	if _, ok := cl.GetLoaded("not.There"); ok {
		t.Fatal("expected not loaded")
	}
	if _, err := cl.LoadFromBytes("Solo", minimalClassBytes("Solo", "java/lang/Object")).Get(); err != nil {
		// Object isn't registered, so this load will fail trying to
		// resolve java.lang.Object from an empty classpath - that's
		// expected and fine for this non-blocking-query test.
		_ = err
	}
}

func TestClassLoaderConcurrentLoadSharesWorker(t *testing.T) {
	cl := New(classpath.NewFromString(""))
	raw := objectClassBytes()

	f1 := cl.LoadFromBytes("java.lang.Object", raw)
	f2 := cl.Load("java.lang.Object")

	c1, err1 := f1.Get()
	c2, err2 := f2.Get()
	if err1 != nil || err2 != nil {
		t.Fatalf("errs = %v, %v", err1, err2)
	}
	if c1 != c2 {
		t.Fatalf("expected both loads to return the same *Class")
	}
}

func TestLoadFromBytesJoinsAnAlreadyPendingEntry(t *testing.T) {
	cl := New(classpath.NewFromString(""))

	// Simulate a Load already in flight for this name (e.g. a
	// concurrent caller fetching it from the classpath) by seeding a
	// Pending cacheEntry directly, bypassing the classpath lookup.
	cl.table.mu.Lock()
	cl.table.entries["java.lang.Object"] = &cacheEntry{}
	cl.table.mu.Unlock()

	// A second caller asking for the same name via LoadFromBytes must
	// join that entry's waiters rather than starting its own worker
	// against the Pending entry it just found.
	joined := cl.LoadFromBytes("java.lang.Object", objectClassBytes())

	// Whatever actually finishes the in-flight load (the worker this
	// test stood in for) resolves the shared entry directly.
	want := &Class{Name: "java.lang.Object"}
	cl.finishLoad("java.lang.Object", want, nil, newFutureClassRef())

	got, err := joined.Get()
	if err != nil {
		t.Fatalf("joined.Get: %v", err)
	}
	if got != want {
		t.Fatalf("joined future resolved to %+v, want the value finishLoad supplied (%+v)", got, want)
	}
}

func TestDescriptorCellsWidensLongAndDouble(t *testing.T) {
	cases := map[string]int{
		"J": 2, "D": 2,
		"I": 1, "Z": 1, "B": 1, "C": 1, "F": 1, "S": 1,
		"Ljava/lang/String;": 1, "[I": 1, "[[D": 1,
	}
	for descriptor, want := range cases {
		if got := descriptorCells(descriptor); got != want {
			t.Fatalf("descriptorCells(%q) = %d, want %d", descriptor, got, want)
		}
	}
}

func TestBuildFieldsAssignsSequentialOffsets(t *testing.T) {
	raw := []rawField{
		{name: "flag", descriptor: "Z"},
		{name: "total", descriptor: "J"},
		{name: "name", descriptor: "Ljava/lang/String;"},
	}

	fields, cells := buildFields(raw)
	if cells != 4 {
		t.Fatalf("cells = %d, want 4", cells)
	}

	want := []struct {
		name   string
		offset int
		cells  int
	}{
		{"flag", 0, 1},
		{"total", 1, 2},
		{"name", 3, 1},
	}
	for i, w := range want {
		if fields[i].Name != w.name || fields[i].Offset != w.offset || fields[i].Cells != w.cells {
			t.Fatalf("fields[%d] = %+v, want %+v", i, fields[i], w)
		}
	}
}

func TestClassFieldOffsetLooksUpByName(t *testing.T) {
	fields, _ := buildFields([]rawField{
		{name: "a", descriptor: "I"},
		{name: "b", descriptor: "D"},
	})
	c := &Class{Fields: fields}

	offset, cells, ok := c.FieldOffset("b")
	if !ok || offset != 1 || cells != 2 {
		t.Fatalf("FieldOffset(b) = (%d, %d, %v), want (1, 2, true)", offset, cells, ok)
	}
	if _, _, ok := c.FieldOffset("missing"); ok {
		t.Fatal("expected FieldOffset to report not found for an undeclared field")
	}
}
