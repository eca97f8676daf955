/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// This file implements the pure, I/O-free class-file parser (spec.md
// §4.1): bytes in, a parsedClass or a *FormatError out. It never loads
// referenced classes - that is classloader.go's job. Grounded on the
// position-threaded parseXxx(bytes, pos, &klass) style this package
// started from, reshaped around a cursor type and a tagged-union
// constant pool instead of the parallel per-tag slices the original
// parser kept.
package classloader

import (
	"encoding/binary"
	"math"
	"strconv"
)

// rawField is a field_info entry before field-layout assignment.
type rawField struct {
	accessFlags uint16
	name        string
	descriptor  string
}

// rawMethod is a method_info entry with its Code attribute parsed but
// its exception-handler catch types still unresolved pool indices.
type rawMethod struct {
	accessFlags uint16
	name        string
	descriptor  string
	code        *rawCode
}

type rawCode struct {
	maxStack  uint16
	maxLocals uint16
	bytes     []byte
	handlers  []rawHandler
}

type rawHandler struct {
	startPC, endPC, handlerPC uint16
	catchTypeIndex            uint16 // 0 means "catches anything"
}

// parsedClass is the parser's output: a class with its constant pool
// frozen but its superclass/interfaces/handler catch-types still bare
// names or indices, because resolving them into live *Class values is
// the loader's job (spec.md §4.2's blocking-vs-future-resolve split).
type parsedClass struct {
	javaVersionMinor uint16
	javaVersionMajor uint16
	pool             *cpool
	accessFlags      uint16
	className        string
	superClassName   string // "" iff superClassIndex == 0
	interfaceNames   []string
	fields           []rawField
	methods          []rawMethod
}

// byteReader is a cursor over class file bytes, advancing on every
// read and surfacing underrun as an UnexpectedEOF *FormatError so
// callers don't re-check bounds at every site.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) u8() (uint8, error) {
	if r.pos+1 > len(r.b) {
		return 0, cfe(UnexpectedEOF, "expected a byte")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, cfe(UnexpectedEOF, "expected 2 bytes")
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, cfe(UnexpectedEOF, "expected 4 bytes")
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, cfe(UnexpectedEOF, "expected "+strconv.Itoa(n)+" bytes")
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// parse is the parser's single entry point: pure, no I/O, no class
// loading. Errors are always a *FormatError.
func parse(raw []byte) (*parsedClass, error) {
	r := &byteReader{b: raw}
	pc := &parsedClass{}

	if err := parseMagicNumber(r); err != nil {
		return nil, err
	}
	if err := parseJavaVersionNumber(r, pc); err != nil {
		return nil, err
	}
	pool, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}
	pc.pool = pool

	accessFlags, err := r.u16()
	if err != nil {
		return nil, err
	}
	pc.accessFlags = accessFlags

	if err := parseClassName(r, pc); err != nil {
		return nil, err
	}
	if err := parseSuperClassName(r, pc); err != nil {
		return nil, err
	}
	if err := parseInterfaces(r, pc); err != nil {
		return nil, err
	}
	if pc.fields, err = parseFields(r, pc.pool); err != nil {
		return nil, err
	}
	if pc.methods, err = parseMethods(r, pc.pool); err != nil {
		return nil, err
	}
	// Class-level attributes (SourceFile, etc.) aren't interpreted by
	// this coordination layer; skip them so a well-formed trailing
	// attribute never fails an otherwise valid parse.
	if err := skipAttributes(r); err != nil {
		return nil, err
	}

	if pc.superClassName == "" && pc.className != "java.lang.Object" &&
		pc.accessFlags&AccInterface == 0 {
		return nil, cfe(NoSuperclass, "class "+pc.className+" has no superclass")
	}

	return pc, nil
}

// all class files start with 0xCAFEBABE.
func parseMagicNumber(r *byteReader) error {
	magic, err := r.u32()
	if err != nil {
		return cfe(BadMagic, "truncated before magic number")
	}
	if magic != 0xCAFEBABE {
		return cfe(BadMagic, "magic number mismatch")
	}
	return nil
}

func parseJavaVersionNumber(r *byteReader, pc *parsedClass) error {
	minor, err := r.u16()
	if err != nil {
		return err
	}
	major, err := r.u16()
	if err != nil {
		return err
	}
	pc.javaVersionMinor = minor
	pc.javaVersionMajor = major
	return nil
}

// parseConstantPool reads cpool_count-1 entries, honoring the rule
// that long/double entries occupy two index slots though only one
// entry is stored (spec.md §4.1).
func parseConstantPool(r *byteReader) (*cpool, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	pool := &cpool{entries: make([]cpEntry, count)}

	i := 1
	for i < int(count) {
		entry, err := parseOneConstant(r)
		if err != nil {
			return nil, err
		}
		pool.entries[i] = entry
		i += slotWidth(entry.Tag)
	}
	return pool, nil
}

func parseOneConstant(r *byteReader) (cpEntry, error) {
	tag, err := r.u8()
	if err != nil {
		return cpEntry{}, err
	}

	switch tag {
	case TagClass, TagString, TagMethodType:
		idx, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, Index: idx}, nil

	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
		a, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		b, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, Index: a, Index2: b}, nil

	case TagInteger:
		v, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, IntVal: int32(v)}, nil

	case TagFloat:
		v, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, FloatVal: math.Float32frombits(v)}, nil

	case TagLong:
		hi, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		lo, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, LongVal: int64(uint64(hi)<<32 | uint64(lo))}, nil

	case TagDouble:
		hi, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		lo, err := r.u32()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, DoubleVal: math.Float64frombits(uint64(hi)<<32 | uint64(lo))}, nil

	case TagUtf8:
		length, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		raw, err := r.bytes(int(length))
		if err != nil {
			return cpEntry{}, err
		}
		s, err := decodeModifiedUTF8(raw)
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, Utf8Val: s}, nil

	case TagMethodHandle:
		refKind, err := r.u8()
		if err != nil {
			return cpEntry{}, err
		}
		idx, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, RefKind: refKind, Index: idx}, nil

	case TagInvokeDynamic:
		bootstrapIdx, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		natIdx, err := r.u16()
		if err != nil {
			return cpEntry{}, err
		}
		return cpEntry{Tag: tag, Index2: bootstrapIdx, Index: natIdx}, nil

	default:
		return cpEntry{}, cfe(BadPoolTag, "unrecognized constant pool tag "+strconv.Itoa(int(tag)))
	}
}

// The value for this item points to a CP entry of type Class_info,
// which in turn points to the UTF-8 name of the class.
func parseClassName(r *byteReader, pc *parsedClass) error {
	idx, err := r.u16()
	if err != nil {
		return err
	}
	name, err := pc.pool.className(idx)
	if err != nil {
		return err
	}
	pc.className = name
	return nil
}

// Same lookup as parseClassName; index 0 means "no superclass" and is
// only legal for java.lang.Object and interfaces.
func parseSuperClassName(r *byteReader, pc *parsedClass) error {
	idx, err := r.u16()
	if err != nil {
		return err
	}
	if idx == 0 {
		pc.superClassName = ""
		return nil
	}
	name, err := pc.pool.className(idx)
	if err != nil {
		return err
	}
	pc.superClassName = name
	return nil
}

// these are interface references: indexes into the CP that point to
// class name entries, which in turn point to the UTF-8 string holding
// the name of the interface.
func parseInterfaces(r *byteReader, pc *parsedClass) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.u16()
		if err != nil {
			return err
		}
		name, err := pc.pool.className(idx)
		if err != nil {
			return err
		}
		pc.interfaceNames = append(pc.interfaceNames, name)
	}
	return nil
}

func parseFields(r *byteReader, pool *cpool) ([]rawField, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	fields := make([]rawField, 0, count)
	for i := 0; i < int(count); i++ {
		access, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		descIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := pool.utf8At(nameIdx)
		if err != nil {
			return nil, err
		}
		desc, err := pool.utf8At(descIdx)
		if err != nil {
			return nil, err
		}
		if err := skipAttributes(r); err != nil {
			return nil, err
		}
		fields = append(fields, rawField{accessFlags: access, name: name, descriptor: desc})
	}
	return fields, nil
}

func parseMethods(r *byteReader, pool *cpool) ([]rawMethod, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	methods := make([]rawMethod, 0, count)
	for i := 0; i < int(count); i++ {
		access, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		descIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := pool.utf8At(nameIdx)
		if err != nil {
			return nil, err
		}
		desc, err := pool.utf8At(descIdx)
		if err != nil {
			return nil, err
		}

		attrCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		var code *rawCode
		for a := 0; a < int(attrCount); a++ {
			nameIdx, err := r.u16()
			if err != nil {
				return nil, err
			}
			attrName, err := pool.utf8At(nameIdx)
			if err != nil {
				return nil, err
			}
			length, err := r.u32()
			if err != nil {
				return nil, err
			}
			body, err := r.bytes(int(length))
			if err != nil {
				return nil, err
			}
			if attrName == "Code" {
				code, err = parseCodeBody(body)
				if err != nil {
					return nil, err
				}
			}
		}

		if access&(AccNative|AccAbstract) == 0 && code == nil {
			return nil, cfe(UnexpectedEOF, "method "+name+" is missing its required Code attribute")
		}

		methods = append(methods, rawMethod{
			accessFlags: access,
			name:        name,
			descriptor:  desc,
			code:        code,
		})
	}
	return methods, nil
}

func parseCodeBody(body []byte) (*rawCode, error) {
	r := &byteReader{b: body}
	maxStack, err := r.u16()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u16()
	if err != nil {
		return nil, err
	}
	codeLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, err
	}

	excCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	handlers := make([]rawHandler, 0, excCount)
	for i := 0; i < int(excCount); i++ {
		startPC, err := r.u16()
		if err != nil {
			return nil, err
		}
		endPC, err := r.u16()
		if err != nil {
			return nil, err
		}
		handlerPC, err := r.u16()
		if err != nil {
			return nil, err
		}
		catchIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, rawHandler{
			startPC: startPC, endPC: endPC, handlerPC: handlerPC, catchTypeIndex: catchIdx,
		})
	}

	// Code attributes carry their own nested attributes
	// (LineNumberTable, StackMapTable, ...) that are irrelevant to the
	// coordination contract this package implements, so they're
	// skipped rather than parsed.
	if err := skipAttributes(r); err != nil {
		return nil, err
	}

	return &rawCode{
		maxStack:  maxStack,
		maxLocals: maxLocals,
		bytes:     code,
		handlers:  handlers,
	}, nil
}

// skipAttributes reads an attribute_count followed by that many
// (name_index, length, bytes) triples, discarding their contents.
func skipAttributes(r *byteReader) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if _, err := r.u16(); err != nil { // name index, unused
			return err
		}
		length, err := r.u32()
		if err != nil {
			return err
		}
		if _, err := r.bytes(int(length)); err != nil {
			return err
		}
	}
	return nil
}
