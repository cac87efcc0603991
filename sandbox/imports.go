package sandbox

import (
	"errors"
	"fmt"
)

// ExternKind is the kind of definition an import refers to.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x00
	ExternTable  ExternKind = 0x01
	ExternMemory ExternKind = 0x02
	ExternGlobal ExternKind = 0x03
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return fmt.Sprintf("extern(%#x)", byte(k))
}

// Import is one entry of a module's import section.
type Import struct {
	Module string
	Name   string
	Kind   ExternKind
}

var errMalformedImports = errors.New("malformed import section")

const sectionImport = 2

// ReadImports lists every import declared by the WebAssembly binary bin, in
// declaration order. wazero only reports function and memory imports of a
// compiled module; this covers tables and globals too.
func ReadImports(bin []byte) ([]Import, error) {
	r := &binReader{buf: bin}
	if len(bin) < 8 {
		return nil, fmt.Errorf("%w: short preamble", errMalformedImports)
	}
	r.pos = 8

	for r.pos < len(r.buf) {
		id := r.byte()
		size := r.uleb()
		if r.err != nil {
			return nil, r.err
		}
		if size > uint64(len(r.buf)-r.pos) {
			return nil, fmt.Errorf("%w: section %d overruns the binary", errMalformedImports, id)
		}
		end := r.pos + int(size)
		switch {
		case id == sectionImport:
			r.buf = r.buf[:end]
			return r.imports()
		case id > sectionImport:
			// Sections are ordered; no import section follows.
			return nil, nil
		}
		r.pos = end
	}
	return nil, nil
}

type binReader struct {
	buf []byte
	pos int
	err error
}

func (r *binReader) imports() ([]Import, error) {
	count := r.uleb()
	var out []Import
	for i := uint64(0); i < count && r.err == nil; i++ {
		imp := Import{Module: r.name(), Name: r.name(), Kind: ExternKind(r.byte())}
		switch imp.Kind {
		case ExternFunc:
			r.uleb()
		case ExternTable:
			r.byte()
			r.limits()
		case ExternMemory:
			r.limits()
		case ExternGlobal:
			r.byte()
			r.byte()
		default:
			r.fail("unknown import kind %#x", byte(imp.Kind))
		}
		out = append(out, imp)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

func (r *binReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d", errMalformedImports, fmt.Sprintf(format, args...), r.pos)
	}
}

func (r *binReader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.buf) {
		r.fail("unexpected end")
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *binReader) uleb() uint64 {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		b := r.byte()
		if r.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v
		}
	}
	r.fail("integer too long")
	return 0
}

func (r *binReader) name() string {
	n := r.uleb()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.fail("name overruns section")
		return ""
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func (r *binReader) limits() {
	flags := r.byte()
	r.uleb()
	if flags&0x01 != 0 {
		r.uleb()
	}
}
