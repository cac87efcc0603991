// Package wasmtest assembles small WebAssembly binaries for tests.
//
// The toolchain is never invoked to build guests: every fixture is encoded
// directly from opcodes, so the package has no build step and the binaries
// are exactly what the tests describe.
package wasmtest

import (
	"bytes"
)

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionStart    = 8
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindTable  = 0x01
	kindMemory = 0x02
	kindGlobal = 0x03

	funcRef = 0x70
)

type funcType struct {
	params  []ValType
	results []ValType
}

type importEntry struct {
	module string
	name   string
	kind   byte
	desc   []byte
}

type function struct {
	typ    uint32
	locals []ValType
	body   []byte
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type segment struct {
	offset uint32
	data   []byte
}

// Module is a WebAssembly module under construction. Imports must be added
// before any function is defined so that function indices stay stable.
type Module struct {
	types       []funcType
	imports     []importEntry
	funcImports uint32
	funcs       []function
	memoryPages uint32
	hasMemory   bool
	exports     []export
	data        []segment
	start       *uint32
}

// NewModule returns an empty module.
func NewModule() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(valBytes(t.params), valBytes(params)) && bytes.Equal(valBytes(t.results), valBytes(results)) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []ValType) uint32 {
	m.addImport(module, name, kindFunc, uleb(uint64(m.typeIndex(params, results))))
	m.funcImports++
	return m.funcImports - 1
}

// ImportTable declares an imported funcref table with the given minimum size.
func (m *Module) ImportTable(module, name string, size uint32) {
	m.addImport(module, name, kindTable, append([]byte{funcRef, 0x00}, uleb(uint64(size))...))
}

// ImportMemory declares an imported memory with the given minimum page
// count. A module with an imported memory must not also call Memory.
func (m *Module) ImportMemory(module, name string, pages uint32) {
	m.addImport(module, name, kindMemory, append([]byte{0x00}, uleb(uint64(pages))...))
}

// ImportGlobal declares an immutable imported global of type t.
func (m *Module) ImportGlobal(module, name string, t ValType) {
	m.addImport(module, name, kindGlobal, []byte{byte(t), 0x00})
}

func (m *Module) addImport(module, name string, kind byte, desc []byte) {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must be declared before functions")
	}
	m.imports = append(m.imports, importEntry{module: module, name: name, kind: kind, desc: desc})
}

// Func defines a function and returns its index. body holds the
// instructions without the trailing end opcode.
func (m *Module) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		typ:    m.typeIndex(params, results),
		locals: locals,
		body:   bytes.Join(body, nil),
	})
	return m.funcImports + uint32(len(m.funcs)) - 1
}

// Memory defines the module memory with the given minimum page count and
// exports it as "memory".
func (m *Module) Memory(pages uint32) {
	m.hasMemory = true
	m.memoryPages = pages
	m.exports = append(m.exports, export{name: "memory", kind: kindMemory, index: 0})
}

// Export exports a function under name.
func (m *Module) Export(name string, fn uint32) {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, index: fn})
}

// Start sets the module start section.
func (m *Module) Start(fn uint32) {
	m.start = &fn
}

// Data places b in memory at offset when the module is instantiated.
func (m *Module) Data(offset uint32, b []byte) {
	m.data = append(m.data, segment{offset: offset, data: b})
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(m.types) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.types))))
		for _, t := range m.types {
			s.WriteByte(0x60)
			s.Write(vec(valBytes(t.params)))
			s.Write(vec(valBytes(t.results)))
		}
		writeSection(&out, sectionType, s.Bytes())
	}

	if len(m.imports) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.imports))))
		for _, imp := range m.imports {
			s.Write(name(imp.module))
			s.Write(name(imp.name))
			s.WriteByte(imp.kind)
			s.Write(imp.desc)
		}
		writeSection(&out, sectionImport, s.Bytes())
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.funcs))))
		for _, f := range m.funcs {
			s.Write(uleb(uint64(f.typ)))
		}
		writeSection(&out, sectionFunction, s.Bytes())
	}

	if m.hasMemory {
		var s bytes.Buffer
		s.Write(uleb(1))
		s.WriteByte(0x00)
		s.Write(uleb(uint64(m.memoryPages)))
		writeSection(&out, sectionMemory, s.Bytes())
	}

	if len(m.exports) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.exports))))
		for _, e := range m.exports {
			s.Write(name(e.name))
			s.WriteByte(e.kind)
			s.Write(uleb(uint64(e.index)))
		}
		writeSection(&out, sectionExport, s.Bytes())
	}

	if m.start != nil {
		writeSection(&out, sectionStart, uleb(uint64(*m.start)))
	}

	if len(m.funcs) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.funcs))))
		for _, f := range m.funcs {
			var body bytes.Buffer
			body.Write(uleb(uint64(len(f.locals))))
			for _, l := range f.locals {
				body.Write(uleb(1))
				body.WriteByte(byte(l))
			}
			body.Write(f.body)
			body.WriteByte(opEnd)
			s.Write(uleb(uint64(body.Len())))
			s.Write(body.Bytes())
		}
		writeSection(&out, sectionCode, s.Bytes())
	}

	if len(m.data) > 0 {
		var s bytes.Buffer
		s.Write(uleb(uint64(len(m.data))))
		for _, d := range m.data {
			s.WriteByte(0x00)
			s.Write(I32Const(int32(d.offset)))
			s.WriteByte(opEnd)
			s.Write(vec(d.data))
		}
		writeSection(&out, sectionData, s.Bytes())
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, content []byte) {
	out.WriteByte(id)
	out.Write(uleb(uint64(len(content))))
	out.Write(content)
}

func valBytes(vs []ValType) []byte {
	b := make([]byte, len(vs))
	for i, v := range vs {
		b[i] = byte(v)
	}
	return b
}

func vec(b []byte) []byte {
	return append(uleb(uint64(len(b))), b...)
}

func name(s string) []byte {
	return vec([]byte(s))
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
