package wasm

import (
	"encoding/binary"
	"slices"
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (f FuncType) equal(o FuncType) bool {
	return slices.Equal(f.Params, o.Params) && slices.Equal(f.Results, o.Results)
}

type funcImport struct {
	module  string
	name    string
	typeIdx uint32
}

type function struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type dataSegment struct {
	init   []byte
	offset uint32
}

// Module accumulates definitions and encodes them as a binary module.
type Module struct {
	types    []FuncType
	imports  []funcImport
	funcs    []function
	exports  []export
	data     []dataSegment
	memPages uint32
	hasMem   bool
}

// NewModule returns an empty module.
func NewModule() *Module {
	return &Module{}
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// It panics if called after Func.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasm: imports must be declared before functions")
	}
	m.imports = append(m.imports, funcImport{module: module, name: name, typeIdx: m.typeIndex(ft)})
	return uint32(len(m.imports) - 1)
}

// FuncIndex returns the index the next Func call will be assigned.
// Useful for functions that call each other before both are defined.
func (m *Module) FuncIndex() uint32 {
	return uint32(len(m.imports) + len(m.funcs))
}

// Func defines a function and returns its index. The terminating end opcode
// is appended automatically.
func (m *Module) Func(ft FuncType, locals []ValType, body *Code) uint32 {
	idx := m.FuncIndex()
	code := append(slices.Clone(body.Bytes()), opEnd)
	m.funcs = append(m.funcs, function{typeIdx: m.typeIndex(ft), locals: locals, body: code})
	return idx
}

// Memory defines the module's linear memory with the given minimum page
// count. A non-empty exportName also exports it.
func (m *Module) Memory(minPages uint32, exportName string) {
	m.memPages = minPages
	m.hasMem = true
	if exportName != "" {
		m.exports = append(m.exports, export{name: exportName, kind: KindMemory, idx: 0})
	}
}

// ExportFunc exports function idx under name.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: KindFunc, idx: idx})
}

// Data places init at offset in memory 0 at instantiation time.
func (m *Module) Data(offset uint32, init []byte) {
	m.data = append(m.data, dataSegment{offset: offset, init: slices.Clone(init)})
}

// Encode returns the binary module.
func (m *Module) Encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, Magic)
	out = binary.LittleEndian.AppendUint32(out, Version)

	if len(m.types) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.types)))
		for _, ft := range m.types {
			sec = append(sec, funcTypeMarker)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		out = appendSection(out, SectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, KindFunc)
			sec = AppendLEB128u(sec, imp.typeIdx)
		}
		out = appendSection(out, SectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec = AppendLEB128u(sec, f.typeIdx)
		}
		out = appendSection(out, SectionFunction, sec)
	}

	if m.hasMem {
		sec := AppendLEB128u(nil, 1)
		sec = append(sec, 0x00) // limits: min only
		sec = AppendLEB128u(sec, m.memPages)
		out = appendSection(out, SectionMemory, sec)
	}

	if len(m.exports) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.exports)))
		for _, e := range m.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = AppendLEB128u(sec, e.idx)
		}
		out = appendSection(out, SectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := appendLocals(nil, f.locals)
			body = append(body, f.body...)
			sec = AppendLEB128u(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, SectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := AppendLEB128u(nil, uint32(len(m.data)))
		for _, d := range m.data {
			sec = append(sec, 0x00) // active, memory 0
			sec = append(sec, opI32Const)
			sec = AppendLEB128s(sec, int32(d.offset))
			sec = append(sec, opEnd)
			sec = AppendLEB128u(sec, uint32(len(d.init)))
			sec = append(sec, d.init...)
		}
		out = appendSection(out, SectionData, sec)
	}

	return out
}

func appendSection(dst []byte, id byte, content []byte) []byte {
	dst = append(dst, id)
	dst = AppendLEB128u(dst, uint32(len(content)))
	return append(dst, content...)
}

func appendName(dst []byte, s string) []byte {
	dst = AppendLEB128u(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendValTypes(dst []byte, vts []ValType) []byte {
	dst = AppendLEB128u(dst, uint32(len(vts)))
	for _, vt := range vts {
		dst = append(dst, byte(vt))
	}
	return dst
}

// appendLocals run-length encodes local declarations.
func appendLocals(dst []byte, locals []ValType) []byte {
	type group struct {
		vt    ValType
		count uint32
	}
	var groups []group
	for _, vt := range locals {
		if n := len(groups); n > 0 && groups[n-1].vt == vt {
			groups[n-1].count++
			continue
		}
		groups = append(groups, group{vt: vt, count: 1})
	}
	dst = AppendLEB128u(dst, uint32(len(groups)))
	for _, g := range groups {
		dst = AppendLEB128u(dst, g.count)
		dst = append(dst, byte(g.vt))
	}
	return dst
}
