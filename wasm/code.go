package wasm

// Opcodes used by Code.
const (
	opUnreachable byte = 0x00
	opNop         byte = 0x01
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opDrop        byte = 0x1A

	opLocalGet byte = 0x20
	opLocalSet byte = 0x21
	opLocalTee byte = 0x22

	opI32Load   byte = 0x28
	opI64Load   byte = 0x29
	opI32Load8U byte = 0x2D
	opI32Store  byte = 0x36
	opI64Store  byte = 0x37
	opI32Store8 byte = 0x3A

	opI32Const byte = 0x41
	opI64Const byte = 0x42

	opI32Eqz byte = 0x45
	opI32Eq  byte = 0x46
	opI32Ne  byte = 0x47
	opI32LtU byte = 0x49
	opI32GtU byte = 0x4B
	opI64Eqz byte = 0x50
	opI64Eq  byte = 0x51
	opI64Ne  byte = 0x52
	opI64GtU byte = 0x56

	opI32Add  byte = 0x6A
	opI32Sub  byte = 0x6B
	opI32And  byte = 0x71
	opI64Add  byte = 0x7C
	opI64Mul  byte = 0x7E
	opI64DivU byte = 0x80
	opI64RemU byte = 0x82

	opI32WrapI64    byte = 0xA7
	opI64ExtendI32U byte = 0xAD
)

// Code is a function body under construction. Methods append one
// instruction each and return the receiver so calls can be chained.
type Code struct {
	buf []byte
}

// NewCode returns an empty instruction sequence.
func NewCode() *Code {
	return &Code{}
}

// Bytes returns the encoded instructions without the final end opcode.
func (c *Code) Bytes() []byte {
	return c.buf
}

func (c *Code) op(b byte) *Code {
	c.buf = append(c.buf, b)
	return c
}

func (c *Code) opIdx(b byte, idx uint32) *Code {
	c.buf = append(c.buf, b)
	c.buf = AppendLEB128u(c.buf, idx)
	return c
}

// memarg appends a memory access with the given log2 alignment and offset.
func (c *Code) memarg(b byte, align, offset uint32) *Code {
	c.buf = append(c.buf, b)
	c.buf = AppendLEB128u(c.buf, align)
	c.buf = AppendLEB128u(c.buf, offset)
	return c
}

// Control flow. Block, Loop and If take no parameters and produce no results.

func (c *Code) Unreachable() *Code { return c.op(opUnreachable) }
func (c *Code) Nop() *Code         { return c.op(opNop) }
func (c *Code) Block() *Code       { return c.op(opBlock).op(blockTypeEmpty) }
func (c *Code) Loop() *Code        { return c.op(opLoop).op(blockTypeEmpty) }
func (c *Code) If() *Code          { return c.op(opIf).op(blockTypeEmpty) }
func (c *Code) Else() *Code        { return c.op(opElse) }
func (c *Code) End() *Code         { return c.op(opEnd) }
func (c *Code) Br(depth uint32) *Code {
	return c.opIdx(opBr, depth)
}
func (c *Code) BrIf(depth uint32) *Code {
	return c.opIdx(opBrIf, depth)
}
func (c *Code) Return() *Code { return c.op(opReturn) }
func (c *Code) Call(funcIdx uint32) *Code {
	return c.opIdx(opCall, funcIdx)
}
func (c *Code) Drop() *Code { return c.op(opDrop) }

// Locals.

func (c *Code) LocalGet(idx uint32) *Code { return c.opIdx(opLocalGet, idx) }
func (c *Code) LocalSet(idx uint32) *Code { return c.opIdx(opLocalSet, idx) }
func (c *Code) LocalTee(idx uint32) *Code { return c.opIdx(opLocalTee, idx) }

// Memory. Offsets are static byte offsets added to the address operand.

func (c *Code) I32Load(offset uint32) *Code   { return c.memarg(opI32Load, 2, offset) }
func (c *Code) I64Load(offset uint32) *Code   { return c.memarg(opI64Load, 3, offset) }
func (c *Code) I32Load8U(offset uint32) *Code { return c.memarg(opI32Load8U, 0, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.memarg(opI32Store, 2, offset) }
func (c *Code) I64Store(offset uint32) *Code  { return c.memarg(opI64Store, 3, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(opI32Store8, 0, offset) }

// Constants.

func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, opI32Const)
	c.buf = AppendLEB128s(c.buf, v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf = append(c.buf, opI64Const)
	c.buf = AppendLEB128s64(c.buf, v)
	return c
}

// Numeric.

func (c *Code) I32Eqz() *Code        { return c.op(opI32Eqz) }
func (c *Code) I32Eq() *Code         { return c.op(opI32Eq) }
func (c *Code) I32Ne() *Code         { return c.op(opI32Ne) }
func (c *Code) I32LtU() *Code        { return c.op(opI32LtU) }
func (c *Code) I32GtU() *Code        { return c.op(opI32GtU) }
func (c *Code) I64Eqz() *Code        { return c.op(opI64Eqz) }
func (c *Code) I64Eq() *Code         { return c.op(opI64Eq) }
func (c *Code) I64Ne() *Code         { return c.op(opI64Ne) }
func (c *Code) I64GtU() *Code        { return c.op(opI64GtU) }
func (c *Code) I32Add() *Code        { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code        { return c.op(opI32Sub) }
func (c *Code) I32And() *Code        { return c.op(opI32And) }
func (c *Code) I64Add() *Code        { return c.op(opI64Add) }
func (c *Code) I64Mul() *Code        { return c.op(opI64Mul) }
func (c *Code) I64DivU() *Code       { return c.op(opI64DivU) }
func (c *Code) I64RemU() *Code       { return c.op(opI64RemU) }
func (c *Code) I32WrapI64() *Code    { return c.op(opI32WrapI64) }
func (c *Code) I64ExtendI32U() *Code { return c.op(opI64ExtendI32U) }
