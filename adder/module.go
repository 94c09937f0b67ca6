package adder

import (
	"sync"

	"github.com/wippyai/wasm-bridge/wasm"
)

// InvalidTokenMessage is written to stderr before the guest traps on input
// that is not a decimal u64.
const InvalidTokenMessage = "adder: invalid token\n"

// Linear memory layout of the guest.
const (
	iovIn     = 0   // {ptr, len} for fd_read
	nread     = 8   // bytes read by fd_read
	iovOut    = 16  // {ptr, len} for fd_write
	nwritten  = 24  // bytes written by fd_write
	inByte    = 32  // single byte read buffer
	pending   = 40  // i64 first token of the current pair
	hasPend   = 48  // i32 flag: pending holds a value
	digitsEnd = 95  // newline slot; digits are written backwards from here
	msgAddr   = 128 // InvalidTokenMessage
)

// maxDiv10 is the largest accumulator that can take another digit, as u64.
const maxDiv10 = 1844674407370955161

var (
	moduleOnce  sync.Once
	moduleBytes []byte
)

// Module returns the guest binary. The slice is shared; callers must not modify it.
func Module() []byte {
	moduleOnce.Do(func() {
		moduleBytes = build()
	})
	return moduleBytes
}

func build() []byte {
	ioFunc := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	takesI64 := wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}}
	void := wasm.FuncType{}

	m := wasm.NewModule()
	fdRead := m.ImportFunc("wasi_snapshot_preview1", "fd_read", ioFunc)
	fdWrite := m.ImportFunc("wasi_snapshot_preview1", "fd_write", ioFunc)
	m.Memory(1, "memory")
	m.Data(msgAddr, []byte(InvalidTokenMessage))

	// emit(v): write decimal v and a newline to fd 1.
	const emitV, emitP = 0, 1
	emit := m.Func(takesI64, []wasm.ValType{wasm.ValI32}, wasm.NewCode().
		I32Const(digitsEnd).LocalSet(emitP).
		LocalGet(emitP).I32Const('\n').I32Store8(0).
		Loop().
		LocalGet(emitP).I32Const(1).I32Sub().LocalSet(emitP).
		LocalGet(emitP).
		LocalGet(emitV).I64Const(10).I64RemU().I32WrapI64().I32Const('0').I32Add().
		I32Store8(0).
		LocalGet(emitV).I64Const(10).I64DivU().LocalTee(emitV).
		I64Const(0).I64Ne().
		BrIf(0).
		End().
		I32Const(iovOut).LocalGet(emitP).I32Store(0).
		I32Const(iovOut+4).I32Const(digitsEnd+1).LocalGet(emitP).I32Sub().I32Store(0).
		I32Const(1).I32Const(iovOut).I32Const(1).I32Const(nwritten).Call(fdWrite).
		If().Unreachable().End())

	// fail(): report the bad token on fd 2 and trap.
	fail := m.Func(void, nil, wasm.NewCode().
		I32Const(iovOut).I32Const(msgAddr).I32Store(0).
		I32Const(iovOut+4).I32Const(int32(len(InvalidTokenMessage))).I32Store(0).
		I32Const(2).I32Const(iovOut).I32Const(1).I32Const(nwritten).Call(fdWrite).
		Drop().
		Unreachable())

	// token(v): hold the first token of a pair, emit the sum on the second.
	const tokenV = 0
	token := m.Func(takesI64, nil, wasm.NewCode().
		I32Const(hasPend).I32Load(0).
		If().
		I32Const(pending).I64Load(0).LocalGet(tokenV).I64Add().Call(emit).
		I32Const(hasPend).I32Const(0).I32Store(0).
		Else().
		I32Const(pending).LocalGet(tokenV).I64Store(0).
		I32Const(hasPend).I32Const(1).I32Store(0).
		End())

	// _start: read stdin one byte at a time until EOF.
	const acc, digits, c = 0, 1, 2
	start := m.Func(void, []wasm.ValType{wasm.ValI64, wasm.ValI32, wasm.ValI32}, wasm.NewCode().
		I32Const(iovIn).I32Const(inByte).I32Store(0).
		I32Const(iovIn+4).I32Const(1).I32Store(0).
		Block(). // depth 1 inside the loop: end of input
		Loop().  // depth 0: next byte
		I32Const(0).I32Const(iovIn).I32Const(1).I32Const(nread).Call(fdRead).
		If().Unreachable().End().
		I32Const(nread).I32Load(0).I32Eqz().BrIf(1).
		I32Const(inByte).I32Load8U(0).LocalSet(c).
		// '\n' completes a token; an empty line is malformed.
		LocalGet(c).I32Const('\n').I32Eq().
		If().
		LocalGet(digits).I32Eqz().If().Call(fail).End().
		LocalGet(acc).Call(token).
		I64Const(0).LocalSet(acc).
		I32Const(0).LocalSet(digits).
		Br(1).
		End().
		// '\r' is dropped so CRLF input parses like LF.
		LocalGet(c).I32Const('\r').I32Eq().BrIf(0).
		LocalGet(c).I32Const('0').I32Sub().LocalTee(c).I32Const(9).I32GtU().
		If().Call(fail).End().
		// acc*10 + c must not overflow u64.
		LocalGet(acc).I64Const(maxDiv10).I64GtU().
		If().Call(fail).End().
		LocalGet(acc).I64Const(maxDiv10).I64Eq().
		LocalGet(c).I32Const(5).I32GtU().
		I32And().
		If().Call(fail).End().
		LocalGet(acc).I64Const(10).I64Mul().LocalGet(c).I64ExtendI32U().I64Add().LocalSet(acc).
		I32Const(1).LocalSet(digits).
		Br(0).
		End().
		End().
		// A final token without a trailing newline still counts.
		LocalGet(digits).
		If().LocalGet(acc).Call(token).End())

	m.ExportFunc("_start", start)
	return m.Encode()
}
