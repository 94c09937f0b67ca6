// Package testguest builds small WASI guest modules for tests.
package testguest

import "github.com/wippyai/wasm-bridge/wasm"

const wasi = "wasi_snapshot_preview1"

var (
	ioFunc = wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	exitFunc = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	void     = wasm.FuncType{}
)

// Memory layout shared by the guests.
const (
	iov    = 0  // {ptr, len}
	nbytes = 8  // fd_read/fd_write result count
	buf    = 64 // I/O buffer
)

func command(body *wasm.Code, locals ...wasm.ValType) []byte {
	m := wasm.NewModule()
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(void, locals, body))
	return m.Encode()
}

// Empty returns immediately.
func Empty() []byte {
	return command(wasm.NewCode())
}

// Unreachable traps on entry.
func Unreachable() []byte {
	return command(wasm.NewCode().Unreachable())
}

// Spin loops forever without touching its stdio.
func Spin() []byte {
	return command(wasm.NewCode().Loop().Br(0).End())
}

// Exit calls proc_exit(code).
func Exit(code uint32) []byte {
	m := wasm.NewModule()
	procExit := m.ImportFunc(wasi, "proc_exit", exitFunc)
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(void, nil, wasm.NewCode().
		I32Const(int32(code)).Call(procExit)))
	return m.Encode()
}

// Echo copies stdin to stdout in chunks of up to chunk bytes until end of
// stream. It traps if either stream fails.
func Echo(chunk int32) []byte {
	m := wasm.NewModule()
	fdRead := m.ImportFunc(wasi, "fd_read", ioFunc)
	fdWrite := m.ImportFunc(wasi, "fd_write", ioFunc)
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(void, nil, wasm.NewCode().
		Block().
		Loop().
		I32Const(iov).I32Const(buf).I32Store(0).
		I32Const(iov+4).I32Const(chunk).I32Store(0).
		I32Const(0).I32Const(iov).I32Const(1).I32Const(nbytes).Call(fdRead).
		If().Unreachable().End().
		I32Const(nbytes).I32Load(0).I32Eqz().BrIf(1).
		I32Const(iov+4).I32Const(nbytes).I32Load(0).I32Store(0).
		I32Const(1).I32Const(iov).I32Const(1).I32Const(nbytes).Call(fdWrite).
		If().Unreachable().End().
		Br(0).
		End().
		End()))
	return m.Encode()
}

// ReadOnce issues a single fd_read on stdin, discards the errno and
// returns.
func ReadOnce() []byte {
	m := wasm.NewModule()
	fdRead := m.ImportFunc(wasi, "fd_read", ioFunc)
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(void, nil, wasm.NewCode().
		I32Const(iov).I32Const(buf).I32Store(0).
		I32Const(iov+4).I32Const(8).I32Store(0).
		I32Const(0).I32Const(iov).I32Const(1).I32Const(nbytes).Call(fdRead).
		Drop()))
	return m.Encode()
}

// Print writes stdout to fd 1 and stderr to fd 2, then returns.
func Print(stdout, stderr string) []byte {
	m := wasm.NewModule()
	fdWrite := m.ImportFunc(wasi, "fd_write", ioFunc)
	m.Memory(1, "memory")

	outAddr := int32(buf)
	errAddr := outAddr + int32(len(stdout))
	m.Data(uint32(outAddr), []byte(stdout))
	m.Data(uint32(errAddr), []byte(stderr))

	write := func(c *wasm.Code, fd, addr int32, n int) *wasm.Code {
		if n == 0 {
			return c
		}
		return c.
			I32Const(iov).I32Const(addr).I32Store(0).
			I32Const(iov + 4).I32Const(int32(n)).I32Store(0).
			I32Const(fd).I32Const(iov).I32Const(1).I32Const(nbytes).Call(fdWrite).
			If().Unreachable().End()
	}

	body := wasm.NewCode()
	write(body, 2, errAddr, len(stderr))
	write(body, 1, outAddr, len(stdout))
	m.ExportFunc("_start", m.Func(void, nil, body))
	return m.Encode()
}

// NamedEntry exports a valid entrypoint under name instead of "_start".
func NamedEntry(name string) []byte {
	m := wasm.NewModule()
	m.Memory(1, "memory")
	m.ExportFunc(name, m.Func(void, nil, wasm.NewCode()))
	return m.Encode()
}

// BadSignature exports "_start" taking an i32.
func BadSignature() []byte {
	m := wasm.NewModule()
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, nil, wasm.NewCode()))
	return m.Encode()
}

// UnknownImport imports a function no host provides.
func UnknownImport() []byte {
	m := wasm.NewModule()
	missing := m.ImportFunc("env", "missing", void)
	m.Memory(1, "memory")
	m.ExportFunc("_start", m.Func(void, nil, wasm.NewCode().Call(missing)))
	return m.Encode()
}
