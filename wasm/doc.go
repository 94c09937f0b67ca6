// Package wasm builds small WebAssembly core modules in memory.
//
// It covers the subset of the binary format needed to assemble WASI command
// modules by hand: function types, function imports, one linear memory,
// active data segments, exports and function bodies built with Code.
//
//	m := wasm.NewModule()
//	fdWrite := m.ImportFunc("wasi_snapshot_preview1", "fd_write", wasm.FuncType{
//		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32},
//		Results: []wasm.ValType{wasm.ValI32},
//	})
//	m.Memory(1, "memory")
//	start := m.Func(wasm.FuncType{}, nil, wasm.NewCode().Nop())
//	m.ExportFunc("_start", start)
//	bin := m.Encode()
//
// Imports must be declared before any function is defined, because imported
// functions occupy the low end of the function index space.
package wasm
