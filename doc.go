// Package wasmbridge embeds sandboxed WebAssembly guests in a Go host and
// talks to them only through bounded byte channels bound as the guest's
// stdin, stdout and stderr.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmbridge/          Root package, documentation only
//	├── pipe/            Bounded FIFO byte channel with independent halves
//	├── sandbox/         Instantiation, execution coordinator and outcomes (wazero)
//	├── driver/          Host side of the stream protocol: feed, drain, await
//	├── adder/           Example guest: pairwise u64 sums over stdin/stdout
//	├── wasm/            Core module binary builder used to produce guests
//	├── config/          YAML configuration for engine, channels and logging
//	├── errors/          Structured error types for debugging
//	└── cmd/run/         CLI: batch and interactive (TUI) runner
//
// # Quick Start
//
// Run the built-in adder guest:
//
//	eng, err := sandbox.NewEngine(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	var sums []uint64
//	_, err = driver.Run(ctx, eng, adder.Module(),
//	    adder.Feed([]uint64{1, 2, 3, 4, 5}),
//	    adder.Collect(&sums))
//	fmt.Println(sums) // [3 7]
//
// # Guest Contract
//
// A guest is a WASI preview1 command: a core module exporting "_start"
// with no parameters and no results. Its only I/O is fd 0, 1 and 2.
// Exceeding the configured execution time or memory limit traps.
//
// # Thread Safety
//
// Engine is safe for concurrent use; each instance runs on its own
// goroutine with its own store. A channel half must be used by one
// goroutine at a time.
//
// # Ordering
//
// Bytes arrive in the order written. The guest sees end of stream on stdin
// only after the host closes its write half, and the host sees end of
// stream on stdout only after the guest's entrypoint has returned.
package wasmbridge
