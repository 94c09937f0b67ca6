// Package sandbox runs a single-entrypoint WASI module in isolation and wires
// its standard streams to pipe channels owned by the host.
//
// # Quick Start
//
//	ctx := context.Background()
//	eng, err := sandbox.NewEngine(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	stdinR, stdinW := pipe.New(pipe.DefaultCapacity)
//	stdoutR, stdoutW := pipe.New(pipe.DefaultCapacity)
//
//	sc := sandbox.NewContext().WithStdin(stdinR).WithStdout(stdoutW)
//	ep, err := eng.Instantiate(ctx, wasmBytes, sc)
//	if err != nil {
//	    log.Fatal(err) // sandbox.IsLoadError(err) == true
//	}
//
//	exec, err := sandbox.Start(ctx, ep)
//	...
//	// write to stdinW and read from stdoutR concurrently, then:
//	outcome, err := exec.Wait(ctx)
//
// # Lifecycle
//
// Instantiate compiles the module (cached by content digest), binds the
// Context's channel halves as stdin/stdout/stderr and stops before running
// anything. Start consumes the Entrypoint and runs it on its own goroutine:
//
//	Created -> Running -> Completed | Trapped | HostCancelled
//
// Terminal states are final. An Entrypoint can be started once; a second
// Start fails before anything is scheduled.
//
// When the entrypoint returns, for whatever reason, the sandbox-side channel
// halves are closed: the host sees end of stream on stdout and stderr, and
// further writes to stdin fail with pipe.ErrClosed. The module instance is
// then torn down.
//
// # Cancellation
//
// Execution.Cancel (or cancelling the context given to Start) interrupts the
// guest. A guest blocked on a channel is released by closing its halves; a
// guest spinning in wasm code is stopped by wazero at the next function call
// or loop back-edge. The outcome is HostCancelled unless the guest had
// already returned.
//
// # Deadlock hazard
//
// Channels are bounded. A host that writes all input before it starts
// reading output can deadlock once unread output fills the stdout channel.
// The driver package structures feeding and draining as concurrent tasks.
package sandbox
