package sandbox

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/testguest"
	"github.com/wippyai/wasm-bridge/pipe"
)

func run(t *testing.T, eng *Engine, bin []byte, sc *Context) (*Execution, Outcome) {
	t.Helper()
	ctx := context.Background()

	ep, err := eng.Instantiate(ctx, bin, sc)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return exec, out
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		bin      []byte
		status   Status
		trap     TrapKind
		exitCode uint32
	}{
		{"returns", testguest.Empty(), Completed, TrapNone, 0},
		{"exit zero", testguest.Exit(0), Completed, TrapNone, 0},
		{"exit nonzero", testguest.Exit(3), Trapped, TrapExit, 3},
		{"unreachable", testguest.Unreachable(), Trapped, TrapFault, 0},
	}

	eng := newTestEngine(t, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec, out := run(t, eng, tc.bin, nil)

			if out.Status != tc.status {
				t.Fatalf("status = %v, want %v (%s)", out.Status, tc.status, out.Reason)
			}
			if out.Trap != tc.trap {
				t.Errorf("trap = %v, want %v", out.Trap, tc.trap)
			}
			if out.ExitCode != tc.exitCode {
				t.Errorf("exit code = %d, want %d", out.ExitCode, tc.exitCode)
			}
			if got := exec.State(); got != out.Status.state() || !got.Terminal() {
				t.Errorf("state = %v", got)
			}

			err := out.Err()
			if tc.status == Completed {
				if err != nil {
					t.Errorf("Err() = %v", err)
				}
				return
			}
			if !stderrors.Is(err, errors.ErrTrap) {
				t.Errorf("Err() = %v, want trap", err)
			}
		})
	}
}

func TestStart_Twice(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	ep, err := eng.Instantiate(ctx, testguest.Empty(), nil)
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second, err := Start(ctx, ep)
	if second != nil {
		t.Error("second Start returned an execution")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindAlreadyStarted}) {
		t.Fatalf("err = %v, want already started", err)
	}

	if out, err := exec.Wait(ctx); err != nil || out.Status != Completed {
		t.Fatalf("first run: %v %v", out, err)
	}
}

func TestStart_AfterDiscard(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	stdoutR, stdoutW := pipe.New(8)

	ep, err := eng.Instantiate(ctx, testguest.Empty(), NewContext().WithStdout(stdoutW))
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Discard(ctx); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := Start(ctx, ep); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRun, Kind: errors.KindAlreadyStarted}) {
		t.Fatalf("err = %v, want already started", err)
	}
	if _, err := io.ReadAll(stdoutR); err != nil {
		t.Fatalf("stdout: %v", err)
	}
}

func TestRun_ClosesSandboxHalves(t *testing.T) {
	eng := newTestEngine(t, nil)

	stdinR, stdinW := pipe.New(16)
	stdoutR, stdoutW := pipe.New(16)
	stderrR, stderrW := pipe.New(16)
	sc := NewContext().WithStdin(stdinR).WithStdout(stdoutW).WithStderr(stderrW)

	_, out := run(t, eng, testguest.Print("ok\n", "warn\n"), sc)
	if out.Status != Completed {
		t.Fatalf("outcome = %v", out)
	}

	stdout, err := io.ReadAll(stdoutR)
	if err != nil || string(stdout) != "ok\n" {
		t.Errorf("stdout = %q, %v", stdout, err)
	}
	stderr, err := io.ReadAll(stderrR)
	if err != nil || string(stderr) != "warn\n" {
		t.Errorf("stderr = %q, %v", stderr, err)
	}
	if _, err := stdinW.Write([]byte("late")); !stderrors.Is(err, pipe.ErrClosed) {
		t.Errorf("write after run: err = %v, want ErrClosed", err)
	}
}

func TestRun_UnboundStdio(t *testing.T) {
	eng := newTestEngine(t, nil)

	// stdin reads as end of stream and output is discarded
	if _, out := run(t, eng, testguest.Echo(64), NewContext()); out.Status != Completed {
		t.Fatalf("echo: %v", out)
	}
	if _, out := run(t, eng, testguest.Print("dropped\n", "dropped\n"), NewContext()); out.Status != Completed {
		t.Fatalf("print: %v", out)
	}
}

func TestRun_EchoWithBackpressure(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	stdinR, stdinW := pipe.New(8)
	stdoutR, stdoutW := pipe.New(8)
	ep, err := eng.Instantiate(ctx, testguest.Echo(5), NewContext().WithStdin(stdinR).WithStdout(stdoutW))
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte("the quick brown fox\n"), 500)
	go func() {
		stdinW.Write(payload)
		stdinW.Close()
	}()

	got, err := io.ReadAll(stdoutR)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echoed %d bytes, want %d", len(got), len(payload))
	}
	if out, _ := exec.Wait(ctx); out.Status != Completed {
		t.Fatalf("outcome = %v", out)
	}
}

func TestCancel_BlockedOnStdin(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	stdinR, stdinW := pipe.New(8)
	stdoutR, stdoutW := pipe.New(8)
	ep, err := eng.Instantiate(ctx, testguest.Echo(8), NewContext().WithStdin(stdinR).WithStdout(stdoutW))
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}

	stdinW.Write([]byte("hi"))
	if got, err := stdoutR.ReadExact(ctx, 2); err != nil || string(got) != "hi" {
		t.Fatalf("echo = %q, %v", got, err)
	}

	exec.Cancel()
	exec.Cancel()

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := stdoutR.ReadExact(readCtx, 1); !stderrors.Is(err, pipe.ErrEndOfStream) {
		t.Fatalf("read after cancel: err = %v, want end of stream", err)
	}

	out, err := exec.Wait(readCtx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != HostCancelled {
		t.Fatalf("outcome = %v, want host cancelled", out)
	}
	if !stderrors.Is(out.Err(), errors.ErrCancelled) {
		t.Errorf("Err() = %v", out.Err())
	}
	if exec.State() != StateHostCancelled {
		t.Errorf("state = %v", exec.State())
	}
}

func TestCancel_GuestIgnoresReadError(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	stdinR, stdinW := pipe.New(8)
	defer stdinW.Close()
	ep, err := eng.Instantiate(ctx, testguest.ReadOnce(), NewContext().WithStdin(stdinR))
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}

	// let it park in fd_read
	time.Sleep(50 * time.Millisecond)
	exec.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.Wait(waitCtx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != HostCancelled {
		t.Fatalf("outcome = %v, want host cancelled", out)
	}
	if !stderrors.Is(out.Err(), errors.ErrCancelled) {
		t.Errorf("Err() = %v", out.Err())
	}
}

func TestRun_TimeLimitGuestIgnoresReadError(t *testing.T) {
	eng := newTestEngine(t, &Config{MaxExecTime: 50 * time.Millisecond})

	stdinR, stdinW := pipe.New(8)
	defer stdinW.Close()
	_, out := run(t, eng, testguest.ReadOnce(), NewContext().WithStdin(stdinR))
	if out.Status != Trapped || out.Trap != TrapResourceLimit {
		t.Fatalf("outcome = %v, want resource limit trap", out)
	}
}

func TestCancel_Spinning(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	ep, err := eng.Instantiate(ctx, testguest.Spin(), nil)
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}

	// Wait giving up leaves the run alone.
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := exec.Wait(shortCtx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v", err)
	}
	if exec.State() != StateRunning {
		t.Fatalf("state = %v, want running", exec.State())
	}

	exec.Cancel()
	waitCtx, cancelWait := context.WithTimeout(ctx, 5*time.Second)
	defer cancelWait()
	out, err := exec.Wait(waitCtx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != HostCancelled {
		t.Fatalf("outcome = %v, want host cancelled", out)
	}
}

func TestCancel_StartContext(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ep, err := eng.Instantiate(ctx, testguest.Spin(), nil)
	if err != nil {
		t.Fatal(err)
	}
	exec, err := Start(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-exec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run not interrupted")
	}
	if out, _ := exec.Wait(context.Background()); out.Status != HostCancelled {
		t.Fatalf("outcome = %v", out)
	}
}

func TestCancel_AfterCompletion(t *testing.T) {
	eng := newTestEngine(t, nil)
	exec, out := run(t, eng, testguest.Empty(), nil)
	exec.Cancel()

	again, _ := exec.Wait(context.Background())
	if out.Status != Completed || again.Status != Completed {
		t.Fatalf("outcome changed: %v -> %v", out, again)
	}
}

func TestRun_TimeLimit(t *testing.T) {
	eng := newTestEngine(t, &Config{MaxExecTime: 50 * time.Millisecond})

	_, out := run(t, eng, testguest.Spin(), nil)
	if out.Status != Trapped || out.Trap != TrapResourceLimit {
		t.Fatalf("outcome = %v, want resource limit trap", out)
	}
}

func TestRun_TimeLimitWhileBlocked(t *testing.T) {
	eng := newTestEngine(t, &Config{MaxExecTime: 50 * time.Millisecond})
	stdinR, _ := pipe.New(8)

	_, out := run(t, eng, testguest.Echo(8), NewContext().WithStdin(stdinR))
	if out.Status != Trapped || out.Trap != TrapResourceLimit {
		t.Fatalf("outcome = %v, want resource limit trap", out)
	}
}

func TestRun_NamedEntrypoint(t *testing.T) {
	eng := newTestEngine(t, &Config{Entrypoint: "run"})

	exec, out := run(t, eng, testguest.NamedEntry("run"), nil)
	if out.Status != Completed {
		t.Fatalf("outcome = %v", out)
	}
	if exec.ID() == "" {
		t.Error("empty execution id")
	}
}

func TestRun_Span(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	eng := newTestEngine(t, &Config{TracerProvider: tp})

	exec, _ := run(t, eng, testguest.Unreachable(), nil)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "sandbox.run" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v", span.Status())
	}

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["sandbox.id"] != exec.ID() {
		t.Errorf("sandbox.id = %q, want %q", attrs["sandbox.id"], exec.ID())
	}
	if attrs["sandbox.outcome"] != "trapped" || attrs["sandbox.trap"] != "fault" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestClassify(t *testing.T) {
	live := context.Background()

	timedOut, cancel := context.WithTimeoutCause(live, 0, errExecTimeout)
	defer cancel()
	<-timedOut.Done()

	dropped, drop := context.WithCancelCause(live)
	drop(errHostCancelled)

	tests := []struct {
		ctx         context.Context
		err         error
		name        string
		interrupted bool
		status      Status
		trap        TrapKind
	}{
		{live, nil, "nil", false, Completed, TrapNone},
		{live, sys.NewExitError(0), "exit 0", false, Completed, TrapNone},
		{live, sys.NewExitError(7), "exit 7", false, Trapped, TrapExit},
		{live, stderrors.New("wasm error: integer divide by zero"), "fault", false, Trapped, TrapFault},
		{live, stderrors.New("host function panicked"), "host", false, Trapped, TrapHost},
		{timedOut, sys.NewExitError(sys.ExitCodeDeadlineExceeded), "time limit", true, Trapped, TrapResourceLimit},
		{dropped, sys.NewExitError(sys.ExitCodeContextCanceled), "cancelled", true, HostCancelled, TrapNone},
		{dropped, stderrors.New("wasm error: unreachable"), "cancelled while blocked", true, HostCancelled, TrapNone},
		{dropped, nil, "completed before cancel", false, Completed, TrapNone},
		{dropped, nil, "returned after cancel", true, HostCancelled, TrapNone},
		{dropped, sys.NewExitError(0), "exit 0 after cancel", true, HostCancelled, TrapNone},
		{timedOut, nil, "returned after time limit", true, Trapped, TrapResourceLimit},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := classify(tc.ctx, "id", tc.err, tc.interrupted)
			if out.Status != tc.status || out.Trap != tc.trap {
				t.Fatalf("classify = %v/%v, want %v/%v", out.Status, out.Trap, tc.status, tc.trap)
			}
		})
	}
}
