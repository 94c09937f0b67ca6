package sandbox

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// State is the lifecycle position of an execution
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateTrapped
	StateHostCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTrapped:
		return "trapped"
	case StateHostCancelled:
		return "host_cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is final
func (s State) Terminal() bool {
	return s >= StateCompleted
}

func (s Status) state() State {
	switch s {
	case Trapped:
		return StateTrapped
	case HostCancelled:
		return StateHostCancelled
	default:
		return StateCompleted
	}
}

// Execution is a running entrypoint. The guest runs on its own goroutine
// and makes progress whether or not anyone waits on it.
type Execution struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	id      string
	outcome Outcome
	state   atomic.Int32
}

// Start consumes ep and runs its entrypoint on a new goroutine. A second
// Start on the same Entrypoint fails with KindAlreadyStarted and schedules
// nothing. Cancelling ctx cancels the run.
func Start(ctx context.Context, ep *Entrypoint) (*Execution, error) {
	if ep == nil {
		return nil, errors.InvalidInput(errors.PhaseRun, "nil entrypoint")
	}
	if err := ep.claim(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	stopTimer := context.CancelFunc(func() {})
	if d := ep.engine.cfg.MaxExecTime; d > 0 {
		runCtx, stopTimer = context.WithTimeoutCause(runCtx, d, errExecTimeout)
	}

	runCtx, span := ep.engine.tracer.Start(runCtx, "sandbox.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sandbox.id", ep.id),
			attribute.String("sandbox.entrypoint", ep.name),
		))

	x := &Execution{
		cancel: cancel,
		done:   make(chan struct{}),
		id:     ep.id,
	}
	x.state.Store(int32(StateCreated))

	Logger().Debug("sandbox started", zap.String("id", ep.id))

	x.state.Store(int32(StateRunning))
	go x.run(runCtx, ep, span, stopTimer)
	return x, nil
}

func (x *Execution) run(ctx context.Context, ep *Entrypoint, span trace.Span, stopTimer context.CancelFunc) {
	defer close(x.done)
	defer x.cancel(nil)
	defer stopTimer()

	// A guest parked in fd_read or fd_write is inside host code that wazero
	// does not interrupt. Closing its halves wakes it.
	stop := context.AfterFunc(ctx, ep.sc.release)
	_, err := ep.fn.Call(ctx)
	interrupted := !stop()

	out := classify(ctx, ep.id, err, interrupted)

	ep.sc.release()
	if cerr := ep.module.Close(context.WithoutCancel(ctx)); cerr != nil {
		Logger().Debug("module close failed", zap.String("id", ep.id), zap.Error(cerr))
	}

	x.outcome = out
	x.state.Store(int32(out.Status.state()))

	span.SetAttributes(attribute.String("sandbox.outcome", out.Status.String()))
	if out.Status == Trapped {
		span.SetAttributes(
			attribute.String("sandbox.trap", out.Trap.String()),
			attribute.Int64("sandbox.exit_code", int64(out.ExitCode)),
		)
		span.SetStatus(codes.Error, out.Reason)
	}
	span.End()

	switch out.Status {
	case Completed:
		Logger().Debug("sandbox completed", zap.String("id", ep.id))
	case Trapped:
		Logger().Info("sandbox trapped",
			zap.String("id", ep.id),
			zap.Stringer("trap", out.Trap),
			zap.String("reason", out.Reason))
	case HostCancelled:
		Logger().Debug("sandbox cancelled", zap.String("id", ep.id), zap.String("reason", out.Reason))
	}
}

// ID returns the instance id
func (x *Execution) ID() string {
	return x.id
}

// State returns the current lifecycle state
func (x *Execution) State() State {
	return State(x.state.Load())
}

// Done is closed once the outcome is available
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Wait blocks until the run ends and returns its outcome. If ctx ends
// first, Wait returns ctx's error and the run continues.
func (x *Execution) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-x.done:
		return x.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel abandons the run. The guest is interrupted and the outcome is
// HostCancelled unless it had already completed. Safe to call repeatedly.
func (x *Execution) Cancel() {
	x.cancel(errHostCancelled)
}
