package sandbox

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-bridge/errors"
)

// Status is the terminal result of a run
type Status int

const (
	Completed Status = iota
	Trapped
	HostCancelled
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Trapped:
		return "trapped"
	case HostCancelled:
		return "host_cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TrapKind classifies a trapped run
type TrapKind int

const (
	TrapNone TrapKind = iota
	// TrapFault is a wasm-level fault: unreachable, out-of-bounds access,
	// integer divide by zero, stack exhaustion.
	TrapFault
	// TrapExit is proc_exit with a nonzero code.
	TrapExit
	// TrapResourceLimit is a run that exceeded Config.MaxExecTime.
	TrapResourceLimit
	// TrapHost is a failure raised by a host function.
	TrapHost
)

func (k TrapKind) String() string {
	switch k {
	case TrapNone:
		return "none"
	case TrapFault:
		return "fault"
	case TrapExit:
		return "exit"
	case TrapResourceLimit:
		return "resource_limit"
	case TrapHost:
		return "host"
	default:
		return fmt.Sprintf("trap(%d)", int(k))
	}
}

// Outcome is produced exactly once per run
type Outcome struct {
	cause    error
	id       string
	Reason   string
	Status   Status
	Trap     TrapKind
	ExitCode uint32
}

// Err returns nil for a completed run, an error matching errors.ErrTrap for
// a trapped run and one matching errors.ErrCancelled for a cancelled run.
func (o Outcome) Err() error {
	switch o.Status {
	case Completed:
		return nil
	case HostCancelled:
		return errors.Cancelled(o.id, o.cause)
	default:
		return errors.Trap(o.id, o.Trap.String()+": "+o.Reason, o.cause)
	}
}

func (o Outcome) String() string {
	switch o.Status {
	case Trapped:
		return fmt.Sprintf("trapped (%s): %s", o.Trap, o.Reason)
	case HostCancelled:
		return "host_cancelled: " + o.Reason
	default:
		return o.Status.String()
	}
}

var (
	errHostCancelled = stderrors.New("cancelled by host")
	errExecTimeout   = stderrors.New("execution time limit exceeded")
)

// classify maps the entrypoint's return to an Outcome. ctx is the run
// context; its cause separates host cancellation from the time limit.
// interrupted reports that the halves were released while the guest was
// still running, so a clean return after that is not a completion.
func classify(ctx context.Context, id string, err error, interrupted bool) Outcome {
	out := Outcome{id: id, cause: err}
	if err == nil {
		if interrupted {
			return stopped(ctx, out)
		}
		return out
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		switch code := exitErr.ExitCode(); code {
		case 0:
			out.cause = nil
			if interrupted {
				return stopped(ctx, out)
			}
			return out
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			// interrupted by wazero; the context cause decides below
		default:
			out.Status = Trapped
			out.Trap = TrapExit
			out.ExitCode = code
			out.Reason = fmt.Sprintf("exit status %d", code)
			return out
		}
	}

	if ctx.Err() != nil {
		return stopped(ctx, out)
	}

	out.Status = Trapped
	out.Reason = err.Error()
	if strings.Contains(out.Reason, "wasm error:") {
		out.Trap = TrapFault
	} else {
		out.Trap = TrapHost
	}
	return out
}

// stopped classifies a run that ended because ctx was done.
func stopped(ctx context.Context, out Outcome) Outcome {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = errHostCancelled
	}
	if cause == errExecTimeout {
		out.Status = Trapped
		out.Trap = TrapResourceLimit
	} else {
		out.Status = HostCancelled
	}
	out.Reason = cause.Error()
	return out
}
