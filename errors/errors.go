package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // decoding and compiling module bytes
	PhaseInstantiate Phase = "instantiate" // binding stdio and creating the store
	PhaseRun         Phase = "run"         // executing the entrypoint
	PhaseStream      Phase = "stream"      // host-side channel traffic
	PhaseConfig      Phase = "config"      // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedModule   Kind = "malformed_module"
	KindMissingExport     Kind = "missing_export"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindAlreadyStarted    Kind = "already_started"
	KindTrap              Kind = "trap"
	KindCancelled         Kind = "cancelled"
	KindInvalidInput      Kind = "invalid_input"
	KindProtocol          Kind = "protocol"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Instance string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Instance != "" {
		b.WriteString(" in sandbox ")
		b.WriteString(e.Instance)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Instance sets the sandbox instance id
func (b *Builder) Instance(id string) *Builder {
	b.err.Instance = id
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching on Phase and Kind alone.
var (
	ErrTrap      = &Error{Phase: PhaseRun, Kind: KindTrap}
	ErrCancelled = &Error{Phase: PhaseRun, Kind: KindCancelled}
)

// IsLoad reports whether err was produced while loading or instantiating a module.
func IsLoad(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && (e.Phase == PhaseLoad || e.Phase == PhaseInstantiate) {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors for common error patterns

// MalformedModule creates an error for bytes that do not decode as a module
func MalformedModule(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformedModule,
		Detail: "decode module",
		Cause:  cause,
	}
}

// MissingExport creates an error for an absent entrypoint export
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// SignatureMismatch creates an error for an entrypoint with the wrong type
func SignatureMismatch(name string, params, results int) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignatureMismatch,
		Detail: fmt.Sprintf("export %q has %d params and %d results, want none", name, params, results),
	}
}

// Instantiation creates an instantiation error
func Instantiation(id string, cause error) *Error {
	return &Error{
		Phase:    PhaseInstantiate,
		Kind:     KindInstantiation,
		Instance: id,
		Detail:   "instantiate module",
		Cause:    cause,
	}
}

// AlreadyStarted creates an error for a second run of a consumed entrypoint
func AlreadyStarted(id string) *Error {
	return &Error{
		Phase:    PhaseRun,
		Kind:     KindAlreadyStarted,
		Instance: id,
		Detail:   "entrypoint already consumed",
	}
}

// Trap creates a sandbox fault error
func Trap(id, reason string, cause error) *Error {
	return &Error{
		Phase:    PhaseRun,
		Kind:     KindTrap,
		Instance: id,
		Detail:   reason,
		Cause:    cause,
	}
}

// Cancelled creates an error for a run abandoned by the host
func Cancelled(id string, cause error) *Error {
	return &Error{
		Phase:    PhaseRun,
		Kind:     KindCancelled,
		Instance: id,
		Detail:   "run cancelled by host",
		Cause:    cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Protocol creates an error for a host driver that broke the stream protocol
func Protocol(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindProtocol,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
