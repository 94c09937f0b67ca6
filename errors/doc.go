// Package errors provides structured error types for the sandbox bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Each Error may carry the sandbox instance id, a human-readable
// detail and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindMissingExport).
//		Instance(id).
//		Detail("export %q not found", "_start").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingExport("_start")
//	err := errors.Trap(reason, cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind agree.
package errors
