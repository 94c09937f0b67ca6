package sandbox

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultEntrypoint is the WASI command entrypoint.
const DefaultEntrypoint = "_start"

// Config holds configuration for engine creation
type Config struct {
	// TracerProvider supplies the tracer for run spans.
	// nil means the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider

	// Entrypoint is the export invoked by Start. Empty means "_start".
	// It must take no parameters and return no results.
	Entrypoint string

	// MaxExecTime bounds a single run. A run that exceeds it traps with
	// TrapResourceLimit. 0 means no limit.
	MaxExecTime time.Duration

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.Entrypoint == "" {
		out.Entrypoint = DefaultEntrypoint
	}
	return out
}
