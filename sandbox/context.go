package sandbox

import (
	"maps"
	"sync/atomic"

	"github.com/wippyai/wasm-bridge/pipe"
)

// Context binds channel halves to the guest's standard streams. It belongs
// to exactly one instance: Instantiate refuses a Context that is already
// bound. Use builder methods to set it up.
//
// An unset stdin reads as immediately at end of stream; unset stdout and
// stderr discard what the guest writes.
type Context struct {
	stdin  *pipe.Reader
	stdout *pipe.Writer
	stderr *pipe.Writer
	env    map[string]string
	args   []string
	bound  atomic.Bool
}

// NewContext creates an empty sandbox context
func NewContext() *Context {
	return &Context{env: make(map[string]string)}
}

// WithStdin binds the read half the guest sees as fd 0
func (c *Context) WithStdin(r *pipe.Reader) *Context {
	c.stdin = r
	return c
}

// WithStdout binds the write half the guest sees as fd 1
func (c *Context) WithStdout(w *pipe.Writer) *Context {
	c.stdout = w
	return c
}

// WithStderr binds the write half the guest sees as fd 2
func (c *Context) WithStderr(w *pipe.Writer) *Context {
	c.stderr = w
	return c
}

// WithArgs sets command-line arguments. args[0] is the program name.
func (c *Context) WithArgs(args ...string) *Context {
	c.args = args
	return c
}

// WithEnv sets environment variables
func (c *Context) WithEnv(env map[string]string) *Context {
	c.env = maps.Clone(env)
	return c
}

func (c *Context) bind() bool {
	return c.bound.CompareAndSwap(false, true)
}

// release closes every sandbox-side half. Safe to call repeatedly and
// concurrently with guest I/O.
func (c *Context) release() {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.stderr != nil {
		_ = c.stderr.Close()
	}
}
