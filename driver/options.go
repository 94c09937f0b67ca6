package driver

import "github.com/wippyai/wasm-bridge/pipe"

type options struct {
	env      map[string]string
	args     []string
	capacity int
}

// Option configures Launch
type Option func(*options)

// WithCapacity sets the capacity of each of the three channels.
// Values <= 0 mean pipe.DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithArgs sets the guest's command-line arguments
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = args
	}
}

// WithEnv sets the guest's environment variables
func WithEnv(env map[string]string) Option {
	return func(o *options) {
		o.env = env
	}
}

func buildOptions(opts []Option) options {
	o := options{capacity: pipe.DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.capacity <= 0 {
		o.capacity = pipe.DefaultCapacity
	}
	return o
}
