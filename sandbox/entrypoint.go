package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
)

// Entrypoint is an instantiated sandbox that has not run yet. It is
// consumed by Start or Discard.
type Entrypoint struct {
	engine  *Engine
	module  api.Module
	fn      api.Function
	sc      *Context
	id      string
	name    string
	claimed atomic.Bool
}

// ID returns the instance id used in logs, spans and errors
func (ep *Entrypoint) ID() string {
	return ep.id
}

// Name returns the exported function Start will invoke
func (ep *Entrypoint) Name() string {
	return ep.name
}

func (ep *Entrypoint) claim() error {
	if !ep.claimed.CompareAndSwap(false, true) {
		return errors.AlreadyStarted(ep.id)
	}
	return nil
}

// Discard tears down an entrypoint that will never be started. The
// sandbox-side halves are closed so the host observes end of stream.
func (ep *Entrypoint) Discard(ctx context.Context) error {
	if err := ep.claim(); err != nil {
		return err
	}
	ep.sc.release()
	return ep.module.Close(ctx)
}
