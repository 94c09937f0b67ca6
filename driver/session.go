package driver

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/pipe"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// FeedFunc writes the guest's input. Drive closes w when it returns. ctx is
// also cancelled once the guest exits, so a feed waiting on its own source
// can stop.
type FeedFunc func(ctx context.Context, w *pipe.Writer) error

// DrainFunc consumes the guest's output. It normally reads until r reports
// end of stream.
type DrainFunc func(ctx context.Context, r *pipe.Reader) error

const maxStderrLine = 64 * 1024

// Session is one running sandbox with host-side channel halves.
type Session struct {
	exec       *sandbox.Execution
	stdin      *pipe.Writer
	stdout     *pipe.Reader
	stderr     *pipe.Reader
	stderrDone chan struct{}
	launchDone <-chan struct{}
	lines      []string
	mu         sync.Mutex
	driven     atomic.Bool
	cancelled  atomic.Bool
}

var errGuestExited = stderrors.New("guest exited")

// Launch instantiates wasmBytes on eng and starts its entrypoint. ctx
// governs the whole run: cancelling it cancels the guest. A load error
// leaves nothing running.
func Launch(ctx context.Context, eng *sandbox.Engine, wasmBytes []byte, opts ...Option) (*Session, error) {
	o := buildOptions(opts)

	stdinR, stdinW := pipe.New(o.capacity)
	stdoutR, stdoutW := pipe.New(o.capacity)
	stderrR, stderrW := pipe.New(o.capacity)

	sc := sandbox.NewContext().
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStderr(stderrW)
	if len(o.args) > 0 {
		sc.WithArgs(o.args...)
	}
	if len(o.env) > 0 {
		sc.WithEnv(o.env)
	}

	ep, err := eng.Instantiate(ctx, wasmBytes, sc)
	if err != nil {
		return nil, err
	}

	exec, err := sandbox.Start(ctx, ep)
	if err != nil {
		return nil, err
	}

	s := &Session{
		exec:       exec,
		stdin:      stdinW,
		stdout:     stdoutR,
		stderr:     stderrR,
		stderrDone: make(chan struct{}),
		launchDone: ctx.Done(),
	}
	go s.pumpStderr()

	Logger().Debug("session launched", zap.String("id", exec.ID()), zap.Int("capacity", o.capacity))
	return s, nil
}

// Run launches wasmBytes and drives it to completion
func Run(ctx context.Context, eng *sandbox.Engine, wasmBytes []byte, feed FeedFunc, drain DrainFunc, opts ...Option) (sandbox.Outcome, error) {
	s, err := Launch(ctx, eng, wasmBytes, opts...)
	if err != nil {
		return sandbox.Outcome{}, err
	}
	return s.Drive(ctx, feed, drain)
}

// Drive runs feed and drain concurrently, closes stdin once feed returns
// and waits for the guest's outcome. A nil feed sends nothing; a nil drain
// discards output.
//
// The returned error matches errors.ErrTrap if the guest trapped and
// errors.ErrCancelled if the run was cancelled through ctx, the Launch
// context or Cancel. A failing feed or drain cancels the guest and yields a
// KindProtocol error. Writes that fail because the guest stopped reading
// are not feed failures; the outcome reports why the guest stopped.
//
// A session can be driven once.
func (s *Session) Drive(ctx context.Context, feed FeedFunc, drain DrainFunc) (sandbox.Outcome, error) {
	if !s.driven.CompareAndSwap(false, true) {
		return sandbox.Outcome{}, errors.InvalidInput(errors.PhaseStream, "session already driven")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.stdin.Close()
		if feed == nil {
			return nil
		}

		feedCtx, stopFeed := context.WithCancelCause(gctx)
		defer stopFeed(nil)
		go func() {
			select {
			case <-s.exec.Done():
				stopFeed(errGuestExited)
			case <-feedCtx.Done():
			}
		}()

		err := feed(feedCtx, s.stdin)
		if stderrors.Is(err, pipe.ErrClosed) || (err != nil && context.Cause(feedCtx) == errGuestExited) {
			Logger().Debug("guest stopped reading stdin", zap.String("id", s.exec.ID()))
			return nil
		}
		if err != nil {
			s.exec.Cancel()
			return fmt.Errorf("feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if drain == nil {
			drain = discard
		}
		if err := drain(gctx, s.stdout); err != nil {
			s.exec.Cancel()
			return fmt.Errorf("drain: %w", err)
		}
		return nil
	})

	if ioErr := g.Wait(); ioErr != nil {
		out, _ := s.exec.Wait(context.WithoutCancel(ctx))
		<-s.stderrDone
		Logger().Warn("stream protocol failed", zap.String("id", s.exec.ID()), zap.Error(ioErr))

		perr := errors.Protocol("drive sandbox streams", ioErr)
		switch {
		case out.Status == sandbox.HostCancelled && s.cancelledByHost(ctx):
			return out, stderrors.Join(out.Err(), perr)
		case out.Status == sandbox.Trapped:
			return out, stderrors.Join(out.Err(), perr)
		}
		return out, perr
	}

	out, err := s.exec.Wait(ctx)
	if err != nil {
		s.exec.Cancel()
		out, _ = s.exec.Wait(context.WithoutCancel(ctx))
	}
	<-s.stderrDone

	return out, out.Err()
}

// cancelledByHost reports whether the run was stopped through ctx, the
// Launch context or Cancel rather than by a failing feed or drain.
func (s *Session) cancelledByHost(ctx context.Context) bool {
	if ctx.Err() != nil || s.cancelled.Load() {
		return true
	}
	select {
	case <-s.launchDone:
		return true
	default:
		return false
	}
}

func discard(ctx context.Context, r *pipe.Reader) error {
	buf := make([]byte, 4096)
	for {
		if _, err := r.ReadContext(ctx, buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *Session) pumpStderr() {
	defer close(s.stderrDone)

	sc := bufio.NewScanner(s.stderr)
	sc.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for sc.Scan() {
		line := sc.Text()
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
		Logger().Warn("guest stderr", zap.String("id", s.exec.ID()), zap.String("line", line))
	}
	if err := sc.Err(); err != nil {
		Logger().Warn("guest stderr unreadable", zap.String("id", s.exec.ID()), zap.Error(err))
		// keep the guest from blocking on a full stderr channel
		_, _ = io.Copy(io.Discard, s.stderr)
	}
}

// Stderr returns the guest's stderr lines received so far. After Drive
// returns it holds everything the guest wrote.
func (s *Session) Stderr() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Stdout returns the host's read half of the guest's stdout, for reads
// after Drive such as ExpectEOF.
func (s *Session) Stdout() *pipe.Reader {
	return s.stdout
}

// ID returns the sandbox instance id
func (s *Session) ID() string {
	return s.exec.ID()
}

// State returns the execution's lifecycle state
func (s *Session) State() sandbox.State {
	return s.exec.State()
}

// Cancel abandons the run. Pending and future channel operations end and
// Drive returns an error matching errors.ErrCancelled.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.exec.Cancel()
}

// ExpectEOF checks that r has no n more bytes: an exact read of n bytes
// must fail with end of stream.
func ExpectEOF(ctx context.Context, r *pipe.Reader, n int) error {
	data, err := r.ReadExact(ctx, n)
	if stderrors.Is(err, pipe.ErrEndOfStream) {
		return nil
	}
	if err != nil {
		return err
	}
	return errors.Protocol(fmt.Sprintf("expected end of stream, read %q", data), nil)
}
