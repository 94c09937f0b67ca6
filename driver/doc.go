// Package driver runs the host side of the standard-stream protocol with a
// sandboxed guest.
//
// A Session owns the three channels of one sandbox run. Drive feeds stdin
// and drains stdout as two concurrent tasks, closes stdin as soon as the
// feed task returns, and then waits for the guest's outcome:
//
//	s, err := driver.Launch(ctx, eng, adder.Module())
//	if err != nil {
//	    return err // load error, nothing was started
//	}
//	var sums []uint64
//	outcome, err := s.Drive(ctx, adder.Feed(tokens), adder.Collect(&sums))
//
// Running feed and drain concurrently is what keeps bounded channels from
// deadlocking: a guest that produces output while it consumes input always
// finds a reader.
//
// Guest stderr is pumped by the session itself. Each line is logged at Warn
// and kept for Session.Stderr.
package driver
