package adder

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/wippyai/wasm-bridge/pipe"
)

// Encode renders tokens in the guest's input format.
func Encode(tokens []uint64) []byte {
	var out []byte
	for _, tok := range tokens {
		out = strconv.AppendUint(out, tok, 10)
		out = append(out, '\n')
	}
	return out
}

// Feed returns a feed function that writes tokens to the sandbox's stdin.
// Each token is written separately so a slow guest exerts backpressure
// token by token.
func Feed(tokens []uint64) func(context.Context, *pipe.Writer) error {
	return func(ctx context.Context, w *pipe.Writer) error {
		var line []byte
		for _, tok := range tokens {
			line = strconv.AppendUint(line[:0], tok, 10)
			line = append(line, '\n')
			if _, err := w.WriteContext(ctx, line); err != nil {
				return fmt.Errorf("write token %d: %w", tok, err)
			}
		}
		return nil
	}
}

// Collect returns a drain function that appends every sum read from the
// sandbox's stdout to dst until end of stream.
func Collect(dst *[]uint64) func(context.Context, *pipe.Reader) error {
	return func(ctx context.Context, r *pipe.Reader) error {
		sc := bufio.NewScanner(contextReader{ctx: ctx, r: r})
		for sc.Scan() {
			v, err := strconv.ParseUint(sc.Text(), 10, 64)
			if err != nil {
				return fmt.Errorf("parse sum %q: %w", sc.Text(), err)
			}
			*dst = append(*dst, v)
		}
		return sc.Err()
	}
}

type contextReader struct {
	ctx context.Context
	r   *pipe.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	return c.r.ReadContext(c.ctx, p)
}
