package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultCapacity is the buffer size used when New is given a non-positive capacity.
const DefaultCapacity = 1024

var (
	// ErrClosed is returned by writes after the read half was closed (or the
	// write half itself), and by reads on a closed read half.
	ErrClosed = errors.New("pipe: closed")

	// ErrEndOfStream is returned by ReadExact when the write half closes before
	// the requested number of bytes arrived.
	ErrEndOfStream = errors.New("pipe: end of stream")

	// ErrNegativeLength is returned by ReadExact for n < 0.
	ErrNegativeLength = errors.New("pipe: negative read length")
)

// buffer is the ring shared by both halves.
type buffer struct {
	readable chan struct{}
	writable chan struct{}
	data     []byte
	capacity int
	head     int
	size     int
	mu       sync.Mutex
	wclosed  bool
	rclosed  bool
}

// New creates a channel holding at most capacity buffered bytes.
func New(capacity int) (*Reader, *Writer) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &buffer{
		data:     make([]byte, capacity),
		capacity: capacity,
		readable: make(chan struct{}),
		writable: make(chan struct{}),
	}
	return &Reader{b: b}, &Writer{b: b}
}

// broadcast wakes every goroutine parked on *ch. Caller holds b.mu.
func broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

func (b *buffer) push(p []byte) int {
	n := 0
	for n < len(p) && b.size < len(b.data) {
		tail := (b.head + b.size) % len(b.data)
		end := len(b.data)
		if tail < b.head {
			end = b.head
		}
		k := copy(b.data[tail:end], p[n:])
		n += k
		b.size += k
	}
	return n
}

func (b *buffer) pop(p []byte) int {
	n := 0
	for n < len(p) && b.size > 0 {
		end := b.head + b.size
		if end > len(b.data) {
			end = len(b.data)
		}
		k := copy(p[n:], b.data[b.head:end])
		n += k
		b.size -= k
		b.head = (b.head + k) % len(b.data)
	}
	if b.size == 0 {
		b.head = 0
	}
	return n
}

// Writer is the write half of a channel.
type Writer struct {
	b *buffer
}

// Write appends p, blocking while the buffer is full. It implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation. Bytes already accepted before ctx
// is done stay in the channel; the returned count reports them.
func (w *Writer) WriteContext(ctx context.Context, p []byte) (int, error) {
	b := w.b
	n := 0
	for {
		b.mu.Lock()
		if b.rclosed || b.wclosed {
			b.mu.Unlock()
			return n, ErrClosed
		}
		if n == len(p) {
			b.mu.Unlock()
			return n, nil
		}
		if b.size < len(b.data) {
			n += b.push(p[n:])
			broadcast(&b.readable)
			b.mu.Unlock()
			continue
		}
		wait := b.writable
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

// Close marks the end of the stream. Buffered bytes remain readable.
// Closing twice is a no-op.
func (w *Writer) Close() error {
	b := w.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wclosed {
		return nil
	}
	b.wclosed = true
	broadcast(&b.readable)
	broadcast(&b.writable)
	return nil
}

// Capacity returns the maximum number of buffered bytes.
func (w *Writer) Capacity() int {
	return w.b.capacity
}

// Reader is the read half of a channel.
type Reader struct {
	b *buffer
}

// Read reads up to len(p) bytes, blocking until at least one is available.
// After the write half closes and the buffer drains it returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	b := r.b
	for {
		b.mu.Lock()
		if b.rclosed {
			b.mu.Unlock()
			return 0, ErrClosed
		}
		if len(p) == 0 {
			b.mu.Unlock()
			return 0, nil
		}
		if b.size > 0 {
			n := b.pop(p)
			broadcast(&b.writable)
			b.mu.Unlock()
			return n, nil
		}
		if b.wclosed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		wait := b.readable
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// ReadExact returns exactly n bytes. If the write half closes before n bytes
// arrive it fails with ErrEndOfStream and the partial bytes are discarded.
// Bytes consumed before ctx is done are lost.
func (r *Reader) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}
	out := make([]byte, n)
	got := 0
	for got < n {
		k, err := r.ReadContext(ctx, out[got:])
		got += k
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrEndOfStream, n, got)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Buffered returns the number of bytes waiting to be read.
func (r *Reader) Buffered() int {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.size
}

// Close drops the read half. Buffered bytes are discarded and pending or
// future writes fail with ErrClosed. Closing twice is a no-op.
func (r *Reader) Close() error {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rclosed {
		return nil
	}
	b.rclosed = true
	b.data = nil
	b.head, b.size = 0, 0
	broadcast(&b.readable)
	broadcast(&b.writable)
	return nil
}
