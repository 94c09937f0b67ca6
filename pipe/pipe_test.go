package pipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestNew_DefaultCapacity(t *testing.T) {
	_, w := New(0)
	if w.Capacity() != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", w.Capacity(), DefaultCapacity)
	}
}

func TestWriteRead_FIFO(t *testing.T) {
	r, w := New(16)

	for _, chunk := range []string{"ab", "cde", "f"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
	}

	got, err := r.ReadExact(context.Background(), 6)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("got %q, want %q", got, "abcdef")
	}
	if r.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", r.Buffered())
	}
}

func TestRingWraparound(t *testing.T) {
	r, w := New(4)
	ctx := context.Background()

	// Shift head so subsequent writes wrap past the end of the ring.
	if _, err := w.Write([]byte("xyz")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadExact(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("123")); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadExact(ctx, 4)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(got) != "z123" {
		t.Errorf("got %q, want %q", got, "z123")
	}
}

func TestReadExact_EndOfStream(t *testing.T) {
	tests := []struct {
		name    string
		written string
		want    int
		wantErr bool
	}{
		{"exact", "abcd", 4, false},
		{"more than enough", "abcdef", 4, false},
		{"short", "ab", 4, true},
		{"empty", "", 1, true},
		{"zero length", "", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, w := New(8)
			if _, err := w.Write([]byte(tc.written)); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			got, err := r.ReadExact(context.Background(), tc.want)
			if tc.wantErr {
				if !errors.Is(err, ErrEndOfStream) {
					t.Fatalf("err = %v, want ErrEndOfStream", err)
				}
				if got != nil {
					t.Errorf("short read returned %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadExact: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("len = %d, want %d", len(got), tc.want)
			}
		})
	}
}

func TestReadExact_NegativeLength(t *testing.T) {
	r, w := New(8)
	if _, err := w.Write([]byte("abcd")); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadExact(context.Background(), -1)
	if !errors.Is(err, ErrNegativeLength) {
		t.Fatalf("err = %v, want ErrNegativeLength", err)
	}
	if got != nil {
		t.Errorf("got %q", got)
	}
	if data, err := r.ReadExact(context.Background(), 4); err != nil || string(data) != "abcd" {
		t.Errorf("ReadExact after rejected length = %q, %v", data, err)
	}
}

func TestReadExact_LargerThanCapacity(t *testing.T) {
	r, w := New(4)
	payload := bytes.Repeat([]byte("0123456789"), 10)

	go func() {
		_, _ = w.Write(payload)
		_ = w.Close()
	}()

	got, err := r.ReadExact(context.Background(), len(payload))
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch")
	}
	if _, err := r.ReadExact(context.Background(), 1); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("after drain: err = %v, want ErrEndOfStream", err)
	}
}

func TestRead_EOFAfterDrain(t *testing.T) {
	r, w := New(8)
	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("got %q", data)
	}

	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestWrite_AfterReaderClosed(t *testing.T) {
	r, w := New(8)
	r.Close()

	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestWrite_AfterWriterClosed(t *testing.T) {
	_, w := New(8)
	w.Close()

	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestRead_AfterReaderClosed(t *testing.T) {
	r, w := New(8)
	w.Write([]byte("abc"))
	r.Close()

	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestWrite_BlocksWhenFull(t *testing.T) {
	r, w := New(2)
	if _, err := w.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("c"))
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("write on full channel returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := r.ReadExact(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write did not resume after space freed")
	}
}

func TestWrite_BlockedWriterWakesOnReaderClose(t *testing.T) {
	r, w := New(1)
	w.Write([]byte("a"))

	done := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("b"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked writer not released")
	}
}

func TestRead_BlockedReaderWakesOnWriterClose(t *testing.T) {
	r, w := New(4)

	done := make(chan error, 1)
	go func() {
		_, err := r.ReadExact(context.Background(), 2)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	w.Write([]byte("a"))
	w.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("err = %v, want ErrEndOfStream", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader not released")
	}
}

func TestContextCancellation(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		r, _ := New(4)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := r.ReadExact(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})

	t.Run("write", func(t *testing.T) {
		_, w := New(2)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		n, err := w.WriteContext(ctx, []byte("abcd"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
		if n != 2 {
			t.Errorf("accepted %d bytes, want 2", n)
		}
	})
}

func TestConcurrentOrdering(t *testing.T) {
	const total = 64 * 1024
	r, w := New(7)

	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Uneven chunk sizes exercise partial writes across the ring boundary.
		for off, step := 0, 1; off < total; step = step%13 + 1 {
			end := off + step
			if end > total {
				end = total
			}
			if _, err := w.Write(payload[off:end]); err != nil {
				t.Errorf("write: %v", err)
				return
			}
			off = end
		}
		w.Close()
	}()

	var got bytes.Buffer
	buf := make([]byte, 5)
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	wg.Wait()

	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("bytes reordered or lost")
	}
}
