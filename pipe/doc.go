// Package pipe provides a bounded in-memory byte channel with independently
// owned read and write halves.
//
// A channel is created as a pair:
//
//	r, w := pipe.New(pipe.DefaultCapacity)
//
// Bytes written to w are delivered to r in write order. Writes block while the
// buffer is full, which is how a slow reader slows down a fast writer. Reads
// block until at least one byte is buffered or the write half is closed.
//
// # End of stream
//
// Closing the write half lets the reader drain whatever is still buffered and
// then observe io.EOF. ReadExact never returns fewer bytes than requested: if
// the writer closes first it fails with ErrEndOfStream.
//
// # Dropping the read half
//
// Closing the read half discards buffered bytes and makes every pending and
// future write fail with ErrClosed.
//
// # Thread Safety
//
// Each half is meant to have one owner, but all operations are safe to call
// from any goroutine. Synchronisation is internal; no locks are exposed.
package pipe
