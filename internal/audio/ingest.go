package audio

import (
	"io"
	"sync"
)

// ingestBuffer accumulates resource bytes as they arrive. Readers block
// until more data is written, the buffer is finished or it is closed.
type ingestBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	done   bool
	err    error
	closed bool
}

func newIngestBuffer() *ingestBuffer {
	b := &ingestBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends p. Writes after Finish or Close are dropped.
func (b *ingestBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done || b.closed {
		return
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
}

// Finish marks the end of the data. err records why delivery stopped.
func (b *ingestBuffer) Finish(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done || b.closed {
		return false
	}
	b.done = true
	b.err = err
	b.cond.Broadcast()
	return true
}

// Close wakes every reader; later reads fail
func (b *ingestBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Complete reports whether every byte has arrived
func (b *ingestBuffer) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done && b.err == nil
}

// Bytes returns the data received so far. The slice must not be modified.
func (b *ingestBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[:len(b.data):len(b.data)]
}

func (b *ingestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// peek waits for the first n bytes, or fewer if the data ends first
func (b *ingestBuffer) peek(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) < n && !b.done && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return nil, io.ErrClosedPipe
	}
	if len(b.data) < n {
		n = len(b.data)
	}
	return b.data[:n:n], nil
}

// NewReader returns a reader positioned at the start of the buffer
func (b *ingestBuffer) NewReader() io.ReadCloser {
	return &ingestReader{buf: b}
}

type ingestReader struct {
	buf *ingestBuffer
	off int
}

func (r *ingestReader) Read(p []byte) (int, error) {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for r.off >= len(b.data) && !b.done && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if r.off >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[r.off:])
	r.off += n
	return n, nil
}

func (r *ingestReader) Close() error {
	return nil
}
