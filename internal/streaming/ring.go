package streaming

import "sync"

// Ring is a bounded byte ring. Writers never block and never grow the
// buffer; once full, the oldest bytes are overwritten. It keeps the tail
// of a verbose encoder's stderr without unbounded memory growth.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	off  int // next write position
	full bool
}

// NewRing creates a ring holding at most size bytes.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 64 * 1024
	}
	return &Ring{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n == 0 {
		return 0, nil
	}
	// Only the final len(buf) bytes can survive anyway.
	if n >= len(r.buf) {
		copy(r.buf, p[n-len(r.buf):])
		r.off = 0
		r.full = true
		return n, nil
	}

	w := copy(r.buf[r.off:], p)
	if w < n {
		copy(r.buf, p[w:])
		r.full = true
	}
	r.off = (r.off + n) % len(r.buf)
	if r.off == 0 && w == n {
		r.full = true
	}
	return n, nil
}

// String returns the buffered bytes, oldest first.
func (r *Ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return string(r.buf[:r.off])
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.off:]...)
	out = append(out, r.buf[:r.off]...)
	return string(out)
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.off
}
