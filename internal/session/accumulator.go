package session

import "sync"

// Accumulator holds all translated output of a session in arrival order.
// Marks returned by Len can be passed to Truncate to drop everything
// appended after them.
type Accumulator struct {
	mu  sync.Mutex
	buf []byte
}

// Append adds s and returns the new length.
func (a *Accumulator) Append(s string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, s...)
	return len(a.buf)
}

// Len returns the current length in bytes, usable as a rewind mark.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Truncate rewinds to mark. Marks beyond the current length are ignored.
func (a *Accumulator) Truncate(mark int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mark < 0 {
		mark = 0
	}
	if mark < len(a.buf) {
		a.buf = a.buf[:mark]
	}
}

func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.buf)
}
