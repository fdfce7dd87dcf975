package clirun

import "sync"

// ringBuffer accumulates child output under a soft cap: old bytes are
// trimmed, the process is never killed for being chatty. totalLen keeps
// counting past the cap for reporting.
type ringBuffer struct {
	mu       sync.Mutex
	buf      []byte
	cap      int
	totalLen int
	onWrite  func(n int)
}

func newRingBuffer(capBytes int, onWrite func(n int)) *ringBuffer {
	return &ringBuffer{cap: capBytes, onWrite: onWrite}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	r.totalLen += len(p)
	cb := r.onWrite
	r.mu.Unlock()
	if cb != nil {
		cb(len(p))
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

func (r *ringBuffer) TotalLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalLen
}
