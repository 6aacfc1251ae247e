package detect

import (
	"encoding/binary"
	"io"
	"sync"
)

// PipeCapture is an in-memory PCM buffer implementing [CaptureSource]. An
// ingestion path writes samples in; the sound detector reads blocks out.
// Read blocks while the buffer is empty, and Close unblocks it, so the pipe
// honours the capture-source contract without touching real hardware.
type PipeCapture struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []int16
	closed bool
}

// Compile-time interface check.
var _ CaptureSource = (*PipeCapture)(nil)

// NewPipeCapture creates an empty pipe.
func NewPipeCapture() *PipeCapture {
	p := &PipeCapture{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write appends samples for a future Read. Returns [io.ErrClosedPipe] after
// Close.
func (p *PipeCapture) Write(samples []int16) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf = append(p.buf, samples...)
	p.cond.Broadcast()
	return len(samples), nil
}

// WriteBytes decodes little-endian signed 16-bit samples from b and appends
// them. A trailing odd byte is ignored. Returns the number of bytes consumed.
func (p *PipeCapture) WriteBytes(b []byte) (int, error) {
	n := len(b) / 2
	if n == 0 {
		return 0, nil
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	if _, err := p.Write(samples); err != nil {
		return 0, err
	}
	return n * 2, nil
}

// Read implements [CaptureSource]. It blocks until samples are available or
// the pipe is closed; a closed, drained pipe returns [io.EOF].
func (p *PipeCapture) Read(dst []int16) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(dst, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Close implements [CaptureSource]. It unblocks any in-flight Read and is
// safe to call more than once. Buffered samples remain readable until
// drained.
func (p *PipeCapture) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
