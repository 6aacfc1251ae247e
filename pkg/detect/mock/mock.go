// Package mock provides in-memory implementations of [detect.CaptureSource]
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record call counts so tests
// can assert that lifecycle rules hold (one open handle per Start, Close
// called exactly once, and so on).
//
// Typical usage:
//
//	src := mock.NewScriptedCapture([][]int16{loudBlock, quietBlock})
//	d := detect.NewSoundDetector(func() (detect.CaptureSource, error) {
//	    return src, nil
//	}, len(loudBlock))
package mock

import (
	"io"
	"sync"

	"github.com/svommelab/lapcounter/pkg/detect"
)

// Compile-time interface checks.
var (
	_ detect.CaptureSource = (*ScriptedCapture)(nil)
	_ detect.CaptureSource = (*BlockingCapture)(nil)
)

// ScriptedCapture replays a fixed sequence of sample blocks, one block per
// Read call, then returns [io.EOF]. Close unblocks nothing because Read
// never blocks.
type ScriptedCapture struct {
	mu sync.Mutex

	blocks [][]int16
	next   int

	// ReadErr, when non-nil, is returned by the Read call after the last
	// scripted block instead of io.EOF.
	ReadErr error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewScriptedCapture creates a capture source that replays blocks in order.
func NewScriptedCapture(blocks [][]int16) *ScriptedCapture {
	return &ScriptedCapture{blocks: blocks}
}

// Read implements [detect.CaptureSource].
func (c *ScriptedCapture) Read(buf []int16) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountRead++
	if c.next >= len(c.blocks) {
		if c.ReadErr != nil {
			return 0, c.ReadErr
		}
		return 0, io.EOF
	}
	n := copy(buf, c.blocks[c.next])
	c.next++
	return n, nil
}

// Close implements [detect.CaptureSource].
func (c *ScriptedCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return nil
}

// BlockingCapture blocks every Read until Close is called, mimicking a
// hardware read with no data. It verifies the Stop path: closing the handle
// must unblock an in-flight read.
type BlockingCapture struct {
	closeOnce sync.Once
	closed    chan struct{}

	mu             sync.Mutex
	CallCountRead  int
	CallCountClose int
}

// NewBlockingCapture creates a capture source whose reads block until Close.
func NewBlockingCapture() *BlockingCapture {
	return &BlockingCapture{closed: make(chan struct{})}
}

// Read implements [detect.CaptureSource]. It blocks until Close, then
// returns io.EOF.
func (c *BlockingCapture) Read(_ []int16) (int, error) {
	c.mu.Lock()
	c.CallCountRead++
	c.mu.Unlock()
	<-c.closed
	return 0, io.EOF
}

// Close implements [detect.CaptureSource]. Safe to call more than once.
func (c *BlockingCapture) Close() error {
	c.mu.Lock()
	c.CallCountClose++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
