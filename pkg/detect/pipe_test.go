package detect_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/svommelab/lapcounter/pkg/detect"
)

func TestPipeCapture_WriteThenRead(t *testing.T) {
	t.Parallel()
	p := detect.NewPipeCapture()

	if _, err := p.Write([]int16{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]int16, 2)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 || buf[0] != 1 || buf[1] != 2 {
		t.Fatalf("Read returned %d samples %v, want [1 2]", n, buf[:n])
	}

	n, err = p.Read(buf)
	if err != nil || n != 1 || buf[0] != 3 {
		t.Fatalf("second Read = (%d, %v), want the remaining sample", n, err)
	}
}

func TestPipeCapture_WriteBytesLittleEndian(t *testing.T) {
	t.Parallel()
	p := detect.NewPipeCapture()

	// 0x0102 and -1, plus a trailing odd byte that is ignored.
	n, err := p.WriteBytes([]byte{0x02, 0x01, 0xff, 0xff, 0x42})
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if n != 4 {
		t.Errorf("consumed %d bytes, want 4", n)
	}

	buf := make([]int16, 4)
	read, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read != 2 || buf[0] != 0x0102 || buf[1] != -1 {
		t.Errorf("samples = %v, want [258 -1]", buf[:read])
	}
}

func TestPipeCapture_CloseUnblocksRead(t *testing.T) {
	t.Parallel()
	p := detect.NewPipeCapture()

	result := make(chan error, 1)
	go func() {
		buf := make([]int16, 8)
		_, err := p.Read(buf)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Read after close = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read never unblocked after Close")
	}

	if _, err := p.Write([]int16{1}); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write after close = %v, want io.ErrClosedPipe", err)
	}
}

func TestPipeCapture_DrainAfterClose(t *testing.T) {
	t.Parallel()
	p := detect.NewPipeCapture()

	if _, err := p.Write([]int16{7}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = p.Close()
	_ = p.Close() // idempotent

	buf := make([]int16, 4)
	n, err := p.Read(buf)
	if err != nil || n != 1 || buf[0] != 7 {
		t.Fatalf("Read = (%d, %v), want buffered sample before EOF", n, err)
	}
	if _, err := p.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("drained Read = %v, want io.EOF", err)
	}
}
