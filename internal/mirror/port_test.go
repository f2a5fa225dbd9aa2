package mirror

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"piksi-emu/internal/config"
)

// errDrained is what chunkyPort reads return once reads is exhausted and no
// readErr is set.
var errDrained = errors.New("drained")

// chunkyPort accepts at most max bytes per Write. Reads first report idle
// zero-length io.EOF results, then hand out reads in order.
type chunkyPort struct {
	bytes.Buffer
	max     int
	idle    int
	reads   [][]byte
	readErr error
	closes  int
}

func (c *chunkyPort) Write(p []byte) (int, error) {
	if len(p) > c.max {
		p = p[:c.max]
	}
	return c.Buffer.Write(p)
}

func (c *chunkyPort) Read(p []byte) (int, error) {
	if c.idle > 0 {
		c.idle--
		return 0, io.EOF
	}
	if len(c.reads) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, errDrained
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	return copy(p, next), nil
}

func (c *chunkyPort) Close() error {
	c.closes++
	return nil
}

func TestPort_WriteCompletesShortWrites(t *testing.T) {
	rw := &chunkyPort{max: 3}
	p := NewPort("/dev/fake", rw)

	in := []byte{0x55, 0x02, 0x01, 0x42, 0x00, 0x0b, 0x01}
	n, err := p.Write(in)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if n != len(in) || !bytes.Equal(rw.Bytes(), in) {
		t.Fatalf("wrote %d bytes % x want % x", n, rw.Bytes(), in)
	}
	if p.Written() != uint64(len(in)) {
		t.Fatalf("written=%d want %d", p.Written(), len(in))
	}
}

func TestPort_WriteZeroIsShortWrite(t *testing.T) {
	p := NewPort("/dev/fake", &chunkyPort{max: 0})
	if _, err := p.Write([]byte{1}); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err=%v want io.ErrShortWrite", err)
	}
}

func TestPort_ReadSkipsEmptyTimeouts(t *testing.T) {
	rw := &chunkyPort{reads: [][]byte{{}, {}, {0xaa, 0xbb}}}
	p := NewPort("/dev/fake", rw)

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0xaa, 0xbb}) {
		t.Fatalf("read % x", buf[:n])
	}
	if _, err := p.Read(buf); !errors.Is(err, errDrained) {
		t.Fatalf("err=%v want %v", err, errDrained)
	}
}

func TestPort_ReadTreatsIdleEOFAsTimeout(t *testing.T) {
	orig := idleBackoff
	idleBackoff = time.Millisecond
	t.Cleanup(func() { idleBackoff = orig })

	rw := &chunkyPort{idle: 3, reads: [][]byte{{0xaa}}}
	p := NewPort("/dev/fake", rw)

	buf := make([]byte, 8)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0xaa}) {
		t.Fatalf("read % x want aa", buf[:n])
	}
	if rw.idle != 0 {
		t.Fatalf("idle=%d want 0", rw.idle)
	}
	if got := p.ReadBytes(); got != 1 {
		t.Fatalf("ReadBytes=%d want 1", got)
	}
}

func TestPort_ReadEOFAfterCloseEnds(t *testing.T) {
	rw := &chunkyPort{idle: 1 << 30}
	p := NewPort("/dev/fake", rw)
	_ = p.Close()
	if _, err := p.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want io.EOF", err)
	}
}

func TestPort_CloseOnceThenEOF(t *testing.T) {
	rw := &chunkyPort{max: 8, readErr: errors.New("bad file descriptor")}
	p := NewPort("/dev/fake", rw)

	_ = p.Close()
	_ = p.Close()
	if rw.closes != 1 {
		t.Fatalf("closes=%d want 1", rw.closes)
	}
	if _, err := p.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("read after close err=%v want io.EOF", err)
	}
	if _, err := p.Write([]byte{1}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("write after close err=%v want io.ErrClosedPipe", err)
	}
}

func TestOpen_WrapsOpenerErrors(t *testing.T) {
	orig := openPortFn
	t.Cleanup(func() { openPortFn = orig })

	openPortFn = func(path string, baud int) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	_, err := Open(config.SerialConfig{Enable: true, Device: "/dev/ttyUSB9", Baud: 115200})
	if err == nil || err.Error() != "serial /dev/ttyUSB9: no such device" {
		t.Fatalf("err=%v", err)
	}

	var gotBaud int
	openPortFn = func(path string, baud int) (io.ReadWriteCloser, error) {
		gotBaud = baud
		return &chunkyPort{max: 8}, nil
	}
	p, err := Open(config.SerialConfig{Enable: true, Device: "/dev/ttyUSB0", Baud: 230400})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if gotBaud != 230400 || p.Name() != "/dev/ttyUSB0" {
		t.Fatalf("baud=%d name=%s", gotBaud, p.Name())
	}
}
