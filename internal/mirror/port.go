// Package mirror exposes the broadcast stream on a serial port, the way a
// receiver presents SBP on its UART.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"piksi-emu/internal/config"
)

// Port wraps an open serial device. Writes carry the outbound stream; reads,
// when used, carry rover data in.
type Port struct {
	name string
	rw   io.ReadWriteCloser

	once   sync.Once
	closed atomic.Bool
	err    error

	written atomic.Uint64
	read    atomic.Uint64
}

// Open opens cfg.Device at cfg.Baud in raw 8N1 mode.
func Open(cfg config.SerialConfig) (*Port, error) {
	rw, err := openPortFn(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", cfg.Device, err)
	}
	log.Printf("mirror: opened %s at %d baud", cfg.Device, cfg.Baud)
	return NewPort(cfg.Device, rw), nil
}

func NewPort(name string, rw io.ReadWriteCloser) *Port {
	return &Port{name: name, rw: rw}
}

func (p *Port) Name() string { return p.name }

// Write writes all of b or fails.
func (p *Port) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		if p.closed.Load() {
			return total, io.ErrClosedPipe
		}
		n, err := p.rw.Write(b[total:])
		total += n
		if err != nil {
			p.written.Add(uint64(total))
			return total, err
		}
		if n == 0 {
			p.written.Add(uint64(total))
			return total, io.ErrShortWrite
		}
	}
	p.written.Add(uint64(total))
	return total, nil
}

// idleBackoff paces retries when the driver reports an inter-character
// timeout as a zero-length io.EOF.
var idleBackoff = 10 * time.Millisecond

// Read retries reads that time out with no data, and reports io.EOF once the
// port is closed. Drivers that signal an idle line with (0, io.EOF) are
// treated as timed out, not ended.
func (p *Port) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, io.EOF
		}
		n, err := p.rw.Read(b)
		if n > 0 {
			p.read.Add(uint64(n))
			return n, nil
		}
		if err == nil {
			continue
		}
		if p.closed.Load() {
			return 0, io.EOF
		}
		if errors.Is(err, io.EOF) {
			time.Sleep(idleBackoff)
			continue
		}
		return 0, err
	}
}

// Close is safe to call more than once; the port is shared between the
// outbound sink and the uplink reader.
func (p *Port) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		p.err = p.rw.Close()
	})
	return p.err
}

func (p *Port) Written() uint64   { return p.written.Load() }
func (p *Port) ReadBytes() uint64 { return p.read.Load() }
