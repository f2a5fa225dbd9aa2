// Package pps raises a GPIO line briefly on every solution tick, the way a
// receiver's PPS output marks each epoch.
package pps

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"piksi-emu/internal/config"
	"piksi-emu/internal/solution"
)

// Line is a digital output.
type Line interface {
	SetValue(v int) error
	Close() error
}

type Pulser struct {
	line  Line
	width time.Duration

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	pulses atomic.Uint64
	missed atomic.Uint64
}

// Open requests the configured BCM pin as an output.
func Open(cfg config.PPSConfig) (*Pulser, error) {
	line, err := openLineFn(cfg.GPIOPin)
	if err != nil {
		return nil, err
	}
	log.Printf("pps: driving GPIO%d width=%s", cfg.GPIOPin, cfg.Width)
	return New(line, cfg.Width)
}

func New(line Line, width time.Duration) (*Pulser, error) {
	if line == nil {
		return nil, fmt.Errorf("pps: line is nil")
	}
	if width <= 0 {
		return nil, fmt.Errorf("pps: width must be > 0")
	}
	p := &Pulser{
		line:  line,
		width: width,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

// Observe starts a pulse. A tick that arrives while the previous pulse is
// still high is counted as missed.
func (p *Pulser) Observe(solution.Solution) {
	select {
	case p.kick <- struct{}{}:
	default:
		p.missed.Add(1)
	}
}

func (p *Pulser) loop() {
	defer p.wg.Done()
	timer := time.NewTimer(p.width)
	timer.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-p.kick:
		}
		if err := p.line.SetValue(1); err != nil {
			log.Printf("pps: set high: %v", err)
			continue
		}
		timer.Reset(p.width)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
		}
		if err := p.line.SetValue(0); err != nil {
			log.Printf("pps: set low: %v", err)
		}
		p.pulses.Add(1)
	}
}

// Close leaves the line low and releases it.
func (p *Pulser) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		_ = p.line.SetValue(0)
		err = p.line.Close()
	})
	return err
}

func (p *Pulser) Pulses() uint64 { return p.pulses.Load() }
func (p *Pulser) Missed() uint64 { return p.missed.Load() }
