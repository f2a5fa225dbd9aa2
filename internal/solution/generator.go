// Package solution produces the periodic position/time solution: one GPS
// time, one ECEF position and one LLH position message per tick.
package solution

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"piksi-emu/internal/config"
	"piksi-emu/internal/geo"
	"piksi-emu/internal/gpstime"
	"piksi-emu/internal/sbp"
)

// Constant solution fields reported by the emulator.
const (
	NumSats = 9
	Flags   = 0
)

// Publisher receives each tick's frames as one contiguous batch.
type Publisher interface {
	PublishBatch(frames ...[]byte) int
}

type Config struct {
	Sender   uint16
	ECEF     geo.ECEF
	LLH      geo.LLH
	Jitter   float64
	Interval time.Duration
}

// FromConfig resolves a validated solution config.
func FromConfig(c config.SolutionConfig) (Config, error) {
	ecef, llh, err := c.Position()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Sender:   c.Sender,
		ECEF:     ecef,
		LLH:      llh,
		Jitter:   c.Jitter,
		Interval: c.Interval(),
	}, nil
}

// Solution is one tick's worth of state, before encoding.
type Solution struct {
	At     time.Time    `json:"at"`
	Week   gpstime.Week `json:"-"`
	WN     int          `json:"wn"`
	TOWms  uint32       `json:"tow_ms"`
	Sender uint16       `json:"sender"`
	ECEF   geo.ECEF     `json:"ecef"`
	LLH    geo.LLH      `json:"llh"`
}

type Generator struct {
	cfg Config
	pub Publisher

	mu  sync.Mutex
	rnd *rand.Rand

	observers []func(Solution)
	onSkip    func(error)

	ticks   atomic.Uint64
	skipped atomic.Uint64
}

type Option func(*Generator)

// WithRand replaces the jitter source, mainly for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) {
		if r != nil {
			g.rnd = r
		}
	}
}

// WithObserver registers fn to be called after every published tick.
// Observers run on the tick goroutine and should not block.
func WithObserver(fn func(Solution)) Option {
	return func(g *Generator) {
		if fn != nil {
			g.observers = append(g.observers, fn)
		}
	}
}

// WithSkipHandler is called by Run for every tick skipped on an encode error.
func WithSkipHandler(fn func(error)) Option {
	return func(g *Generator) { g.onSkip = fn }
}

func New(cfg Config, pub Publisher, opts ...Option) (*Generator, error) {
	if pub == nil {
		return nil, fmt.Errorf("solution: publisher is nil")
	}
	if cfg.Interval <= time.Millisecond {
		return nil, &config.ValidationError{Msg: "solution.hz must be less than 1000"}
	}
	if math.IsNaN(cfg.Jitter) || math.IsInf(cfg.Jitter, 0) || cfg.Jitter < 0 {
		return nil, &config.ValidationError{Msg: "solution.jitter must be >= 0"}
	}
	for _, v := range []float64{cfg.ECEF.X, cfg.ECEF.Y, cfg.ECEF.Z, cfg.LLH.Lat, cfg.LLH.Lon, cfg.LLH.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &config.ValidationError{Msg: "solution position values must be numbers"}
		}
	}

	g := &Generator{
		cfg: cfg,
		pub: pub,
		rnd: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) Config() Config { return g.cfg }

// Solution computes the state for instant now. Jitter, when enabled, is
// drawn fresh on every call.
func (g *Generator) Solution(now time.Time) Solution {
	wk := gpstime.FromTime(now)
	sol := Solution{
		At:     now.UTC(),
		Week:   wk,
		WN:     wk.Number,
		TOWms:  wk.TOWMillis(),
		Sender: g.cfg.Sender,
		ECEF:   g.cfg.ECEF,
		LLH:    g.cfg.LLH,
	}
	if j := g.cfg.Jitter; j > 0 {
		g.mu.Lock()
		sol.ECEF.X += g.rnd.Float64() * 1000 * j
		sol.ECEF.Y += g.rnd.Float64() * 1000 * j
		sol.ECEF.Z += g.rnd.Float64() * 1000 * j
		sol.LLH.Lat += g.rnd.Float64() * j
		sol.LLH.Lon += g.rnd.Float64() * j
		sol.LLH.Height += g.rnd.Float64() * 10 * j
		g.mu.Unlock()
	}
	return sol
}

// Frames encodes sol as time, ECEF, LLH, in that order.
func (g *Generator) Frames(sol Solution) ([][]byte, error) {
	tow := sol.TOWms
	msgs := []sbp.Fields{
		sbp.GPSTime{
			WN:         uint16(sol.WN),
			TOW:        tow,
			NsResidual: 0,
			Flags:      Flags,
		},
		sbp.PosECEF{
			TOW:      tow,
			X:        sol.ECEF.X,
			Y:        sol.ECEF.Y,
			Z:        sol.ECEF.Z,
			Accuracy: 0,
			NSats:    NumSats,
			Flags:    Flags,
		},
		sbp.PosLLH{
			TOW:       tow,
			Lat:       sol.LLH.Lat,
			Lon:       sol.LLH.Lon,
			Height:    sol.LLH.Height,
			HAccuracy: 0,
			VAccuracy: 0,
			NSats:     NumSats,
			Flags:     Flags,
		},
	}
	frames := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := sbp.Encode(m, sol.Sender)
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Tick builds and publishes one solution. An encode failure skips the whole
// tick; nothing is published.
func (g *Generator) Tick(now time.Time) error {
	sol := g.Solution(now)
	frames, err := g.Frames(sol)
	if err != nil {
		g.skipped.Add(1)
		return fmt.Errorf("solution: tick skipped: %w", err)
	}
	g.pub.PublishBatch(frames...)
	g.ticks.Add(1)
	for _, fn := range g.observers {
		fn(sol)
	}
	return nil
}

// Run calls Tick for every value received on ticks until ctx is done or
// ticks is closed.
func (g *Generator) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := g.Tick(now); err != nil {
				log.Printf("%v", err)
				if g.onSkip != nil {
					g.onSkip(err)
				}
			}
		}
	}
}

// Ticks is the number of solutions published so far.
func (g *Generator) Ticks() uint64 { return g.ticks.Load() }

// Skipped is the number of ticks dropped on encode errors.
func (g *Generator) Skipped() uint64 { return g.skipped.Load() }
