// Package server ties the solution timer, the broadcast hub and the echo
// filter to one listening socket.
//
// Lifecycle: Start returns a Listening server; Close moves it to Closed,
// stopping the timer and releasing the socket. There is no restart.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"piksi-emu/internal/broadcast"
	"piksi-emu/internal/config"
	"piksi-emu/internal/echo"
	"piksi-emu/internal/metrics"
	"piksi-emu/internal/sbp"
	"piksi-emu/internal/solution"
	"piksi-emu/internal/web"
)

type State int32

const (
	StateCreated State = iota
	StateListening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Server struct {
	cfg     config.Config
	hub     *broadcast.Hub
	gen     *solution.Generator
	metrics *metrics.Metrics
	status  *web.Status

	ln      net.Listener
	httpSrv *http.Server

	// ctx is cancelled by Close; it scopes the tick loop, sinks and uplinks.
	ctx    context.Context
	cancel context.CancelFunc

	tickWG sync.WaitGroup
	wg     sync.WaitGroup

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	closers []io.Closer
}

type namedSink struct {
	name string
	w    io.WriteCloser
}

type namedUplink struct {
	name string
	r    io.Reader
}

type options struct {
	logs      *web.LogBuffer
	observers []func(solution.Solution)
	sinks     []namedSink
	uplinks   []namedUplink
	genOpts   []solution.Option

	// ticks returns the tick channel and its stop function.
	ticks func(d time.Duration) (<-chan time.Time, func())
}

type Option func(*options)

// WithLogBuffer serves buf at /api/logs.
func WithLogBuffer(buf *web.LogBuffer) Option {
	return func(o *options) { o.logs = buf }
}

// WithObserver is called after every published solution.
func WithObserver(fn func(solution.Solution)) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithSink mirrors the broadcast stream into w. The server closes w on
// Close.
func WithSink(name string, w io.WriteCloser) Option {
	return func(o *options) {
		if w != nil {
			o.sinks = append(o.sinks, namedSink{name: name, w: w})
		}
	}
}

// WithUplink feeds r through the echo filter as if it were a connected
// rover. If r is an io.Closer it is closed on Close.
func WithUplink(name string, r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.uplinks = append(o.uplinks, namedUplink{name: name, r: r})
		}
	}
}

// WithGeneratorOptions passes extra options to the solution generator.
func WithGeneratorOptions(opts ...solution.Option) Option {
	return func(o *options) { o.genOpts = append(o.genOpts, opts...) }
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start validates cfg, binds the socket and starts the solution timer.
// Nothing is bound when validation fails.
func Start(cfg config.Config, opts ...Option) (*Server, error) {
	o := options{ticks: realTicker}
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.DefaultAndValidate(&cfg); err != nil {
		return nil, err
	}
	solCfg, err := solution.FromConfig(cfg.Solution)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		hub:     broadcast.NewHub(cfg.Server.SubscriberQueue),
		metrics: metrics.New(),
		status:  web.NewStatus(),
	}

	s.hub.OnDrop = func(sub *broadcast.Subscription) {
		s.metrics.SlowDrops.Inc()
		log.Printf("stream %s: dropped, subscriber fell %d frames behind", sub.Name(), cfg.Server.SubscriberQueue)
	}
	s.status.SetHubStats(s.hub.Stats)

	genOpts := []solution.Option{
		solution.WithObserver(func(sol solution.Solution) {
			s.status.MarkSolution(sol)
			s.metrics.Ticks.Inc()
		}),
		solution.WithSkipHandler(func(error) { s.metrics.TicksSkipped.Inc() }),
	}
	for _, fn := range o.observers {
		genOpts = append(genOpts, solution.WithObserver(fn))
	}
	genOpts = append(genOpts, o.genOpts...)

	gen, err := solution.New(solCfg, countingPublisher{hub: s.hub, m: s.metrics}, genOpts...)
	if err != nil {
		return nil, err
	}
	s.gen = gen

	lc := listenConfig(cfg.Server)
	ln, err := lc.Listen(context.Background(), "tcp", cfg.Server.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr(), err)
	}
	s.ln = ln
	s.status.SetStatic(ln.Addr().String(), solCfg.Interval, solCfg.Sender)

	s.httpSrv = &http.Server{
		Handler:           s.metrics.Middleware(s.routes(o.logs)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, sk := range o.sinks {
		if err := s.startSink(sk); err != nil {
			s.abort()
			return nil, err
		}
	}
	for _, up := range o.uplinks {
		s.startUplink(up)
	}

	tickC, stopTicks := o.ticks(solCfg.Interval)
	s.tickWG.Add(1)
	go func() {
		defer s.tickWG.Done()
		defer stopTicks()
		s.gen.Run(s.ctx, tickC)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: serve stopped: %v", err)
		}
	}()

	s.state.Store(int32(StateListening))
	s.status.SetState(StateListening.String())
	log.Printf("server: listening addr=%s interval=%s sender=0x%x", ln.Addr(), solCfg.Interval, solCfg.Sender)
	return s, nil
}

// abort unwinds a partially started server.
func (s *Server) abort() {
	s.cancel()
	s.hub.Close()
	_ = s.ln.Close()
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.wg.Wait()
}

func (s *Server) startSink(sk namedSink) error {
	sub, err := s.hub.Attach("sink:" + sk.name)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, sk.w)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.hub.Detach(sub)
		if err := sub.Stream(s.ctx, sk.w, nil); err != nil && s.ctx.Err() == nil {
			log.Printf("sink %s: stopped: %v", sk.name, err)
		}
	}()
	return nil
}

func (s *Server) startUplink(up namedUplink) {
	if c, ok := up.r.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	f := s.newFilter("uplink:" + up.name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st, err := f.Run(s.ctx, up.r)
		if err != nil && s.ctx.Err() == nil {
			log.Printf("%v", err)
		}
		log.Printf("uplink %s: done frames=%d echoed=%d decode_errors=%d", up.name, st.Frames, st.Echoed, st.DecodeErrors)
	}()
}

func (s *Server) newFilter(name string) *echo.Filter {
	f := echo.New(countingPublisher{hub: s.hub, m: s.metrics}, name)
	f.OnEcho = func(sbp.Frame) {
		s.metrics.Echoed.Inc()
		s.status.AddEchoed(1)
	}
	f.OnDecodeError = func(*sbp.DecodeError) {
		s.metrics.DecodeErrors.Inc()
		s.status.AddDecodeErrors(1)
	}
	return f
}

// Close stops the timer, closes the listener and ends every stream. It is
// safe to call more than once and from several goroutines; all callers
// return after shutdown completes.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.status.SetState(StateClosed.String())

		// Stop ticking first and wait out an in-flight tick so nothing is
		// generated after this point.
		s.cancel()
		s.tickWG.Wait()

		s.closeErr = s.httpSrv.Close()
		s.hub.Close()

		// Closing sinks and uplinks unblocks any goroutine stuck in their
		// Read or Write.
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				log.Printf("server: close: %v", err)
			}
		}
		s.wg.Wait()
		log.Printf("server: closed addr=%s", s.ln.Addr())
	})
	return s.closeErr
}

func (s *Server) State() State { return State(s.state.Load()) }

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// URL is the stream endpoint.
func (s *Server) URL() string { return "http://" + s.ln.Addr().String() + "/" }

func (s *Server) Hub() *broadcast.Hub            { return s.hub }
func (s *Server) Generator() *solution.Generator { return s.gen }
func (s *Server) Status() *web.Status            { return s.status }
func (s *Server) Metrics() *metrics.Metrics      { return s.metrics }

// countingPublisher forwards to the hub and counts frames by kind.
type countingPublisher struct {
	hub *broadcast.Hub
	m   *metrics.Metrics
}

func (p countingPublisher) Publish(b []byte) int {
	return p.PublishBatch(b)
}

func (p countingPublisher) PublishBatch(frames ...[]byte) int {
	n := p.hub.PublishBatch(frames...)
	for _, f := range frames {
		p.m.FramesOut.WithLabelValues(frameKind(f).String()).Inc()
	}
	return n
}

func frameKind(b []byte) sbp.Kind {
	if len(b) < 3 || b[0] != sbp.Preamble {
		return sbp.KindUnknown
	}
	return sbp.KindOf(sbp.MsgType(binary.LittleEndian.Uint16(b[1:3])))
}
