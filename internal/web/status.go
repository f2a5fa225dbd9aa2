package web

import (
	"sync/atomic"
	"time"

	"piksi-emu/internal/broadcast"
	"piksi-emu/internal/solution"
)

// Status collects the counters shown at /api/status. All methods are safe
// for concurrent use.
type Status struct {
	startUnixNano int64
	echoed        uint64
	decodeErrors  uint64
	connections   uint64

	listen   atomic.Value // string
	interval atomic.Value // string
	sender   atomic.Uint32
	state    atomic.Value // string
	last     atomic.Pointer[solution.Solution]
	ticks    atomic.Uint64

	hubStats atomic.Pointer[func() broadcast.Stats]
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.listen.Store("")
	s.interval.Store("")
	s.state.Store("created")
	return s
}

func (s *Status) SetStatic(listen string, interval time.Duration, sender uint16) {
	if listen != "" {
		s.listen.Store(listen)
	}
	if interval > 0 {
		s.interval.Store(interval.String())
	}
	s.sender.Store(uint32(sender))
}

func (s *Status) SetState(state string) { s.state.Store(state) }

// SetHubStats installs the source for subscriber/publish counts.
func (s *Status) SetHubStats(fn func() broadcast.Stats) {
	if fn != nil {
		s.hubStats.Store(&fn)
	}
}

// MarkSolution records a published tick.
func (s *Status) MarkSolution(sol solution.Solution) {
	s.last.Store(&sol)
	s.ticks.Add(1)
}

func (s *Status) AddEchoed(n int)       { atomic.AddUint64(&s.echoed, uint64(n)) }
func (s *Status) AddDecodeErrors(n int) { atomic.AddUint64(&s.decodeErrors, uint64(n)) }
func (s *Status) AddConnection()        { atomic.AddUint64(&s.connections, 1) }

type StatusSnapshot struct {
	Service          string             `json:"service"`
	State            string             `json:"state"`
	NowUTC           string             `json:"now_utc"`
	UptimeSec        int64              `json:"uptime_sec"`
	Listen           string             `json:"listen"`
	Interval         string             `json:"interval"`
	Sender           uint16             `json:"sender"`
	Ticks            uint64             `json:"ticks"`
	ConnectionsTotal uint64             `json:"connections_total"`
	Echoed           uint64             `json:"echoed"`
	DecodeErrors     uint64             `json:"decode_errors"`
	Stream           broadcast.Stats    `json:"stream"`
	LastSolution     *solution.Solution `json:"last_solution,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:          "piksi-emu",
		State:            s.state.Load().(string),
		NowUTC:           nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:        int64(nowUTC.Sub(start).Seconds()),
		Listen:           s.listen.Load().(string),
		Interval:         s.interval.Load().(string),
		Sender:           uint16(s.sender.Load()),
		Ticks:            s.ticks.Load(),
		ConnectionsTotal: atomic.LoadUint64(&s.connections),
		Echoed:           atomic.LoadUint64(&s.echoed),
		DecodeErrors:     atomic.LoadUint64(&s.decodeErrors),
		LastSolution:     s.last.Load(),
	}
	if fn := s.hubStats.Load(); fn != nil {
		snap.Stream = (*fn)()
	}
	return snap
}
