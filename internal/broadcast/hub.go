// Package broadcast fans a single ordered stream of frames out to any number
// of attached connections.
//
// Publish never blocks. Each subscription owns a bounded queue; a subscriber
// that falls a full queue behind is detached and its channel closed with
// ErrSlowConsumer, so a stalled reader cannot hold up the generator or any
// other connection.
package broadcast

import (
	"errors"
	"sync"
)

var (
	ErrClosed       = errors.New("broadcast: hub closed")
	ErrSlowConsumer = errors.New("broadcast: subscriber queue full")
	ErrDetached     = errors.New("broadcast: detached")
)

const DefaultQueue = 256

// Hub is the shared output buffer. It keeps no history: a subscription only
// sees frames published after Attach returned.
type Hub struct {
	queue int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published uint64
	dropped   uint64

	// OnDrop, when set, is called (outside the hub lock) for every
	// subscription removed for being too slow.
	OnDrop func(sub *Subscription)
}

func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &Hub{queue: queue, subs: make(map[uint64]*Subscription)}
}

// Subscription is one attached sink.
type Subscription struct {
	id   uint64
	name string
	ch   chan []byte

	once sync.Once
	err  error
}

func (s *Subscription) ID() uint64 { return s.id }

func (s *Subscription) Name() string { return s.name }

// C yields published frames in publish order and is closed when the
// subscription ends.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Err reports why the subscription ended. It is only meaningful after C()
// has been closed.
func (s *Subscription) Err() error { return s.err }

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
	})
}

// Attach registers a new sink.
func (h *Hub) Attach(name string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, name: name, ch: make(chan []byte, h.queue)}
	h.subs[sub.id] = sub
	return sub, nil
}

// Detach removes sub. Detaching twice, or after Close, is a no-op.
func (h *Hub) Detach(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()
	if ok {
		sub.end(ErrDetached)
	}
}

// Publish delivers p to every attached subscription and returns how many
// accepted it. p must not be modified afterwards.
func (h *Hub) Publish(p []byte) int {
	return h.PublishBatch(p)
}

// PublishBatch delivers frames as one contiguous run: no other publish can
// interleave between them on any subscription.
func (h *Hub) PublishBatch(frames ...[]byte) int {
	var slow []*Subscription

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	delivered := 0
	for id, sub := range h.subs {
		if cap(sub.ch)-len(sub.ch) < countNonEmpty(frames) {
			delete(h.subs, id)
			slow = append(slow, sub)
			continue
		}
		for _, f := range frames {
			if len(f) == 0 {
				continue
			}
			sub.ch <- f
		}
		delivered++
	}
	h.published += uint64(countNonEmpty(frames))
	h.dropped += uint64(len(slow))
	onDrop := h.OnDrop
	h.mu.Unlock()

	for _, sub := range slow {
		sub.end(ErrSlowConsumer)
		if onDrop != nil {
			onDrop(sub)
		}
	}
	return delivered
}

func countNonEmpty(frames [][]byte) int {
	n := 0
	for _, f := range frames {
		if len(f) > 0 {
			n++
		}
	}
	return n
}

// Close detaches every subscription (their channels are closed with
// ErrClosed) and rejects further Attach calls. It is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.end(ErrClosed)
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Subscribers: len(h.subs), Published: h.published, Dropped: h.dropped}
}
