package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"piksi-emu/internal/broadcast"
	"piksi-emu/internal/web"
)

func (s *Server) routes(logs *web.LogBuffer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStream)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/api/status", web.StatusHandler(s.status))
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	return mux
}

// handleStream answers any request with the broadcast stream. When the
// request carries a body it is read concurrently and observations in it
// are echoed to every subscriber.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sub, err := s.attach(r.RemoteAddr, "http")
	if err != nil {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	defer s.detach(sub, start)

	rc := http.NewResponseController(w)
	hasBody := r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
	if hasBody {
		if err := rc.EnableFullDuplex(); err != nil {
			log.Printf("stream %s: full duplex unavailable: %v", sub.Name(), err)
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if hasBody {
		f := s.newFilter(sub.Name())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := f.Run(ctx, r.Body); err != nil {
				log.Printf("%v", err)
			}
		}()
		// The reader must be gone before the handler returns. An expired
		// read deadline unblocks a body read that is still pending.
		defer func() {
			cancel()
			_ = rc.SetReadDeadline(time.Now())
			<-done
		}()
	}

	err = sub.Stream(ctx, w, func() { _ = rc.Flush() })
	if err != nil && !errors.Is(err, broadcast.ErrSlowConsumer) {
		log.Printf("stream %s: %v", sub.Name(), err)
	}
}

func (s *Server) attach(name, transport string) (*broadcast.Subscription, error) {
	sub, err := s.hub.Attach(name)
	if err != nil {
		return nil, err
	}
	s.metrics.Connections.WithLabelValues(transport).Inc()
	s.metrics.Subscribers.Inc()
	s.status.AddConnection()
	log.Printf("stream %s: attached transport=%s", name, transport)
	return sub, nil
}

func (s *Server) detach(sub *broadcast.Subscription, start time.Time) {
	s.hub.Detach(sub)
	d := time.Since(start)
	s.metrics.Subscribers.Dec()
	s.metrics.StreamDuration.Observe(d.Seconds())
	log.Printf("stream %s: detached after %s", sub.Name(), d.Round(time.Millisecond))
}
