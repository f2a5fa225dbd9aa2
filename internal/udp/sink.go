// Package udp sends the broadcast stream to a UDP destination, one SBP frame
// per datagram.
package udp

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

type Sink struct {
	dest string
	conn udpConn

	once     sync.Once
	closeErr error

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewSink(dest string) (*Sink, error) {
	return newSink(dest, net.ResolveUDPAddr, dialUDP)
}

func newSink(dest string, resolve resolveFunc, dial dialFunc) (*Sink, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Sink{dest: dest, conn: conn}, nil
}

// Write sends p as one datagram. Send failures (typically ECONNREFUSED while
// nobody listens) are counted and logged once; they never end the stream.
func (s *Sink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := s.conn.Write(p); err != nil {
		if s.failed.Add(1) == 1 {
			log.Printf("udp %s: send failed: %v", s.dest, err)
		}
		return len(p), nil
	}
	s.sent.Add(1)
	return len(p), nil
}

// Close is idempotent.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	s.once.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

func (s *Sink) Sent() uint64   { return s.sent.Load() }
func (s *Sink) Failed() uint64 { return s.failed.Load() }
