package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

// Rovers are not browsers; there is no origin to check.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket carries the same stream over a websocket. Each outbound
// frame is one binary message. Inbound binary messages are concatenated
// into one byte stream for the echo filter, so a frame may span messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws %s: upgrade failed: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	sub, err := s.attach(r.RemoteAddr, "ws")
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server closing"),
			time.Now().Add(wsWriteWait))
		return
	}
	start := time.Now()
	defer s.detach(sub, start)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	f := s.newFilter(sub.Name())
	go func() {
		// Peer close ends the stream too.
		defer cancel()
		if _, err := f.Run(ctx, &wsReader{conn: conn}); err != nil {
			log.Printf("%v", err)
		}
	}()

	err = sub.Stream(ctx, wsWriter{conn: conn}, nil)
	if err != nil {
		log.Printf("ws %s: %v", sub.Name(), err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}

type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// wsReader turns a sequence of binary messages into an io.Reader. Text
// messages are skipped. A normal close reads as io.EOF.
type wsReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (r *wsReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			mt, next, err := r.conn.NextReader()
			if err != nil {
				if isNormalClose(err) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			r.cur = next
		}
		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
