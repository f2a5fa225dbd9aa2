// Package echo turns a connection's inbound bytes into echoed observations.
//
// Only observation messages from a non-zero sender are forwarded; sender 0
// means "no distinct origin" and is never echoed.
package echo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"piksi-emu/internal/sbp"
)

// Publisher receives re-encoded frames.
type Publisher interface {
	Publish(p []byte) int
}

// Stats summarizes one Run.
type Stats struct {
	Frames       uint64 `json:"frames"`
	Echoed       uint64 `json:"echoed"`
	Discarded    uint64 `json:"discarded"`
	DecodeErrors uint64 `json:"decode_errors"`
}

type Filter struct {
	pub Publisher

	// Name prefixes log lines, typically the remote address.
	Name string

	// Hooks for metrics; any may be nil.
	OnEcho        func(f sbp.Frame)
	OnDecodeError func(err *sbp.DecodeError)
}

func New(pub Publisher, name string) *Filter {
	return &Filter{pub: pub, Name: name}
}

// Qualifies reports whether f should be echoed.
func Qualifies(f sbp.Frame) bool {
	switch f.Kind() {
	case sbp.KindObservation:
		return f.Sender != 0
	case sbp.KindTime, sbp.KindPosECEF, sbp.KindPosLLH, sbp.KindUnknown:
		return false
	default:
		return false
	}
}

// Run decodes r until EOF, ctx cancellation, or a transport error.
// Malformed input is logged and skipped and never ends the run.
func (f *Filter) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var st Stats
	if f == nil || f.pub == nil {
		return st, fmt.Errorf("echo: filter has no publisher")
	}
	dec := sbp.NewDecoder(r)
	for {
		if ctx.Err() != nil {
			return st, nil
		}
		frame, err := dec.Next()
		if err != nil {
			var de *sbp.DecodeError
			switch {
			case errors.As(err, &de):
				st.DecodeErrors++
				log.Printf("echo %s: %v", f.Name, de)
				if f.OnDecodeError != nil {
					f.OnDecodeError(de)
				}
				continue
			case errors.Is(err, io.EOF):
				return st, nil
			default:
				if ctx.Err() != nil {
					return st, nil
				}
				return st, fmt.Errorf("echo %s: read: %w", f.Name, err)
			}
		}

		st.Frames++
		if !Qualifies(frame) {
			st.Discarded++
			continue
		}
		// Re-encode the frame just decoded, with its own sender and payload.
		b, err := sbp.Encode(frame.Fields(), frame.Sender)
		if err != nil {
			log.Printf("echo %s: re-encode %s: %v", f.Name, frame.Type, err)
			st.Discarded++
			continue
		}
		f.pub.Publish(b)
		st.Echoed++
		if f.OnEcho != nil {
			f.OnEcho(frame)
		}
	}
}
