package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Stream copies frames from sub to w until the subscription ends, ctx is
// done, or a write fails. flush, when non-nil, is called after each batch of
// queued frames has been written.
//
// It returns nil when ctx ends or the hub closes, the subscription's error
// when it was dropped, and the write error otherwise.
func (s *Subscription) Stream(ctx context.Context, w io.Writer, flush func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-s.ch:
			if !ok {
				return s.closeErr()
			}
			if err := write(w, p); err != nil {
				return err
			}
			// Drain whatever else is already queued before flushing.
			for drained := false; !drained; {
				select {
				case p, ok := <-s.ch:
					if !ok {
						if flush != nil {
							flush()
						}
						return s.closeErr()
					}
					if err := write(w, p); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			if flush != nil {
				flush()
			}
		}
	}
}

func (s *Subscription) closeErr() error {
	if errors.Is(s.err, ErrClosed) || errors.Is(s.err, ErrDetached) {
		return nil
	}
	return s.err
}

func write(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}
