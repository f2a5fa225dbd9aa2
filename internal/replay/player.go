package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

type Sleeper interface {
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing.
//
// cb is invoked for each record that holds a frame. START markers reset the
// origin. speed: 1.0 = real time, 2.0 = twice as fast.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper Sleeper, cb func(frame []byte) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if countFrames(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.Frame == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speed)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := cb(r.Frame); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

func countFrames(records []Record) int {
	n := 0
	for _, r := range records {
		if r.Frame != nil {
			n++
		}
	}
	return n
}

// Uplink plays a log as a byte stream, emulating a rover that sends the
// logged frames on their recorded schedule. Reads end with io.EOF once the
// log is done (never, when looping) or the Uplink is closed.
type Uplink struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
}

func NewUplink(records []Record, speed float64, loop bool, sleeper Sleeper) *Uplink {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	u := &Uplink{pr: pr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(u.done)
		err := Play(ctx, records, speed, loop, sleeper, func(frame []byte) error {
			_, err := pw.Write(frame)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.ErrClosedPipe) {
			log.Printf("replay: uplink stopped: %v", err)
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()
	return u
}

func (u *Uplink) Read(p []byte) (int, error) { return u.pr.Read(p) }

// Close stops playback and waits for it to finish.
func (u *Uplink) Close() error {
	u.cancel()
	_ = u.pr.Close()
	<-u.done
	return nil
}
