// Package replay records the broadcast stream as a timestamped log and plays
// such a log back as rover uplink data.
package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"piksi-emu/internal/sbp"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START and hex is one complete SBP frame.

type Record struct {
	At    time.Duration
	Frame []byte
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFile reads every record of the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// ReadAll parses the log. Every data line must hold a frame with a valid CRC.
func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{At: 0, Frame: nil})
			continue
		}

		tsStr, hexStr, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: missing comma: %q", lineNo, line)
		}
		tsStr = strings.TrimSpace(tsStr)
		hexStr = strings.ReplaceAll(strings.TrimSpace(hexStr), " ", "")
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("line %d: empty field: %q", lineNo, line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: negative timestamp %d", lineNo, tsNs)
		}

		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("line %d: hex: %w", lineNo, err)
		}
		if _, err := sbp.Unframe(b); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Frame: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Writer appends frames to a log. It is an io.Writer so it can sit behind a
// broadcast subscription: each Write is one frame, stamped with the clock.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	now    func() time.Time
	closed bool
	frames uint64
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now(), now: time.Now}, nil
}

func (ww *Writer) Write(p []byte) (int, error) {
	if err := ww.WriteFrame(ww.now(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ww *Writer) WriteFrame(now time.Time, frame []byte) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if len(frame) == 0 {
		return errors.New("frame is empty")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(frame)); err != nil {
		return err
	}
	ww.frames++
	return nil
}

func (ww *Writer) Frames() uint64 {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	return ww.frames
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
