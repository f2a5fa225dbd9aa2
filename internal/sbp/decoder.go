package sbp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decoder reads frames from a byte stream.
//
// Frames may be split across any number of reads. After a CRC failure or
// stray bytes the decoder resynchronises on the next preamble and reports
// what it dropped as a *DecodeError; callers should keep calling Next.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	// Big enough for the largest possible frame.
	return &Decoder{r: bufio.NewReaderSize(r, 1024)}
}

// Next returns the next frame.
//
// Errors:
//   - *DecodeError: malformed bytes were skipped; more frames may follow.
//   - io.EOF: the stream ended (a truncated trailing frame is reported as
//     one or more *DecodeError values first).
//   - anything else: the underlying reader failed.
func (d *Decoder) Next() (Frame, error) {
	skipped, err := d.seekPreamble()
	if skipped > 0 {
		// Report garbage before the preamble on its own; the frame (if any)
		// is picked up by the next call.
		return Frame{}, &DecodeError{Reason: "no preamble", Skipped: skipped}
	}
	if err != nil {
		return Frame{}, err
	}

	hdr, err := d.r.Peek(headerLen)
	if err != nil {
		return Frame{}, d.truncated(err)
	}
	n := int(hdr[5])
	total := headerLen + n + crcLen

	buf, err := d.r.Peek(total)
	if err != nil {
		return Frame{}, d.truncated(err)
	}

	got := binary.LittleEndian.Uint16(buf[headerLen+n:])
	want := crc16(buf[1 : headerLen+n])
	if got != want {
		// Drop just the preamble byte; a real frame may start inside buf.
		_, _ = d.r.Discard(1)
		return Frame{}, &DecodeError{
			Reason:  fmt.Sprintf("crc mismatch: got 0x%04x want 0x%04x", got, want),
			Skipped: 1,
		}
	}

	f := Frame{
		Type:    MsgType(binary.LittleEndian.Uint16(buf[1:3])),
		Sender:  binary.LittleEndian.Uint16(buf[3:5]),
		Payload: append([]byte(nil), buf[headerLen:headerLen+n]...),
	}
	_, _ = d.r.Discard(total)
	return f, nil
}

// seekPreamble discards bytes up to the next preamble without consuming it.
func (d *Decoder) seekPreamble() (int, error) {
	skipped := 0
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			return skipped, err
		}
		if b[0] == Preamble {
			return skipped, nil
		}
		_, _ = d.r.Discard(1)
		skipped++
	}
}

// truncated turns an EOF in the middle of a frame into a DecodeError. Only the
// preamble is dropped so a real frame starting inside the tail is still found.
func (d *Decoder) truncated(err error) error {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	_, _ = d.r.Discard(1)
	return &DecodeError{Reason: "truncated frame", Skipped: 1}
}
