// Package sbp implements the subset of the Swift Binary Protocol spoken by
// the emulator: framing, CRC, and the time / position / observation messages.
//
// Frame layout (little-endian):
//
//	0x55 | msg_type u16 | sender u16 | length u8 | payload | crc u16
//
// The CRC covers msg_type through the end of the payload.
package sbp

import (
	"encoding/binary"
	"fmt"
)

const (
	Preamble = 0x55

	headerLen = 6 // preamble, type, sender, length
	crcLen    = 2

	// MaxPayload is the largest payload a single frame can carry.
	MaxPayload = 255
)

// MsgType is the 16-bit SBP message identifier.
type MsgType uint16

const (
	MsgObs     MsgType = 0x004A
	MsgGPSTime MsgType = 0x0102
	MsgPosECEF MsgType = 0x0209
	MsgPosLLH  MsgType = 0x020A
)

// Observation ids used by older firmware. 0x0049 was MSG_OBS before the
// current layout took 0x004A.
const (
	MsgObsDepA MsgType = 0x0045
	MsgObsDepB MsgType = 0x0043
	MsgObsDepC MsgType = 0x0049
)

func (t MsgType) String() string {
	switch t {
	case MsgObs:
		return "MSG_OBS"
	case MsgObsDepA:
		return "MSG_OBS_DEP_A"
	case MsgObsDepB:
		return "MSG_OBS_DEP_B"
	case MsgObsDepC:
		return "MSG_OBS_DEP_C"
	case MsgGPSTime:
		return "MSG_GPS_TIME"
	case MsgPosECEF:
		return "MSG_POS_ECEF"
	case MsgPosLLH:
		return "MSG_POS_LLH"
	default:
		return fmt.Sprintf("MSG_0x%04X", uint16(t))
	}
}

// Kind is the closed set of message families the emulator distinguishes.
type Kind int

const (
	KindUnknown Kind = iota
	KindTime
	KindPosECEF
	KindPosLLH
	KindObservation
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindPosECEF:
		return "pos_ecef"
	case KindPosLLH:
		return "pos_llh"
	case KindObservation:
		return "observation"
	default:
		return "unknown"
	}
}

// KindOf maps a message type onto its Kind.
func KindOf(t MsgType) Kind {
	switch t {
	case MsgGPSTime:
		return KindTime
	case MsgPosECEF:
		return KindPosECEF
	case MsgPosLLH:
		return KindPosLLH
	case MsgObs, MsgObsDepA, MsgObsDepB, MsgObsDepC:
		return KindObservation
	default:
		return KindUnknown
	}
}

// Frame is one decoded SBP message: the envelope plus its raw payload.
type Frame struct {
	Type    MsgType
	Sender  uint16
	Payload []byte
}

func (f Frame) Kind() Kind { return KindOf(f.Type) }

// Fields is a message body that knows its own type and wire encoding.
type Fields interface {
	MsgType() MsgType
	MarshalBinary() ([]byte, error)
}

// Encode serializes f into a complete frame sent by sender.
func Encode(f Fields, sender uint16) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("sbp: fields are nil")
	}
	payload, err := f.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sbp: marshal %s: %w", f.MsgType(), err)
	}
	return FrameBytes(f.MsgType(), sender, payload)
}

// FrameBytes wraps an already-encoded payload into a frame.
func FrameBytes(t MsgType, sender uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("sbp: payload too long for %s: %d bytes", t, len(payload))
	}
	out := make([]byte, headerLen+len(payload)+crcLen)
	out[0] = Preamble
	binary.LittleEndian.PutUint16(out[1:3], uint16(t))
	binary.LittleEndian.PutUint16(out[3:5], sender)
	out[5] = byte(len(payload))
	copy(out[headerLen:], payload)
	crc := crc16(out[1 : headerLen+len(payload)])
	binary.LittleEndian.PutUint16(out[headerLen+len(payload):], crc)
	return out, nil
}

// Bytes re-frames f as-is, keeping its type, sender and payload.
func (f Frame) Bytes() ([]byte, error) {
	return FrameBytes(f.Type, f.Sender, f.Payload)
}

// Unframe validates a single complete frame and returns its contents.
func Unframe(b []byte) (Frame, error) {
	if len(b) < headerLen+crcLen {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("frame too short: %d", len(b)), Skipped: len(b)}
	}
	if b[0] != Preamble {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("bad preamble 0x%02x", b[0]), Skipped: len(b)}
	}
	n := int(b[5])
	if len(b) != headerLen+n+crcLen {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("length mismatch: header=%d frame=%d", n, len(b)), Skipped: len(b)}
	}
	got := binary.LittleEndian.Uint16(b[headerLen+n:])
	if want := crc16(b[1 : headerLen+n]); got != want {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("crc mismatch: got 0x%04x want 0x%04x", got, want), Skipped: len(b)}
	}
	return Frame{
		Type:    MsgType(binary.LittleEndian.Uint16(b[1:3])),
		Sender:  binary.LittleEndian.Uint16(b[3:5]),
		Payload: append([]byte(nil), b[headerLen:headerLen+n]...),
	}, nil
}

// DecodeError reports bytes that could not be turned into a frame. It is
// recoverable: the decoder has already skipped past the offending bytes.
type DecodeError struct {
	Reason  string
	Skipped int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sbp decode: %s (skipped %d bytes)", e.Reason, e.Skipped)
}
