package echo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"

	"piksi-emu/internal/sbp"
)

type recordingPublisher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *recordingPublisher) Publish(b []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, b)
	return 1
}

func encode(t *testing.T, f sbp.Fields, sender uint16) []byte {
	t.Helper()
	b, err := sbp.Encode(f, sender)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return b
}

var obsPayload = []byte{0x7c, 0x07, 0x10, 0x52, 0x56, 0x0e, 0x10, 0x01, 0x02, 0x03}

func TestQualifies(t *testing.T) {
	cases := []struct {
		name string
		in   sbp.Frame
		want bool
	}{
		{name: "obs_remote", in: sbp.Frame{Type: sbp.MsgObs, Sender: 0x88}, want: true},
		{name: "obs_sender_zero", in: sbp.Frame{Type: sbp.MsgObs, Sender: 0}, want: false},
		{name: "obs_legacy_id", in: sbp.Frame{Type: sbp.MsgObsDepC, Sender: 0x88}, want: true},
		{name: "obs_legacy_sender_zero", in: sbp.Frame{Type: sbp.MsgObsDepC, Sender: 0}, want: false},
		{name: "time", in: sbp.Frame{Type: sbp.MsgGPSTime, Sender: 0x88}, want: false},
		{name: "ecef", in: sbp.Frame{Type: sbp.MsgPosECEF, Sender: 0x88}, want: false},
		{name: "llh", in: sbp.Frame{Type: sbp.MsgPosLLH, Sender: 0x88}, want: false},
		{name: "unknown", in: sbp.Frame{Type: 0x1234, Sender: 0x88}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Qualifies(tc.in); got != tc.want {
				t.Fatalf("Qualifies(%+v)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRun_EchoesRemoteObservationsVerbatim(t *testing.T) {
	obs := encode(t, sbp.Raw{Type: sbp.MsgObs, Payload: obsPayload}, 0x88)
	var in []byte
	in = append(in, obs...)
	in = append(in, encode(t, sbp.GPSTime{WN: 1}, 0x42)...)
	in = append(in, encode(t, sbp.Raw{Type: sbp.MsgObs, Payload: obsPayload}, 0)...)
	in = append(in, obs...)

	pub := &recordingPublisher{}
	st, err := New(pub, "test").Run(context.Background(), iotest.HalfReader(bytes.NewReader(in)))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st.Frames != 4 || st.Echoed != 2 || st.Discarded != 2 || st.DecodeErrors != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if len(pub.frames) != 2 {
		t.Fatalf("published=%d want 2", len(pub.frames))
	}
	for _, b := range pub.frames {
		if !bytes.Equal(b, obs) {
			t.Fatalf("echo=% x want % x", b, obs)
		}
	}
}

func TestRun_GarbageIsSkipped(t *testing.T) {
	obs := encode(t, sbp.Raw{Type: sbp.MsgObs, Payload: obsPayload}, 0x88)
	in := append([]byte{0xde, 0xad, 0xbe, 0xef}, obs...)
	in = append(in, 0x55, 0x01)

	var decodeErrs int
	pub := &recordingPublisher{}
	f := New(pub, "garbage")
	f.OnDecodeError = func(*sbp.DecodeError) { decodeErrs++ }
	st, err := f.Run(context.Background(), bytes.NewReader(in))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st.Echoed != 1 || len(pub.frames) != 1 {
		t.Fatalf("stats=%+v published=%d", st, len(pub.frames))
	}
	if st.DecodeErrors == 0 || decodeErrs != int(st.DecodeErrors) {
		t.Fatalf("decode errors=%d hook=%d", st.DecodeErrors, decodeErrs)
	}
}

func TestRun_TransportErrorReturned(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader(encode(t, sbp.Raw{Type: sbp.MsgObs, Payload: obsPayload}, 0x88)), iotest.ErrReader(boom))
	pub := &recordingPublisher{}
	st, err := New(pub, "reset").Run(context.Background(), r)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if st.Echoed != 1 {
		t.Fatalf("echoed=%d want 1", st.Echoed)
	}
}

func TestRun_NoPublisher(t *testing.T) {
	if _, err := New(nil, "x").Run(context.Background(), bytes.NewReader(nil)); err == nil {
		t.Fatalf("expected error")
	}
}
