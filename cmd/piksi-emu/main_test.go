package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"piksi-emu/internal/config"
	"piksi-emu/internal/replay"
	"piksi-emu/internal/sbp"
	"piksi-emu/internal/server"
	"piksi-emu/internal/web"
)

func TestRun_FlagsOverrideAndStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan *server.Server, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, []string{"-port", "0", "-hz", "50", "-sender", "0x99"}, web.NewLogBuffer(10), func(s *server.Server) {
			started <- s
		})
	}()

	var srv *server.Server
	select {
	case srv = <-started:
	case err := <-errc:
		t.Fatalf("run() error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	f, err := sbp.NewDecoder(resp.Body).Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if f.Type != sbp.MsgGPSTime || f.Sender != 0x99 {
		t.Fatalf("first frame type=%s sender=0x%x", f.Type, f.Sender)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if srv.State() != server.StateClosed {
		t.Fatalf("state=%s want closed", srv.State())
	}
}

func TestRun_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("server:\n  prot: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "partial_ecef", args: []string{"-x", "1", "-y", "2"}, want: "if x, y, or z is provided, all three must be provided"},
		{name: "ecef_only", args: []string{"-x", "1", "-y", "2", "-z", "3"}, want: "solution.ecef and solution.llh must both be set or both left at defaults"},
		{name: "non_numeric", args: []string{"-hz", "fast"}, want: `hz must be a number: "fast"`},
		{name: "rate", args: []string{"-hz", "1000"}, want: "solution.hz must be less than 1000"},
		{name: "missing_config", args: []string{"-config", filepath.Join(dir, "nope.yaml")}},
		{name: "unknown_field", args: []string{"-config", unknown}},
		{name: "unknown_flag", args: []string{"-bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), append(tc.args, "-port", "0"), nil, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != "" && err.Error() != tc.want {
				t.Fatalf("err=%q want %q", err.Error(), tc.want)
			}
		})
	}
}

func TestOpenFeatures_CaptureAndReplay(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "rover.log")
	w, err := replay.CreateWriter(src)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	obs, err := sbp.FrameBytes(sbp.MsgObs, 0x88, []byte{0x01})
	if err != nil {
		t.Fatalf("FrameBytes() error: %v", err)
	}
	if _, err := w.Write(obs); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	_ = w.Close()

	cfg := config.Default()
	cfg.Capture = config.CaptureConfig{Enable: true, Path: filepath.Join(dir, "capture.log")}
	cfg.RoverReplay = config.RoverReplayConfig{Enable: true, Path: src, Speed: 1}

	f, err := openFeatures(cfg)
	if err != nil {
		t.Fatalf("openFeatures() error: %v", err)
	}
	if got := len(f.options()); got != 2 {
		f.Close()
		t.Fatalf("options=%d want 2", got)
	}
	f.Close()
	f.Close()

	cfg.RoverReplay.Path = filepath.Join(dir, "missing.log")
	if _, err := openFeatures(cfg); err == nil {
		t.Fatalf("expected error for missing replay log")
	} else if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want not-exist", err)
	}
}
