package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"piksi-emu/internal/config"
	"piksi-emu/internal/server"
	"piksi-emu/internal/web"
)

func main() {
	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], logs, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("piksi-emu: %v", err)
	}
}

// run parses args, starts the server and blocks until ctx is done. started,
// when non-nil, is called once the server is listening.
func run(ctx context.Context, args []string, logs *web.LogBuffer, started func(*server.Server)) error {
	fs := flag.NewFlagSet("piksi-emu", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config (defaults apply when empty)")

	var ov config.Overrides
	str := func(dst **string, name, usage string) {
		fs.Func(name, usage, func(v string) error {
			*dst = &v
			return nil
		})
	}
	str(&ov.Port, "port", "TCP port to listen on (default 7777)")
	str(&ov.Hz, "hz", "Solution rate in Hz (default 1, must be < 1000)")
	str(&ov.Sender, "sender", "SBP sender id for generated messages (default 0x42)")
	str(&ov.Jitter, "jitter", "Position jitter scale (default 0)")
	str(&ov.X, "x", "ECEF X in meters")
	str(&ov.Y, "y", "ECEF Y in meters")
	str(&ov.Z, "z", "ECEF Z in meters")
	str(&ov.Lat, "lat", "Latitude in degrees")
	str(&ov.Lon, "lon", "Longitude in degrees")
	str(&ov.Height, "height", "Height in meters")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := ov.Apply(&cfg); err != nil {
		return err
	}

	f, err := openFeatures(cfg)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := append(f.options(), server.WithLogBuffer(logs))
	srv, err := server.Start(cfg, opts...)
	if err != nil {
		return err
	}
	log.Printf("piksi-emu starting")
	if started != nil {
		started(srv)
	}

	<-ctx.Done()
	log.Printf("piksi-emu stopping")
	return srv.Close()
}
