package main

import (
	"io"
	"log"

	"piksi-emu/internal/config"
	"piksi-emu/internal/mirror"
	"piksi-emu/internal/mqttpub"
	"piksi-emu/internal/pps"
	"piksi-emu/internal/replay"
	"piksi-emu/internal/server"
	"piksi-emu/internal/udp"
)

// features holds the optional outputs and inputs enabled in the config.
type features struct {
	mqtt    *mqttpub.Publisher
	pps     *pps.Pulser
	serial  *mirror.Port
	uplink  bool
	udp     *udp.Sink
	capture *replay.Writer
	rover   *replay.Uplink
}

func openFeatures(cfg config.Config) (*features, error) {
	f := &features{}
	if err := f.open(cfg); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *features) open(cfg config.Config) (err error) {
	if cfg.MQTT.Enable {
		if f.mqtt, err = mqttpub.Connect(cfg.MQTT); err != nil {
			return err
		}
	}
	if cfg.PPS.Enable {
		if f.pps, err = pps.Open(cfg.PPS); err != nil {
			return err
		}
	}
	if cfg.Serial.Enable {
		if f.serial, err = mirror.Open(cfg.Serial); err != nil {
			return err
		}
		f.uplink = cfg.Serial.Uplink
	}
	if cfg.UDP.Enable {
		if f.udp, err = udp.NewSink(cfg.UDP.Dest); err != nil {
			return err
		}
		log.Printf("udp: sending frames to %s", cfg.UDP.Dest)
	}
	if cfg.Capture.Enable {
		if f.capture, err = replay.CreateWriter(cfg.Capture.Path); err != nil {
			return err
		}
		log.Printf("capture: recording to %s", cfg.Capture.Path)
	}
	if cfg.RoverReplay.Enable {
		recs, err := replay.ReadFile(cfg.RoverReplay.Path)
		if err != nil {
			return err
		}
		f.rover = replay.NewUplink(recs, cfg.RoverReplay.Speed, cfg.RoverReplay.Loop, nil)
		log.Printf("replay: %d records from %s speed=%.2f loop=%t", len(recs), cfg.RoverReplay.Path, cfg.RoverReplay.Speed, cfg.RoverReplay.Loop)
	}
	return nil
}

func (f *features) options() []server.Option {
	var opts []server.Option
	if f.mqtt != nil {
		opts = append(opts, server.WithObserver(f.mqtt.Observe))
	}
	if f.pps != nil {
		opts = append(opts, server.WithObserver(f.pps.Observe))
	}
	if f.serial != nil {
		opts = append(opts, server.WithSink("serial", f.serial))
		if f.uplink {
			opts = append(opts, server.WithUplink("serial", f.serial))
		}
	}
	if f.udp != nil {
		opts = append(opts, server.WithSink("udp", f.udp))
	}
	if f.capture != nil {
		opts = append(opts, server.WithSink("capture", f.capture))
	}
	if f.rover != nil {
		opts = append(opts, server.WithUplink("replay", f.rover))
	}
	return opts
}

// Close releases everything openFeatures opened. The server closes its
// sinks and uplinks too; every Close here is idempotent.
func (f *features) Close() {
	var closers []io.Closer
	if f.rover != nil {
		closers = append(closers, f.rover)
	}
	if f.capture != nil {
		closers = append(closers, f.capture)
	}
	if f.serial != nil {
		closers = append(closers, f.serial)
	}
	if f.udp != nil {
		closers = append(closers, f.udp)
	}
	if f.pps != nil {
		closers = append(closers, f.pps)
	}
	if f.mqtt != nil {
		closers = append(closers, f.mqtt)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("piksi-emu: close: %v", err)
		}
	}
}
