package config

import (
	"strconv"
	"strings"
)

// Overrides carries raw command-line values. A nil field was not given.
type Overrides struct {
	Port   *string
	Hz     *string
	Sender *string
	Jitter *string

	X, Y, Z          *string
	Lat, Lon, Height *string
}

// Apply merges o into cfg and re-validates it.
//
// A position triple must be given completely or not at all; giving one
// triple switches both ECEF and LLH off their defaults, so the other must be
// given as well.
func (o Overrides) Apply(cfg *Config) error {
	if o.Port != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*o.Port))
		if err != nil {
			return invalid("port must be a number: %q", *o.Port)
		}
		cfg.Server.Port = v
	}
	if o.Hz != nil {
		v, err := parseFloat("hz", *o.Hz)
		if err != nil {
			return err
		}
		cfg.Solution.Hz = v
	}
	if o.Sender != nil {
		v, err := strconv.ParseUint(strings.TrimSpace(*o.Sender), 0, 16)
		if err != nil {
			return invalid("sender must be a number in [0,65535]: %q", *o.Sender)
		}
		cfg.Solution.Sender = uint16(v)
	}
	if o.Jitter != nil {
		v, err := parseFloat("jitter", *o.Jitter)
		if err != nil {
			return err
		}
		cfg.Solution.Jitter = v
	}

	ecef, err := triple("x", o.X, "y", o.Y, "z", o.Z)
	if err != nil {
		return err
	}
	if ecef != nil {
		cfg.Solution.ECEF = &ECEFConfig{X: ecef[0], Y: ecef[1], Z: ecef[2]}
		cfg.Solution.NMEAGGA = ""
	}
	llh, err := triple("lat", o.Lat, "lon", o.Lon, "height", o.Height)
	if err != nil {
		return err
	}
	if llh != nil {
		cfg.Solution.LLH = &LLHConfig{Lat: llh[0], Lon: llh[1], Height: llh[2]}
		cfg.Solution.NMEAGGA = ""
	}

	return DefaultAndValidate(cfg)
}

func triple(an string, a *string, bn string, b *string, cn string, c *string) ([]*float64, error) {
	if a == nil && b == nil && c == nil {
		return nil, nil
	}
	if a == nil || b == nil || c == nil {
		return nil, invalid("if %s, %s, or %s is provided, all three must be provided", an, bn, cn)
	}
	out := make([]*float64, 0, 3)
	for _, kv := range []struct {
		name string
		raw  *string
	}{{an, a}, {bn, b}, {cn, c}} {
		v, err := parseFloat(kv.name, *kv.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !finite(v) {
		return 0, invalid("%s must be a number: %q", name, raw)
	}
	return v, nil
}
