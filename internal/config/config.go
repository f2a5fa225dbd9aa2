package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"piksi-emu/internal/geo"
)

// DefaultSender is the SBP sender id used for generated solutions.
const DefaultSender uint16 = 0x42

// DefaultECEF and DefaultLLH describe the same reference point (the Swift
// Navigation San Francisco office).
var (
	DefaultECEF = geo.ECEF{X: -2706105.162741557, Y: -4261224.166310791, Z: 3885605.2890337044}
	DefaultLLH  = geo.LLH{Lat: 37.77348891054085, Lon: -122.41772914435545, Height: 60}
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Solution    SolutionConfig    `yaml:"solution"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Serial      SerialConfig      `yaml:"serial"`
	UDP         UDPConfig         `yaml:"udp"`
	Capture     CaptureConfig     `yaml:"capture"`
	RoverReplay RoverReplayConfig `yaml:"rover_replay"`
	PPS         PPSConfig         `yaml:"pps"`
}

type ServerConfig struct {
	// Host is the listen address; empty means all interfaces.
	Host string `yaml:"host"`

	// Port 0 picks an ephemeral port.
	Port int `yaml:"port"`

	// SubscriberQueue is the number of frames buffered per connection before
	// the connection is considered too slow and dropped.
	SubscriberQueue int `yaml:"subscriber_queue"`

	// SendBufferBytes sets SO_SNDBUF on accepted connections when > 0.
	SendBufferBytes int `yaml:"send_buffer_bytes"`
}

type SolutionConfig struct {
	Hz     float64 `yaml:"hz"`
	Sender uint16  `yaml:"sender"`
	Jitter float64 `yaml:"jitter"`

	// ECEF and LLH are nil when left at their defaults.
	ECEF *ECEFConfig `yaml:"ecef"`
	LLH  *LLHConfig  `yaml:"llh"`

	// NMEAGGA optionally supplies the position as a GGA sentence; ECEF is
	// derived from it.
	NMEAGGA string `yaml:"nmea_gga"`
}

type ECEFConfig struct {
	X *float64 `yaml:"x"`
	Y *float64 `yaml:"y"`
	Z *float64 `yaml:"z"`
}

type LLHConfig struct {
	Lat    *float64 `yaml:"lat"`
	Lon    *float64 `yaml:"lon"`
	Height *float64 `yaml:"height"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type SerialConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	// Uplink also reads rover data from the port and echoes observations.
	Uplink bool `yaml:"uplink"`
}

// UDPConfig sends every broadcast frame as one datagram to Dest.
type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type CaptureConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type RoverReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type PPSConfig struct {
	Enable  bool          `yaml:"enable"`
	GPIOPin int           `yaml:"gpio_pin"`
	Width   time.Duration `yaml:"width"`
}

// ValidationError is returned for configuration that must not be started.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns a fresh configuration with every default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            7777,
			SubscriberQueue: 256,
		},
		Solution: SolutionConfig{
			Hz:     1,
			Sender: DefaultSender,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "piksi/solution",
			ClientID: "piksi-emu",
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		RoverReplay: RoverReplayConfig{
			Speed: 1,
		},
		PPS: PPSConfig{
			Width: 100 * time.Millisecond,
		},
	}
}

// Load reads a YAML file on top of Default() and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML on top of Default() and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", unknownFieldDetail(err))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldDetail(err error) string {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		msg := te.Errors[0]
		// "line 3: field mode not found in type config.SolutionConfig"
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
		return msg
	}
	return err.Error()
}

// DefaultAndValidate fills zero values that have a default and rejects
// anything the emulator cannot start with.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Server.SubscriberQueue == 0 {
		cfg.Server.SubscriberQueue = 256
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return invalid("server.port must be in [0,65535]")
	}
	// A solution is published as one batch of three frames.
	if cfg.Server.SubscriberQueue < 3 {
		return invalid("server.subscriber_queue must be >= 3")
	}
	if cfg.Server.SendBufferBytes < 0 {
		return invalid("server.send_buffer_bytes must be >= 0")
	}

	if err := validateSolution(&cfg.Solution); err != nil {
		return err
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return invalid("mqtt.broker is required when mqtt.enable is true")
		}
		if strings.TrimSpace(cfg.MQTT.Topic) == "" {
			return invalid("mqtt.topic is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS > 2 {
			return invalid("mqtt.qos must be 0, 1 or 2")
		}
	}

	if cfg.Serial.Enable {
		if strings.TrimSpace(cfg.Serial.Device) == "" {
			return invalid("serial.device is required when serial.enable is true")
		}
		if cfg.Serial.Baud <= 0 {
			return invalid("serial.baud must be > 0")
		}
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return invalid("udp.dest is required when udp.enable is true")
	}

	if cfg.Capture.Enable && strings.TrimSpace(cfg.Capture.Path) == "" {
		return invalid("capture.path is required when capture.enable is true")
	}

	if cfg.RoverReplay.Enable {
		if strings.TrimSpace(cfg.RoverReplay.Path) == "" {
			return invalid("rover_replay.path is required when rover_replay.enable is true")
		}
		if cfg.RoverReplay.Speed == 0 {
			cfg.RoverReplay.Speed = 1
		}
		if cfg.RoverReplay.Speed < 0 {
			return invalid("rover_replay.speed must be > 0")
		}
	}

	if cfg.PPS.Enable {
		if cfg.PPS.GPIOPin <= 0 {
			return invalid("pps.gpio_pin must be > 0 when pps.enable is true")
		}
		if cfg.PPS.Width <= 0 {
			cfg.PPS.Width = 100 * time.Millisecond
		}
		if cfg.PPS.Width >= cfg.Solution.Interval() {
			return invalid("pps.width must be shorter than the solution interval")
		}
	}
	return nil
}

func validateSolution(s *SolutionConfig) error {
	if !finite(s.Hz) {
		return invalid("solution.hz must be a number")
	}
	if s.Hz <= 0 {
		return invalid("solution.hz must be > 0")
	}
	if s.Hz >= 1000 {
		return invalid("solution.hz must be less than 1000")
	}
	// The period must fit a Duration and stay above one millisecond.
	sec := float64(time.Second) / s.Hz
	if sec >= math.MaxInt64 {
		return invalid("solution.hz is too small")
	}
	if time.Duration(sec) <= time.Millisecond {
		return invalid("solution.hz must be less than 1000")
	}
	if !finite(s.Jitter) {
		return invalid("solution.jitter must be a number")
	}
	if s.Jitter < 0 {
		return invalid("solution.jitter must be >= 0")
	}

	if s.ECEF != nil {
		if s.ECEF.X == nil || s.ECEF.Y == nil || s.ECEF.Z == nil {
			return invalid("solution.ecef requires x, y and z")
		}
		for _, v := range []*float64{s.ECEF.X, s.ECEF.Y, s.ECEF.Z} {
			if !finite(*v) {
				return invalid("solution.ecef values must be numbers")
			}
		}
	}
	if s.LLH != nil {
		if s.LLH.Lat == nil || s.LLH.Lon == nil || s.LLH.Height == nil {
			return invalid("solution.llh requires lat, lon and height")
		}
		for _, v := range []*float64{s.LLH.Lat, s.LLH.Lon, s.LLH.Height} {
			if !finite(*v) {
				return invalid("solution.llh values must be numbers")
			}
		}
	}

	if strings.TrimSpace(s.NMEAGGA) != "" {
		if s.ECEF != nil || s.LLH != nil {
			return invalid("solution.nmea_gga cannot be combined with solution.ecef or solution.llh")
		}
		if _, err := geo.ParseGGA(s.NMEAGGA); err != nil {
			return invalid("solution.nmea_gga: %v", err)
		}
		return nil
	}

	if (s.ECEF == nil) != (s.LLH == nil) {
		return invalid("solution.ecef and solution.llh must both be set or both left at defaults")
	}
	return nil
}

// Interval is the solution period for the configured rate.
func (s SolutionConfig) Interval() time.Duration {
	if s.Hz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / s.Hz)
}

// Position resolves the configured (or default) position in both frames.
// Call it only on a validated configuration.
func (s SolutionConfig) Position() (geo.ECEF, geo.LLH, error) {
	if strings.TrimSpace(s.NMEAGGA) != "" {
		llh, err := geo.ParseGGA(s.NMEAGGA)
		if err != nil {
			return geo.ECEF{}, geo.LLH{}, invalid("solution.nmea_gga: %v", err)
		}
		return llh.ToECEF(), llh, nil
	}
	if s.ECEF == nil && s.LLH == nil {
		return DefaultECEF, DefaultLLH, nil
	}
	if s.ECEF == nil || s.LLH == nil || s.ECEF.X == nil || s.ECEF.Y == nil || s.ECEF.Z == nil ||
		s.LLH.Lat == nil || s.LLH.Lon == nil || s.LLH.Height == nil {
		return geo.ECEF{}, geo.LLH{}, invalid("solution position is incomplete")
	}
	return geo.ECEF{X: *s.ECEF.X, Y: *s.ECEF.Y, Z: *s.ECEF.Z},
		geo.LLH{Lat: *s.LLH.Lat, Lon: *s.LLH.Lon, Height: *s.LLH.Height}, nil
}

// Addr is the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
