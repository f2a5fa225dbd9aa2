package sbp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// GPSTime is MSG_GPS_TIME. TOW is in milliseconds.
type GPSTime struct {
	WN         uint16
	TOW        uint32
	NsResidual int32
	Flags      uint8
}

const gpsTimeLen = 11

func (GPSTime) MsgType() MsgType { return MsgGPSTime }

func (m GPSTime) MarshalBinary() ([]byte, error) {
	b := make([]byte, gpsTimeLen)
	binary.LittleEndian.PutUint16(b[0:2], m.WN)
	binary.LittleEndian.PutUint32(b[2:6], m.TOW)
	binary.LittleEndian.PutUint32(b[6:10], uint32(m.NsResidual))
	b[10] = m.Flags
	return b, nil
}

// ParseGPSTime decodes a MSG_GPS_TIME payload.
func ParseGPSTime(p []byte) (GPSTime, error) {
	if len(p) < gpsTimeLen {
		return GPSTime{}, fmt.Errorf("sbp: %s payload too short: %d", MsgGPSTime, len(p))
	}
	return GPSTime{
		WN:         binary.LittleEndian.Uint16(p[0:2]),
		TOW:        binary.LittleEndian.Uint32(p[2:6]),
		NsResidual: int32(binary.LittleEndian.Uint32(p[6:10])),
		Flags:      p[10],
	}, nil
}

// PosECEF is MSG_POS_ECEF. Coordinates are meters.
type PosECEF struct {
	TOW      uint32
	X, Y, Z  float64
	Accuracy uint16
	NSats    uint8
	Flags    uint8
}

const posECEFLen = 32

func (PosECEF) MsgType() MsgType { return MsgPosECEF }

func (m PosECEF) MarshalBinary() ([]byte, error) {
	b := make([]byte, posECEFLen)
	binary.LittleEndian.PutUint32(b[0:4], m.TOW)
	putFloat64(b[4:12], m.X)
	putFloat64(b[12:20], m.Y)
	putFloat64(b[20:28], m.Z)
	binary.LittleEndian.PutUint16(b[28:30], m.Accuracy)
	b[30] = m.NSats
	b[31] = m.Flags
	return b, nil
}

// ParsePosECEF decodes a MSG_POS_ECEF payload.
func ParsePosECEF(p []byte) (PosECEF, error) {
	if len(p) < posECEFLen {
		return PosECEF{}, fmt.Errorf("sbp: %s payload too short: %d", MsgPosECEF, len(p))
	}
	return PosECEF{
		TOW:      binary.LittleEndian.Uint32(p[0:4]),
		X:        getFloat64(p[4:12]),
		Y:        getFloat64(p[12:20]),
		Z:        getFloat64(p[20:28]),
		Accuracy: binary.LittleEndian.Uint16(p[28:30]),
		NSats:    p[30],
		Flags:    p[31],
	}, nil
}

// PosLLH is MSG_POS_LLH. Lat/Lon are degrees, Height is meters.
type PosLLH struct {
	TOW       uint32
	Lat       float64
	Lon       float64
	Height    float64
	HAccuracy uint16
	VAccuracy uint16
	NSats     uint8
	Flags     uint8
}

const posLLHLen = 34

func (PosLLH) MsgType() MsgType { return MsgPosLLH }

func (m PosLLH) MarshalBinary() ([]byte, error) {
	b := make([]byte, posLLHLen)
	binary.LittleEndian.PutUint32(b[0:4], m.TOW)
	putFloat64(b[4:12], m.Lat)
	putFloat64(b[12:20], m.Lon)
	putFloat64(b[20:28], m.Height)
	binary.LittleEndian.PutUint16(b[28:30], m.HAccuracy)
	binary.LittleEndian.PutUint16(b[30:32], m.VAccuracy)
	b[32] = m.NSats
	b[33] = m.Flags
	return b, nil
}

// ParsePosLLH decodes a MSG_POS_LLH payload.
func ParsePosLLH(p []byte) (PosLLH, error) {
	if len(p) < posLLHLen {
		return PosLLH{}, fmt.Errorf("sbp: %s payload too short: %d", MsgPosLLH, len(p))
	}
	return PosLLH{
		TOW:       binary.LittleEndian.Uint32(p[0:4]),
		Lat:       getFloat64(p[4:12]),
		Lon:       getFloat64(p[12:20]),
		Height:    getFloat64(p[20:28]),
		HAccuracy: binary.LittleEndian.Uint16(p[28:30]),
		VAccuracy: binary.LittleEndian.Uint16(p[30:32]),
		NSats:     p[32],
		Flags:     p[33],
	}, nil
}

// Raw is an opaque message body. Observations travel as Raw so they are
// echoed byte-for-byte.
type Raw struct {
	Type    MsgType
	Payload []byte
}

func (r Raw) MsgType() MsgType { return r.Type }

func (r Raw) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), r.Payload...), nil
}

// Fields returns the frame body as Raw.
func (f Frame) Fields() Raw {
	return Raw{Type: f.Type, Payload: f.Payload}
}

func putFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
