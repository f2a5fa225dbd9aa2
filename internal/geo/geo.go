// Package geo holds the two position representations the receiver reports
// and the WGS-84 conversion between them.
package geo

import (
	"fmt"
	"math"

	nmea "github.com/adrianmo/go-nmea"
)

// ECEF is an Earth-centered, Earth-fixed position in meters.
type ECEF struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LLH is a geodetic position: degrees, degrees, meters above the ellipsoid.
type LLH struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Height float64 `json:"height"`
}

const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// ToECEF converts a WGS-84 geodetic position to ECEF.
func (p LLH) ToECEF() ECEF {
	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return ECEF{
		X: (n + p.Height) * cosLat * cosLon,
		Y: (n + p.Height) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + p.Height) * sinLat,
	}
}

// ParseGGA reads a position out of an NMEA GGA sentence. The returned height
// is ellipsoidal (altitude plus geoid separation).
func ParseGGA(sentence string) (LLH, error) {
	s, err := nmea.Parse(sentence)
	if err != nil {
		return LLH{}, err
	}
	if s.DataType() != nmea.TypeGGA {
		return LLH{}, fmt.Errorf("expected GGA sentence, got %s", s.DataType())
	}
	gga := s.(nmea.GGA)
	if gga.FixQuality == nmea.Invalid {
		return LLH{}, fmt.Errorf("GGA sentence has no fix")
	}
	return LLH{
		Lat:    gga.Latitude,
		Lon:    gga.Longitude,
		Height: gga.Altitude + gga.Separation,
	}, nil
}
