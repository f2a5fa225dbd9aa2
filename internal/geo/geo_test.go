package geo

import (
	"math"
	"testing"
)

func TestLLH_ToECEF_Equator(t *testing.T) {
	got := LLH{Lat: 0, Lon: 0, Height: 0}.ToECEF()
	if math.Abs(got.X-wgs84A) > 1e-6 || math.Abs(got.Y) > 1e-6 || math.Abs(got.Z) > 1e-6 {
		t.Fatalf("ecef=%+v want {%v 0 0}", got, wgs84A)
	}
}

func TestLLH_ToECEF_SanFrancisco(t *testing.T) {
	got := LLH{Lat: 37.77348891054085, Lon: -122.41772914435545, Height: 60}.ToECEF()
	want := ECEF{X: -2706127.44, Y: -4261259.43, Z: 3885638.45}
	if math.Abs(got.X-want.X) > 0.01 || math.Abs(got.Y-want.Y) > 0.01 || math.Abs(got.Z-want.Z) > 0.01 {
		t.Fatalf("ecef=%+v want %+v", got, want)
	}
}

func TestParseGGA(t *testing.T) {
	llh, err := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	if err != nil {
		t.Fatalf("ParseGGA() error: %v", err)
	}
	if math.Abs(llh.Lat-(48+7.038/60)) > 1e-9 {
		t.Fatalf("lat=%v", llh.Lat)
	}
	if math.Abs(llh.Lon-(11+31.0/60)) > 1e-9 {
		t.Fatalf("lon=%v", llh.Lon)
	}
}

func TestParseGGA_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{name: "garbage", in: "not nmea"},
		{name: "bad_checksum", in: "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00"},
		{name: "not_gga", in: "$GPRMC,081836,A,3751.65,S,14507.36,E,000.0,360.0,130998,011.3,E*62"},
		{name: "no_fix", in: "$GPGGA,123519,4807.038,N,01131.000,E,0,08,0.9,545.4,M,46.9,M,,*46"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseGGA(tc.in); err == nil {
				t.Fatalf("ParseGGA(%q) expected error", tc.in)
			}
		})
	}
}
