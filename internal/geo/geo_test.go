package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroAndSymmetric(t *testing.T) {
	points := [][2]float64{
		{17.495643, 78.335691},
		{17.541772, 78.386868},
		{-33.8688, 151.2093},
		{0, 0},
		{89.9, -179.9},
	}
	for _, a := range points {
		if d := Distance(a[0], a[1], a[0], a[1]); d != 0 {
			t.Fatalf("Distance(p,p) = %v, want 0", d)
		}
		for _, b := range points {
			ab := Distance(a[0], a[1], b[0], b[1])
			ba := Distance(b[0], b[1], a[0], a[1])
			if math.Abs(ab-ba) > 1e-6 {
				t.Fatalf("asymmetric distance %v vs %v", ab, ba)
			}
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of latitude along a meridian
	d := Distance(0, 0, 1, 0)
	want := EarthRadius * math.Pi / 180
	if math.Abs(d-want) > 0.01 {
		t.Fatalf("Distance = %v, want %v", d, want)
	}
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"origin", 0, 0, true},
		{"bounds", 90, -180, true},
		{"lat too high", 90.0001, 0, false},
		{"lon too low", 0, -180.5, false},
		{"nan", math.NaN(), 0, false},
		{"inf", 0, math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCoordinate(tt.lat, tt.lon); got != tt.want {
				t.Errorf("ValidCoordinate(%v,%v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}
