package geo

import (
	"errors"
	"math"
	"testing"
)

func TestNewPointRanges(t *testing.T) {
	tests := []struct {
		lat, lng float64
		wantErr  error
	}{
		{0, 0, nil},
		{90, 180, nil},
		{-90, -180, nil},
		{90.01, 0, ErrInvalidLatitude},
		{-90.01, 0, ErrInvalidLatitude},
		{0, 180.01, ErrInvalidLongitude},
		{0, -180.01, ErrInvalidLongitude},
	}
	for _, tc := range tests {
		_, err := NewPoint(tc.lat, tc.lng)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("NewPoint(%v, %v) = %v, want %v", tc.lat, tc.lng, err, tc.wantErr)
		}
	}
}

func TestHaversineKM(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Point
		wantKM float64
		within float64
	}{
		{"same point", Point{10, 20}, Point{10, 20}, 0, 0.001},
		{"one degree latitude", Point{0, 0}, Point{1, 0}, 111.19, 0.5},
		{"new york to london", Point{40.7128, -74.0060}, Point{51.5074, -0.1278}, 5570, 30},
	}
	for _, tc := range tests {
		got := HaversineKM(tc.a, tc.b)
		if math.Abs(got-tc.wantKM) > tc.within {
			t.Errorf("%s: HaversineKM = %.2f, want %.2f +/- %.2f", tc.name, got, tc.wantKM, tc.within)
		}
		if rev := HaversineKM(tc.b, tc.a); math.Abs(rev-got) > 1e-9 {
			t.Errorf("%s: distance not symmetric: %v vs %v", tc.name, got, rev)
		}
	}
}
