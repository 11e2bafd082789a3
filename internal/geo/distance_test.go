package geo

import (
	"testing"

	"dispatchd/internal/model"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		addr              string
		city, state, zip string
	}{
		{"123 Main St, Fredericksburg, VA 22401", "Fredericksburg", "VA", "22401"},
		{"600 H St NE, Washington, DC 20002", "Washington", "DC", "20002"},
		{"1 Harbor Rd, Baltimore, MD", "Baltimore", "MD", ""},
		{"Reston", "Reston", "", ""},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		p := ParseAddress(tc.addr)
		if p.City != tc.city || p.State != tc.state || p.Zip != tc.zip {
			t.Errorf("ParseAddress(%q) = %+v, want city=%q state=%q zip=%q", tc.addr, p, tc.city, tc.state, tc.zip)
		}
	}
}

func TestTokenDistanceBuckets(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"1 A St, Fredericksburg, VA 22401", "2 B St, Fredericksburg, VA 22401", 3},
		{"1 A St, Fredericksburg, VA 22401", "2 B St, Fredericksburg, VA 22405", 8},
		{"1 A St, Fredericksburg, VA 22401", "2 B St, Reston, VA 20190", 40},
		{"1 A St, Fredericksburg, VA 22401", "2 B St, Baltimore, MD 21201", 120},
	}
	for _, tc := range cases {
		if got := tokenDistanceKm(tc.a, tc.b); got != tc.want {
			t.Errorf("tokenDistanceKm(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDistanceKmPrefersCoordinates(t *testing.T) {
	est := NewEstimator(40)
	fred := &model.GeoPoint{Lat: 38.3032, Lng: -77.4605}
	dc := &model.GeoPoint{Lat: 38.9072, Lng: -77.0369}

	km := est.DistanceKm(fred, dc, "x", "y")
	if km < 60 || km > 90 {
		t.Fatalf("Fredericksburg->DC haversine = %v km, want roughly 75", km)
	}

	// Missing coordinate falls back to the token heuristic.
	fb := est.DistanceKm(fred, nil, "1 A St, Fredericksburg, VA 22401", "2 B St, Fredericksburg, VA 22401")
	if fb != 3 {
		t.Fatalf("fallback distance = %v, want 3", fb)
	}
}

func TestHaversineZero(t *testing.T) {
	if km := HaversineKm(38.3, -77.4, 38.3, -77.4); km != 0 {
		t.Fatalf("identical points should be 0 km apart, got %v", km)
	}
}

func TestTravelMinutesRoundsUp(t *testing.T) {
	est := NewEstimator(40)
	cases := []struct {
		km   float64
		want int
	}{
		{0, 0},
		{3, 5},   // 4.5 min rounds up
		{40, 60},
		{120, 180},
	}
	for _, tc := range cases {
		if got := est.TravelMinutes(tc.km); got != tc.want {
			t.Errorf("TravelMinutes(%v) = %d, want %d", tc.km, got, tc.want)
		}
	}
}

func TestTravelMinutesGuardsSpeed(t *testing.T) {
	est := NewEstimator(0) // falls back to the default speed
	if got := est.TravelMinutes(40); got != 60 {
		t.Fatalf("TravelMinutes(40) = %d, want 60", got)
	}
}

func TestRegion(t *testing.T) {
	if got := Region("123 Main St, Fredericksburg, VA 22401"); got != "Fredericksburg" {
		t.Fatalf("Region = %q", got)
	}
	if got := Region("  somewhere odd  "); got != "somewhere odd" {
		t.Fatalf("Region fallback = %q", got)
	}
}
