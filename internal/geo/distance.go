package geo

import (
	"math"
	"strings"

	"dispatchd/internal/model"
)

// Estimator computes a travel-distance proxy between two stops. When both
// coordinates are known it uses haversine; otherwise it falls back to a
// cruder address-token heuristic so a failed geocode never hard-fails a run.
type Estimator struct {
	SpeedKph float64
}

func NewEstimator(speedKph float64) *Estimator {
	if speedKph <= 0 {
		speedKph = 40
	}
	return &Estimator{SpeedKph: speedKph}
}

// DistanceKm estimates the distance between two stops. Either location may
// be nil; the address strings back the fallback.
func (e *Estimator) DistanceKm(a, b *model.GeoPoint, addrA, addrB string) float64 {
	if a != nil && b != nil {
		return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return tokenDistanceKm(addrA, addrB)
}

// TravelMinutes converts a distance estimate into travel time.
func (e *Estimator) TravelMinutes(km float64) int {
	return int(math.Ceil(km / e.SpeedKph * 60))
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// tokenDistanceKm buckets two free-text addresses by how much locality they
// share. The buckets are deliberately coarse; they only need to rank
// candidates sensibly when coordinates are missing.
func tokenDistanceKm(a, b string) float64 {
	pa, pb := ParseAddress(a), ParseAddress(b)
	switch {
	case pa.Zip != "" && pa.Zip == pb.Zip:
		return 3
	case pa.City != "" && strings.EqualFold(pa.City, pb.City):
		return 8
	case pa.State != "" && pa.State == pb.State:
		return 40
	default:
		return 120
	}
}

// AddressParts is the locality information recoverable from a free-text
// address without a geocoder.
type AddressParts struct {
	City  string
	State string // two-letter code, upper case
	Zip   string
}

var stateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "DC": true, "FL": true, "GA": true, "HI": true,
	"ID": true, "IL": true, "IN": true, "IA": true, "KS": true, "KY": true,
	"LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true,
	"NJ": true, "NM": true, "NY": true, "NC": true, "ND": true, "OH": true,
	"OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true,
}

// ParseAddress extracts city/state/zip from comma-separated US addresses like
// "123 Main St, Fredericksburg, VA 22401". Best effort only.
func ParseAddress(addr string) AddressParts {
	var p AddressParts
	segs := strings.Split(addr, ",")
	for i := range segs {
		segs[i] = strings.TrimSpace(segs[i])
	}
	for _, seg := range segs {
		for _, tok := range strings.Fields(seg) {
			up := strings.ToUpper(strings.Trim(tok, ".,"))
			if len(up) == 2 && stateCodes[up] {
				p.State = up
			}
			if len(up) == 5 && isDigits(up) {
				p.Zip = up
			}
		}
	}
	// City: the segment before the one carrying the state, else the middle segment.
	for i, seg := range segs {
		hasState := false
		for _, tok := range strings.Fields(seg) {
			up := strings.ToUpper(strings.Trim(tok, ".,"))
			if len(up) == 2 && stateCodes[up] {
				hasState = true
			}
		}
		if hasState && i > 0 {
			p.City = segs[i-1]
			return p
		}
	}
	if len(segs) >= 2 {
		p.City = segs[1]
	} else if len(segs) == 1 && p.State == "" && p.Zip == "" {
		p.City = segs[0]
	}
	return p
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Region returns the place name used for region matching: the parsed city
// when available, otherwise the raw address.
func Region(addr string) string {
	if c := ParseAddress(addr).City; c != "" {
		return c
	}
	return strings.TrimSpace(addr)
}
