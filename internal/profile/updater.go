// Package profile derives per-driver region and distance statistics from
// completed order history. Derived fields close the feedback loop: the scorer
// falls back to them when a driver carries no explicit region preferences.
// Manually curated preferences are never overwritten here.
package profile

import (
	"sort"
	"strings"
	"time"

	"dispatchd/internal/geo"
	"dispatchd/internal/model"
)

// anchorCities identifies the cities that make a state classification
// trustworthy. A dominant state share alone can come from a handful of
// scattered suburbs; presence in the state's hub cities confirms it.
var anchorCities = map[string][]string{
	"VA": {"Richmond", "Fredericksburg", "Arlington", "Alexandria", "Reston", "Norfolk", "Virginia Beach", "Woodbridge", "Stafford"},
	"MD": {"Baltimore", "Rockville", "Silver Spring", "Annapolis", "Gaithersburg", "Frederick"},
	"DC": {"Washington"},
	"NC": {"Charlotte", "Raleigh", "Durham", "Greensboro"},
	"PA": {"Philadelphia", "Pittsburgh", "Harrisburg"},
	"WV": {"Charleston", "Martinsburg"},
}

const (
	stateShareMin = 0.60
	topN          = 3
)

// Updater derives profiles from order history. It is stateless apart from the
// estimator and thresholds it was built with.
type Updater struct {
	est    *geo.Estimator
	longKm float64
}

func NewUpdater(est *geo.Estimator, longKm float64) *Updater {
	return &Updater{est: est, longKm: longKm}
}

// Build computes a driver's region profile and distance stats from their
// order history. Only completed orders count: an assigned-but-undelivered
// order says nothing about demonstrated coverage.
func (u *Updater) Build(driverID string, history []model.DailyOrder, now time.Time) (model.RegionProfile, model.DistanceStats) {
	p := model.RegionProfile{DriverID: driverID, UpdatedAt: now.UTC()}
	var stats model.DistanceStats

	cities := map[string]int{}
	states := map[string]int{}
	zips := map[string]int{}
	var totalKm float64
	longCount, crossCount := 0, 0

	for i := range history {
		o := &history[i]
		if o.Status != model.OrderCompleted || o.DriverID != driverID {
			continue
		}
		p.OrderCount++

		drop := geo.ParseAddress(o.DropoffAddress)
		pick := geo.ParseAddress(o.PickupAddress)
		if drop.City != "" {
			cities[drop.City]++
		}
		if drop.State != "" {
			states[drop.State]++
		}
		if drop.Zip != "" {
			zips[drop.Zip]++
		}
		if pick.State != "" && drop.State != "" && pick.State != drop.State {
			crossCount++
		}

		km := u.est.DistanceKm(o.PickupLoc, o.DropoffLoc, o.PickupAddress, o.DropoffAddress)
		totalKm += km
		if km > stats.MaxKm {
			stats.MaxKm = km
		}
		if km > u.longKm {
			longCount++
		}
	}

	if p.OrderCount == 0 {
		return p, stats
	}

	stats.AvgKm = totalKm / float64(p.OrderCount)
	stats.LongDistancePct = float64(longCount) / float64(p.OrderCount)
	stats.CrossStatePct = float64(crossCount) / float64(p.OrderCount)

	p.TopCities = topKeys(cities, topN)
	p.TopStates = topKeys(states, topN)
	p.TopZips = topKeys(zips, topN)
	p.StateShare = shares(states, p.OrderCount)
	p.PrimaryRegion = classify(p.StateShare, p.TopCities)

	return p, stats
}

// classify picks a primary region: the most frequent city inside a state
// holding at least 60% of the driver's stops, and only when that city is one
// of the state's anchor cities.
func classify(stateShare map[string]float64, topCities []string) string {
	var dominant string
	var best float64
	for st, share := range stateShare {
		if share > best || (share == best && st < dominant) {
			dominant, best = st, share
		}
	}
	if dominant == "" || best < stateShareMin {
		return ""
	}
	anchors := anchorCities[dominant]
	for _, city := range topCities {
		for _, a := range anchors {
			if strings.EqualFold(city, a) {
				return city
			}
		}
	}
	return ""
}

// Apply writes the derived stats onto the driver record. Preferences stay
// untouched: region_priorities and preferred areas are curated by dispatch
// staff and are not derivable from history.
func Apply(d *model.Driver, stats model.DistanceStats) {
	d.Stats = stats
}

// Merge folds a freshly built profile into a stored one. Derived fields are
// replaced wholesale, but an empty rebuild (no completed history) never wipes
// an earlier non-empty classification.
func Merge(old, fresh model.RegionProfile) model.RegionProfile {
	if fresh.OrderCount == 0 && old.OrderCount > 0 {
		old.UpdatedAt = fresh.UpdatedAt
		return old
	}
	return fresh
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func shares(counts map[string]int, total int) map[string]float64 {
	if total == 0 || len(counts) == 0 {
		return nil
	}
	out := make(map[string]float64, len(counts))
	for k, v := range counts {
		out[k] = float64(v) / float64(total)
	}
	return out
}
