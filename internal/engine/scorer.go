package engine

import "strings"

// neutralKm stands in for the pickup approach distance when a driver has no
// schedule yet and no known operating point.
const neutralKm = 10.0

// score computes the weighted desirability of assigning the order to the
// driver given the driver's current schedule. Strictly higher is more
// desirable. The third return is false when a hard gate fires
// (time-infeasible slot or early-morning ineligibility); such candidates are
// excluded from selection, not merely penalized. The second return reports
// whether the idle-gap bonus applied.
func (e *Engine) score(oc *orderCtx, ds *driverState) (float64, bool, bool) {
	if !e.feasibleSlot(oc, ds) {
		return 0, false, false
	}

	w := e.cfg.Weights
	total := 0.0

	// Early-morning gate and reliability bonus.
	if oc.pickupMin < e.cutoffMin {
		if !ds.d.EarlyMorningEligible {
			return 0, false, false
		}
		tier := ds.d.ReliabilityTier
		if tier < 1 {
			tier = 1
		}
		if tier > 4 {
			tier = 4
		}
		total += w.EarlyMorningBonus * float64(5-tier)
		if ds.d.EarlyMorningSpecialist {
			total += w.EarlyMorningBonus
		}
	}

	total += e.regionScore(oc, ds)
	total += e.distanceScore(oc, ds)

	// Fairness: drivers further from their cap score higher.
	total += w.Fairness * (1 - float64(ds.load())/float64(ds.cap))

	idle := e.fillsIdleGap(oc, ds)
	if idle {
		total += w.IdleGap
	}

	return total, idle, true
}

// regionScore rewards regional expertise: an explicit priority rank beats a
// preferred-area match beats a profile-derived match.
func (e *Engine) regionScore(oc *orderCtx, ds *driverState) float64 {
	w := e.cfg.Weights
	if rank, ok := lookupRegion(ds.d.Prefs.RegionPriorities, oc.region); ok && rank > 0 {
		return w.Region * (w.RegionRankK / float64(rank)) / w.RegionRankK
	}
	for _, area := range ds.d.Prefs.PreferredAreas {
		if strings.EqualFold(area, oc.region) || strings.EqualFold(area, oc.pickupRegion) {
			return w.Region * w.PreferredAreaBonus / w.RegionRankK
		}
	}
	// Fall back to the derived profile when no explicit preference exists.
	if ds.profile != nil && ds.profile.PrimaryRegion != "" {
		if strings.EqualFold(ds.profile.PrimaryRegion, oc.region) {
			return w.Region * w.PreferredAreaBonus / w.RegionRankK
		}
	}
	return 0
}

func lookupRegion(priorities map[string]int, region string) (int, bool) {
	if len(priorities) == 0 {
		return 0, false
	}
	if rank, ok := priorities[region]; ok {
		return rank, true
	}
	for name, rank := range priorities {
		if strings.EqualFold(name, region) {
			return rank, true
		}
	}
	return 0, false
}

// distanceScore favors drivers whose prior stop (or typical operating point)
// is close to the order's pickup. Past the long-distance threshold the term
// turns into a steep penalty rather than an exclusion: the hard filter has
// already removed drivers lacking the capability.
func (e *Engine) distanceScore(oc *orderCtx, ds *driverState) float64 {
	w := e.cfg.Weights
	km := e.approachKm(oc, ds)
	score := w.Distance / (1 + km)
	if km > e.cfg.LongDistanceKm {
		score -= e.cfg.LongDistancePenalty
	}
	return score
}

func (e *Engine) approachKm(oc *orderCtx, ds *driverState) float64 {
	if prev := ds.prevStop(oc.pickupMin); prev != nil {
		return e.est.DistanceKm(prev.dropLoc, oc.o.PickupLoc, prev.dropAddr, oc.o.PickupAddress)
	}
	if ds.d.OperatingPoint != nil {
		return e.est.DistanceKm(ds.d.OperatingPoint, oc.o.PickupLoc, "", oc.o.PickupAddress)
	}
	return neutralKm
}

// prevStop returns the latest stop scheduled before the given pickup time.
func (ds *driverState) prevStop(pickupMin int) *stop {
	var prev *stop
	for i := range ds.stops {
		if ds.stops[i].pickupMin <= pickupMin {
			prev = &ds.stops[i]
		}
	}
	return prev
}

// nextStop returns the earliest stop scheduled after the given pickup time.
func (ds *driverState) nextStop(pickupMin int) *stop {
	for i := range ds.stops {
		if ds.stops[i].pickupMin > pickupMin {
			return &ds.stops[i]
		}
	}
	return nil
}

// feasibleSlot is the time-feasibility hard gate: the previous stop's dropoff
// plus the transition buffer plus travel must not run past this order's
// pickup, and inserting the order must not break the following stop either.
func (e *Engine) feasibleSlot(oc *orderCtx, ds *driverState) bool {
	buffer := e.cfg.TransitionBufferMin
	if prev := ds.prevStop(oc.pickupMin); prev != nil {
		travel := e.est.TravelMinutes(e.est.DistanceKm(prev.dropLoc, oc.o.PickupLoc, prev.dropAddr, oc.o.PickupAddress))
		if prev.dropMin+buffer+travel > oc.pickupMin {
			return false
		}
	}
	if next := ds.nextStop(oc.pickupMin); next != nil {
		travel := e.est.TravelMinutes(e.est.DistanceKm(oc.o.DropoffLoc, next.pickupLoc, oc.o.DropoffAddress, next.pickupAddr))
		if oc.dropMin+buffer+travel > next.pickupMin {
			return false
		}
	}
	return true
}

// fillsIdleGap reports whether the order lands inside an idle window of at
// least IdleGapMin minutes that ends near the order's pickup time. Filling
// idle windows beats extending already-dense schedules.
func (e *Engine) fillsIdleGap(oc *orderCtx, ds *driverState) bool {
	if len(ds.stops) == 0 {
		return false
	}
	type window struct{ start, end int }
	var windows []window
	windows = append(windows, window{0, ds.stops[0].pickupMin})
	for i := 0; i+1 < len(ds.stops); i++ {
		windows = append(windows, window{ds.stops[i].dropMin, ds.stops[i+1].pickupMin})
	}
	for _, win := range windows {
		if win.end-win.start < e.cfg.IdleGapMin {
			continue
		}
		if oc.pickupMin >= win.start && oc.pickupMin <= win.end && win.end-oc.pickupMin <= e.cfg.IdleGapNearMin {
			return true
		}
	}
	return false
}
