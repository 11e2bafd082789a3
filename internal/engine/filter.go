package engine

import (
	"strings"
	"time"

	"dispatchd/internal/geo"
	"dispatchd/internal/model"
)

// eligibleDrivers applies the hard constraints and returns candidates sorted
// by driver id. An empty result is a valid outcome, not an error: the order
// stays pending for this pass.
func (e *Engine) eligibleDrivers(oc *orderCtx, weekday time.Weekday, states map[string]*driverState) []*driverState {
	var out []*driverState
	for _, ds := range sortedStates(states) {
		if e.eligible(oc, weekday, ds) {
			out = append(out, ds)
		}
	}
	return out
}

// eligible checks every hard rule for one driver. All must pass.
func (e *Engine) eligible(oc *orderCtx, weekday time.Weekday, ds *driverState) bool {
	d := ds.d
	if d.Status != model.DriverActive {
		return false
	}
	if !d.WorksOn(weekday) {
		return false
	}
	if ds.load() >= ds.cap {
		return false
	}
	if d.Prefs.AvoidDenseCore && e.touchesDenseCore(oc) {
		return false
	}
	// Long-distance orders need the capability; avoid-long-distance is the
	// same policy expressed as a preference flag. Distance magnitude with the
	// capability present stays a soft penalty (see scorer).
	if oc.longDistance && (!d.CanDoLongDistance || d.Prefs.AvoidLongDistance) {
		return false
	}
	return true
}

func (e *Engine) touchesDenseCore(oc *orderCtx) bool {
	for _, core := range e.cfg.DenseCoreRegions {
		if strings.EqualFold(oc.region, core) || strings.EqualFold(oc.pickupRegion, core) {
			return true
		}
		// "DC"-style entries also match the parsed state code.
		if len(core) == 2 {
			if geo.ParseAddress(oc.o.DropoffAddress).State == strings.ToUpper(core) ||
				geo.ParseAddress(oc.o.PickupAddress).State == strings.ToUpper(core) {
				return true
			}
		}
	}
	return false
}
