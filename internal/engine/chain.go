package engine

import (
	"fmt"

	"dispatchd/internal/geo"
	"dispatchd/internal/model"
)

// chainFor renders a driver's schedule as an ordered stop sequence. Integrity
// problems (transition overlap, duplicate orders) are surfaced as warnings,
// never silently repaired: a dispatcher resolves them, not the engine.
func (e *Engine) chainFor(date string, ds *driverState) model.Chain {
	ch := model.Chain{
		DriverID:   ds.d.ID,
		DriverName: ds.d.Name,
		Date:       date,
		Stops:      make([]model.ChainStop, 0, len(ds.stops)),
	}
	seen := map[string]bool{}
	for i, s := range ds.stops {
		if seen[s.orderID] {
			ch.Warnings = append(ch.Warnings, fmt.Sprintf("order %s appears more than once", s.orderID))
		}
		seen[s.orderID] = true

		cs := model.ChainStop{
			OrderID:        s.orderID,
			PickupAddress:  s.pickupAddr,
			PickupLoc:      s.pickupLoc,
			PickupTime:     clockLabel(s.pickupMin),
			DropoffAddress: s.dropAddr,
			DropoffLoc:     s.dropLoc,
			DropoffTime:    clockLabel(s.dropMin),
		}
		if i+1 < len(ds.stops) {
			next := ds.stops[i+1]
			gap := next.pickupMin - s.dropMin
			cs.GapToNextMin = gap
			travel := e.est.TravelMinutes(e.est.DistanceKm(s.dropLoc, next.pickupLoc, s.dropAddr, next.pickupAddr))
			if gap < e.cfg.TransitionBufferMin+travel {
				ch.Warnings = append(ch.Warnings, fmt.Sprintf(
					"tight transition after order %s: %d min gap, need %d min travel plus %d min buffer",
					s.orderID, gap, travel, e.cfg.TransitionBufferMin))
			}
		}
		ch.Stops = append(ch.Stops, cs)
	}
	return ch
}

// BuildChain renders the chain for one driver's already-assigned orders
// outside an assignment run. Orders not belonging to the driver or not in
// assigned state are ignored.
func (e *Engine) BuildChain(date, driverID, driverName string, orders []model.DailyOrder) model.Chain {
	ds := &driverState{d: &model.Driver{ID: driverID, Name: driverName}}
	warnings := []string{}
	for i := range orders {
		o := &orders[i]
		if o.DriverID != driverID || o.Status != model.OrderAssigned {
			continue
		}
		oc, err := e.newOrderCtx(o)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		ds.insert(stopFromCtx(oc))
		warnings = append(warnings, oc.warnings...)
	}
	ch := e.chainFor(date, ds)
	ch.Warnings = append(warnings, ch.Warnings...)
	if len(ch.Warnings) == 0 {
		ch.Warnings = nil
	}
	return ch
}

// Record compresses a chain into the per-day history entry retained on the
// driver record.
func Record(ch model.Chain) model.ChainRecord {
	rec := model.ChainRecord{Date: ch.Date, StopCount: len(ch.Stops)}
	if len(ch.Stops) > 0 {
		rec.TimeLabel = ch.Stops[0].PickupTime + "-" + ch.Stops[len(ch.Stops)-1].DropoffTime
	}
	seen := map[string]bool{}
	for _, s := range ch.Stops {
		region := geo.Region(s.DropoffAddress)
		if region == "" || seen[region] {
			continue
		}
		seen[region] = true
		rec.Regions = append(rec.Regions, region)
	}
	return rec
}
