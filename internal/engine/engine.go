// Package engine implements the intelligent order assignment engine: a
// deterministic two-pass matcher that turns a day's unassigned orders plus a
// driver roster into committed assignments, followed by a chain builder that
// orders each driver's stops into a time-feasible sequence.
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"dispatchd/internal/config"
	"dispatchd/internal/geo"
	"dispatchd/internal/model"
)

// Engine holds the tuning configuration and distance estimator for one run
// family. It keeps no cross-run state: every Run sees fresh inputs, so
// concurrent runs for different dates cannot interfere.
type Engine struct {
	cfg config.Engine
	est *geo.Estimator

	cutoffMin int
}

func New(cfg config.Engine, est *geo.Estimator) (*Engine, error) {
	cutoff, ok := parseClock(cfg.EarlyMorningCutoff)
	if !ok {
		return nil, fmt.Errorf("%w: earlyMorningCutoff %q", config.ErrConfig, cfg.EarlyMorningCutoff)
	}
	if cfg.SpeedKph <= 0 || cfg.LongDistanceKm <= 0 {
		return nil, fmt.Errorf("%w: speedKph and longDistanceKm must be > 0", config.ErrConfig)
	}
	if est == nil {
		est = geo.NewEstimator(cfg.SpeedKph)
	}
	return &Engine{cfg: cfg, est: est, cutoffMin: cutoff}, nil
}

// Estimator exposes the distance estimator so collaborators share the same
// travel arithmetic.
func (e *Engine) Estimator() *geo.Estimator { return e.est }

// Input is everything one run consumes. Orders must belong to Date; only
// status=fetched rows are considered. Existing carries orders already
// assigned for the date (manual overrides, earlier partial runs) so load and
// schedule state start from reality.
type Input struct {
	Date     string
	Orders   []model.DailyOrder
	Existing []model.DailyOrder
	Drivers  []model.Driver
	Profiles map[string]model.RegionProfile
}

// stop is a committed schedule entry during a run.
type stop struct {
	orderID    string
	pickupMin  int
	dropMin    int
	pickupLoc  *model.GeoPoint
	dropLoc    *model.GeoPoint
	pickupAddr string
	dropAddr   string
	region     string
	distKm     float64
	preseeded  bool // from Existing; never moved by the fairness pass
}

type driverState struct {
	d       *model.Driver
	profile *model.RegionProfile
	cap     int
	stops   []stop // kept sorted by pickupMin
}

func (ds *driverState) load() int { return len(ds.stops) }

func (ds *driverState) insert(s stop) {
	ds.stops = append(ds.stops, s)
	sort.Slice(ds.stops, func(i, j int) bool {
		if ds.stops[i].pickupMin != ds.stops[j].pickupMin {
			return ds.stops[i].pickupMin < ds.stops[j].pickupMin
		}
		return ds.stops[i].orderID < ds.stops[j].orderID
	})
}

func (ds *driverState) remove(orderID string) (stop, bool) {
	for i, s := range ds.stops {
		if s.orderID == orderID {
			ds.stops = append(ds.stops[:i], ds.stops[i+1:]...)
			return s, true
		}
	}
	return stop{}, false
}

// orderCtx caches per-order derived values so scoring stays cheap.
type orderCtx struct {
	o            *model.DailyOrder
	pickupMin    int
	dropMin      int
	region       string // dropoff locality, used for expertise matching
	pickupRegion string
	distKm       float64 // pickup -> dropoff
	longDistance bool
	warnings     []string
}

func (e *Engine) newOrderCtx(o *model.DailyOrder) (*orderCtx, error) {
	pMin, ok := parseClock(o.PickupTime)
	if !ok {
		return nil, fmt.Errorf("order %s: invalid pickup time %q", o.ID, o.PickupTime)
	}
	oc := &orderCtx{o: o, pickupMin: pMin}
	dMin, ok := parseClock(o.DropoffTime)
	if !ok {
		dMin = pMin
		oc.warnings = append(oc.warnings, fmt.Sprintf("order %s: invalid dropoff time %q, using pickup time", o.ID, o.DropoffTime))
	}
	// Upstream does not enforce dropoff >= pickup; clamp and surface it.
	if dMin < pMin {
		oc.warnings = append(oc.warnings, fmt.Sprintf("order %s: dropoff %s precedes pickup %s", o.ID, o.DropoffTime, o.PickupTime))
		dMin = pMin
	}
	oc.dropMin = dMin
	oc.region = geo.Region(o.DropoffAddress)
	oc.pickupRegion = geo.Region(o.PickupAddress)
	oc.distKm = e.est.DistanceKm(o.PickupLoc, o.DropoffLoc, o.PickupAddress, o.DropoffAddress)
	oc.longDistance = oc.distKm > e.cfg.LongDistanceKm
	return oc, nil
}

// Run executes both passes and builds the chains. It is pure and
// deterministic: identical input state always yields identical assignments.
func (e *Engine) Run(in Input) *model.RunResult {
	res := &model.RunResult{
		Date:      in.Date,
		StartedAt: time.Now().UTC(),
		Summary:   model.RunSummary{LoadByDriver: map[string]int{}},
	}

	weekday, err := weekdayOf(in.Date)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		res.FinishedAt = time.Now().UTC()
		return res
	}

	states := e.buildStates(in, res)

	// Pending orders sorted by pickup time: the earliest commitments are the
	// most time-constrained and must be placed first.
	pending := e.collectPending(in, res)

	assigned := map[string]*model.Assignment{} // orderID -> assignment
	idleFills := 0

	// Pass 1: greedy. Commit each order to the max-scoring eligible driver,
	// updating load and schedule immediately so later orders see it.
	for _, oc := range pending {
		eligible := e.eligibleDrivers(oc, weekday, states)
		if len(eligible) == 0 {
			res.Unassigned = append(res.Unassigned, model.UnassignedOrder{
				OrderID: oc.o.ID, ExternalID: oc.o.ExternalID, Reason: model.ReasonNoEligibleDriver,
			})
			continue
		}
		best, bestScore, gotIdle := e.pickBest(oc, eligible)
		if best == nil {
			res.Unassigned = append(res.Unassigned, model.UnassignedOrder{
				OrderID: oc.o.ID, ExternalID: oc.o.ExternalID, Reason: model.ReasonNoFeasibleDriver,
			})
			continue
		}
		e.commit(oc, best)
		if gotIdle {
			idleFills++
		}
		assigned[oc.o.ID] = &model.Assignment{
			OrderID: oc.o.ID, DriverID: best.d.ID, DriverName: best.d.Name, Score: bestScore,
		}
	}

	// Pass 2: fairness rebalance. Never touches pending orders, so the
	// pending count cannot increase.
	res.Summary.Reassigned = e.rebalance(weekday, states, pending, assigned)

	// Deterministic output ordering.
	for _, oc := range pending {
		if a, ok := assigned[oc.o.ID]; ok {
			res.Assignments = append(res.Assignments, *a)
			res.Summary.DistanceKmTotal += oc.distKm
			if oc.distKm > res.Summary.DistanceKmMax {
				res.Summary.DistanceKmMax = oc.distKm
			}
		}
		res.Warnings = append(res.Warnings, oc.warnings...)
	}

	res.Chains = e.buildChains(in.Date, states)

	for _, ds := range sortedStates(states) {
		if ds.load() == 0 {
			continue
		}
		res.Summary.LoadByDriver[ds.d.ID] = ds.load()
		if ds.load() > ds.cap {
			res.Summary.ExceededCap = append(res.Summary.ExceededCap, ds.d.ID)
		}
	}
	res.Summary.OrdersTotal = len(pending)
	res.Summary.OrdersAssigned = len(res.Assignments)
	res.Summary.OrdersPending = len(res.Unassigned)
	res.Summary.IdleGapFills = idleFills
	res.FinishedAt = time.Now().UTC()
	return res
}

func (e *Engine) buildStates(in Input, res *model.RunResult) map[string]*driverState {
	states := make(map[string]*driverState, len(in.Drivers))
	for i := range in.Drivers {
		d := &in.Drivers[i]
		capN := d.MaxOrdersPerDay
		if capN <= 0 {
			capN = e.cfg.DefaultMaxOrders
		}
		ds := &driverState{d: d, cap: capN}
		if in.Profiles != nil {
			if p, ok := in.Profiles[d.ID]; ok {
				ds.profile = &p
			}
		}
		states[d.ID] = ds
	}
	// Seed schedules from already-assigned orders; capacity overruns here are
	// manual overrides and show up in ExceededCap, never get "fixed".
	for i := range in.Existing {
		o := &in.Existing[i]
		if o.Status != model.OrderAssigned || o.DriverID == "" {
			continue
		}
		ds, ok := states[o.DriverID]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("order %s assigned to unknown driver %s", o.ID, o.DriverID))
			continue
		}
		oc, err := e.newOrderCtx(o)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		s := stopFromCtx(oc)
		s.preseeded = true
		ds.insert(s)
	}
	return states
}

func (e *Engine) collectPending(in Input, res *model.RunResult) []*orderCtx {
	pending := make([]*orderCtx, 0, len(in.Orders))
	for i := range in.Orders {
		o := &in.Orders[i]
		if o.Status != model.OrderFetched || o.Date != in.Date {
			continue
		}
		oc, err := e.newOrderCtx(o)
		if err != nil {
			// Unparseable pickup time: surfaced and left pending, never dropped.
			res.Warnings = append(res.Warnings, err.Error())
			res.Unassigned = append(res.Unassigned, model.UnassignedOrder{
				OrderID: o.ID, ExternalID: o.ExternalID, Reason: model.ReasonNoEligibleDriver,
			})
			continue
		}
		pending = append(pending, oc)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].pickupMin != pending[j].pickupMin {
			return pending[i].pickupMin < pending[j].pickupMin
		}
		return pending[i].o.ID < pending[j].o.ID
	})
	return pending
}

// pickBest scores all eligible drivers and returns the winner under the
// deterministic tie-break: higher score, then fewer current assignments,
// then lower driver id.
func (e *Engine) pickBest(oc *orderCtx, eligible []*driverState) (*driverState, float64, bool) {
	var best *driverState
	bestScore := math.Inf(-1)
	bestIdle := false
	for _, ds := range eligible {
		score, idle, feasible := e.score(oc, ds)
		if !feasible {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && ds.load() < best.load()) ||
			(score == bestScore && ds.load() == best.load() && ds.d.ID < best.d.ID) {
			best = ds
			bestScore = score
			bestIdle = idle
		}
	}
	return best, bestScore, bestIdle
}

func (e *Engine) commit(oc *orderCtx, ds *driverState) {
	ds.insert(stopFromCtx(oc))
}

func stopFromCtx(oc *orderCtx) stop {
	return stop{
		orderID:    oc.o.ID,
		pickupMin:  oc.pickupMin,
		dropMin:    oc.dropMin,
		pickupLoc:  oc.o.PickupLoc,
		dropLoc:    oc.o.DropoffLoc,
		pickupAddr: oc.o.PickupAddress,
		dropAddr:   oc.o.DropoffAddress,
		region:     oc.region,
		distKm:     oc.distKm,
	}
}

// rebalance moves orders from drivers at their cap to drivers holding 0 or 1
// orders when the receiving driver is still hard-eligible and the score delta
// stays within the configured tolerance. Hard constraints are preserved and
// the pending set is never touched.
func (e *Engine) rebalance(weekday time.Weekday, states map[string]*driverState, pending []*orderCtx, assigned map[string]*model.Assignment) int {
	byID := map[string]*orderCtx{}
	for _, oc := range pending {
		byID[oc.o.ID] = oc
	}
	moves := 0
	for _, over := range sortedStates(states) {
		if over.load() < over.cap {
			continue
		}
		// Most recently scheduled stop first; pre-seeded (manual) stops stay put.
		stops := append([]stop(nil), over.stops...)
		for i := len(stops) - 1; i >= 0; i-- {
			s := stops[i]
			if s.preseeded {
				continue
			}
			oc, ok := byID[s.orderID]
			if !ok {
				continue
			}
			moved := false
			for _, under := range sortedByLoad(states) {
				// A move must be a net fairness gain: swapping a 2-load donor
				// with a 1-load receiver just trades places.
				if under.d.ID == over.d.ID || under.load() > 1 || under.load()+1 >= over.load() {
					continue
				}
				if !e.eligible(oc, weekday, under) {
					continue
				}
				// Score the order for the donor without it, so both sides are
				// judged against comparable schedules.
				removed, _ := over.remove(s.orderID)
				donorScore, _, donorFeasible := e.score(oc, over)
				newScore, _, feasible := e.score(oc, under)
				if !feasible || (donorFeasible && newScore < donorScore-e.cfg.RebalanceTolerance) {
					over.insert(removed)
					continue
				}
				under.insert(removed)
				a := assigned[s.orderID]
				a.DriverID = under.d.ID
				a.DriverName = under.d.Name
				a.Score = newScore
				a.Rebalanced = true
				moves++
				moved = true
				break
			}
			if moved && over.load() < over.cap {
				break
			}
		}
	}
	return moves
}

func (e *Engine) buildChains(date string, states map[string]*driverState) []model.Chain {
	var chains []model.Chain
	for _, ds := range sortedStates(states) {
		if ds.load() == 0 {
			continue
		}
		chains = append(chains, e.chainFor(date, ds))
	}
	return chains
}

func sortedStates(states map[string]*driverState) []*driverState {
	out := make([]*driverState, 0, len(states))
	for _, ds := range states {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].d.ID < out[j].d.ID })
	return out
}

// sortedByLoad orders receiving candidates for the fairness pass: least
// loaded first, then by id.
func sortedByLoad(states map[string]*driverState) []*driverState {
	out := sortedStates(states)
	sort.SliceStable(out, func(i, j int) bool { return out[i].load() < out[j].load() })
	return out
}
