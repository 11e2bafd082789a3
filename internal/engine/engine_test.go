package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/config"
	"dispatchd/internal/model"
)

// 2025-10-20 is a Monday.
const monday = "2025-10-20"

func testEngine(t *testing.T, mutate func(*config.Engine)) *Engine {
	t.Helper()
	cfg := config.Default().Engine
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, nil)
	require.NoError(t, err)
	return e
}

func fredericksburgDriver(id string, capN int) model.Driver {
	return model.Driver{
		ID:              id,
		Name:            "Driver " + id,
		Status:          model.DriverActive,
		WorkingDays:     []time.Weekday{time.Monday},
		MaxOrdersPerDay: capN,
		Prefs: model.Preferences{
			RegionPriorities: map[string]int{"Fredericksburg": 1},
		},
	}
}

func fredOrder(id, pickup, dropoff string) model.DailyOrder {
	return model.DailyOrder{
		ID:             id,
		ExternalID:     "ext-" + id,
		Date:           monday,
		PickupAddress:  "10 Main St, Fredericksburg, VA 22401",
		PickupTime:     pickup,
		DropoffAddress: "22 Caroline St, Fredericksburg, VA 22401",
		DropoffTime:    dropoff,
		Status:         model.OrderFetched,
	}
}

func TestRunRegionMatchAndTransitionGate(t *testing.T) {
	e := testEngine(t, nil)
	d := fredericksburgDriver("d1", 2)

	orderA := fredOrder("ord-a", "09:00", "09:30")
	orderB := model.DailyOrder{
		ID:             "ord-b",
		Date:           monday,
		PickupAddress:  "5 Oak Dr, Reston, VA 20190",
		PickupTime:     "09:15",
		DropoffAddress: "9 Elm Ct, Reston, VA 20190",
		DropoffTime:    "09:45",
		Status:         model.OrderFetched,
	}

	res := e.Run(Input{
		Date:    monday,
		Orders:  []model.DailyOrder{orderA, orderB},
		Drivers: []model.Driver{d},
	})

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "ord-a", res.Assignments[0].OrderID)
	assert.Equal(t, "d1", res.Assignments[0].DriverID)

	// Reston pickup at 09:15 cannot follow a 09:30 Fredericksburg dropoff:
	// the transition buffer plus cross-town travel makes the slot infeasible.
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "ord-b", res.Unassigned[0].OrderID)
	assert.Equal(t, model.ReasonNoFeasibleDriver, res.Unassigned[0].Reason)
}

func TestRunDeterministic(t *testing.T) {
	e := testEngine(t, nil)
	in := Input{
		Date: monday,
		Orders: []model.DailyOrder{
			fredOrder("ord-1", "09:00", "09:20"),
			fredOrder("ord-2", "11:00", "11:20"),
			fredOrder("ord-3", "13:00", "13:20"),
		},
		Drivers: []model.Driver{
			fredericksburgDriver("d1", 2),
			fredericksburgDriver("d2", 2),
		},
	}

	first := e.Run(in)
	second := e.Run(in)

	assert.Equal(t, first.Assignments, second.Assignments)
	assert.Equal(t, first.Unassigned, second.Unassigned)
	assert.Equal(t, first.Chains, second.Chains)
	assert.Equal(t, first.Summary.LoadByDriver, second.Summary.LoadByDriver)
}

func TestRunCapacityInvariant(t *testing.T) {
	e := testEngine(t, nil)
	res := e.Run(Input{
		Date: monday,
		Orders: []model.DailyOrder{
			fredOrder("ord-1", "09:00", "09:20"),
			fredOrder("ord-2", "13:00", "13:20"),
		},
		Drivers: []model.Driver{fredericksburgDriver("d1", 1)},
	})

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, 1, res.Summary.LoadByDriver["d1"])
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, model.ReasonNoEligibleDriver, res.Unassigned[0].Reason)
	assert.Empty(t, res.Summary.ExceededCap)
}

func TestRunRebalanceMovesToUnderloaded(t *testing.T) {
	e := testEngine(t, func(cfg *config.Engine) {
		cfg.RebalanceTolerance = 500 // accept any individual-score drop for the test
	})
	preferred := fredericksburgDriver("d1", 2)
	plain := model.Driver{
		ID:              "d2",
		Name:            "Driver d2",
		Status:          model.DriverActive,
		WorkingDays:     []time.Weekday{time.Monday},
		MaxOrdersPerDay: 2,
	}

	res := e.Run(Input{
		Date: monday,
		Orders: []model.DailyOrder{
			fredOrder("ord-1", "09:00", "09:15"),
			fredOrder("ord-2", "13:00", "13:15"),
		},
		Drivers: []model.Driver{preferred, plain},
	})

	require.Len(t, res.Assignments, 2)
	assert.Empty(t, res.Unassigned, "rebalance must never grow the pending set")
	assert.Equal(t, 1, res.Summary.Reassigned)
	assert.Equal(t, map[string]int{"d1": 1, "d2": 1}, res.Summary.LoadByDriver)

	byOrder := map[string]model.Assignment{}
	for _, a := range res.Assignments {
		byOrder[a.OrderID] = a
	}
	assert.Equal(t, "d1", byOrder["ord-1"].DriverID)
	assert.Equal(t, "d2", byOrder["ord-2"].DriverID)
	assert.True(t, byOrder["ord-2"].Rebalanced)
	assert.False(t, byOrder["ord-1"].Rebalanced)
}

func TestRunRebalanceKeepsPreseededStops(t *testing.T) {
	e := testEngine(t, func(cfg *config.Engine) {
		cfg.RebalanceTolerance = 500
	})
	over := fredericksburgDriver("d1", 1)
	idle := fredericksburgDriver("d2", 2)

	seedA := fredOrder("seed-a", "08:00", "08:20")
	seedA.Status = model.OrderAssigned
	seedA.DriverID = "d1"
	seedB := fredOrder("seed-b", "10:00", "10:20")
	seedB.Status = model.OrderAssigned
	seedB.DriverID = "d1"

	res := e.Run(Input{
		Date:     monday,
		Orders:   []model.DailyOrder{fredOrder("ord-new", "13:00", "13:20")},
		Existing: []model.DailyOrder{seedA, seedB},
		Drivers:  []model.Driver{over, idle},
	})

	// Manual overrides stay put: the overloaded driver is reported, not fixed.
	assert.Equal(t, []string{"d1"}, res.Summary.ExceededCap)
	assert.Equal(t, 0, res.Summary.Reassigned)

	byOrder := map[string]model.Assignment{}
	for _, a := range res.Assignments {
		byOrder[a.OrderID] = a
	}
	assert.Equal(t, "d2", byOrder["ord-new"].DriverID)
}

func TestRunDataIntegrityWarnings(t *testing.T) {
	e := testEngine(t, nil)

	backwards := fredOrder("ord-backwards", "10:00", "09:00")
	unparseable := fredOrder("ord-bad-time", "noonish", "13:00")

	res := e.Run(Input{
		Date:    monday,
		Orders:  []model.DailyOrder{backwards, unparseable},
		Drivers: []model.Driver{fredericksburgDriver("d1", 2)},
	})

	// The clamped order is still assigned; the violation is surfaced.
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "ord-backwards", res.Assignments[0].OrderID)

	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "ord-bad-time", res.Unassigned[0].OrderID)

	var clampWarn, parseWarn bool
	for _, w := range res.Warnings {
		if w == "" {
			continue
		}
		if strings.Contains(w, "ord-backwards") && strings.Contains(w, "precedes") {
			clampWarn = true
		}
		if strings.Contains(w, "ord-bad-time") && strings.Contains(w, "invalid pickup time") {
			parseWarn = true
		}
	}
	assert.True(t, clampWarn, "expected clamp warning, got %v", res.Warnings)
	assert.True(t, parseWarn, "expected parse warning, got %v", res.Warnings)
}

func TestRunUnknownExistingDriverWarns(t *testing.T) {
	e := testEngine(t, nil)
	ghost := fredOrder("ord-ghost", "09:00", "09:20")
	ghost.Status = model.OrderAssigned
	ghost.DriverID = "nobody"

	res := e.Run(Input{
		Date:     monday,
		Existing: []model.DailyOrder{ghost},
		Drivers:  []model.Driver{fredericksburgDriver("d1", 2)},
	})
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "unknown driver")
}

func TestRunIgnoresOtherDatesAndStatuses(t *testing.T) {
	e := testEngine(t, nil)
	wrongDate := fredOrder("ord-wrong-date", "09:00", "09:20")
	wrongDate.Date = "2025-10-21"
	done := fredOrder("ord-done", "10:00", "10:20")
	done.Status = model.OrderCompleted

	res := e.Run(Input{
		Date:    monday,
		Orders:  []model.DailyOrder{wrongDate, done, fredOrder("ord-ok", "11:00", "11:20")},
		Drivers: []model.Driver{fredericksburgDriver("d1", 2)},
	})
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "ord-ok", res.Assignments[0].OrderID)
	assert.Equal(t, 1, res.Summary.OrdersTotal)
}
