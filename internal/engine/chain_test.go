package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/model"
)

func assignedOrder(id, driverID, pickup, dropoff string) model.DailyOrder {
	o := fredOrder(id, pickup, dropoff)
	o.Status = model.OrderAssigned
	o.DriverID = driverID
	return o
}

func TestBuildChainFiltersAndOrders(t *testing.T) {
	e := testEngine(t, nil)

	orders := []model.DailyOrder{
		assignedOrder("o-late", "d1", "14:00", "14:30"),
		assignedOrder("o-early", "d1", "09:00", "09:30"),
		assignedOrder("o-other", "d2", "10:00", "10:30"),
		fredOrder("o-pending", "10:00", "10:30"), // still fetched
	}

	ch := e.BuildChain(monday, "d1", "Driver d1", orders)
	require.Len(t, ch.Stops, 2)
	assert.Equal(t, "o-early", ch.Stops[0].OrderID)
	assert.Equal(t, "o-late", ch.Stops[1].OrderID)
	assert.Equal(t, "09:00", ch.Stops[0].PickupTime)
	assert.Equal(t, "14:30", ch.Stops[1].DropoffTime)
}

func TestBuildChainGapAndTightWarning(t *testing.T) {
	e := testEngine(t, nil)

	// 30 min between dropoff and next pickup, under the 45 min buffer.
	orders := []model.DailyOrder{
		assignedOrder("o-1", "d1", "09:00", "09:30"),
		assignedOrder("o-2", "d1", "10:00", "10:30"),
	}

	ch := e.BuildChain(monday, "d1", "Driver d1", orders)
	require.Len(t, ch.Stops, 2)
	assert.Equal(t, 30, ch.Stops[0].GapToNextMin)
	assert.Equal(t, 0, ch.Stops[1].GapToNextMin, "no gap after the last stop")

	require.NotEmpty(t, ch.Warnings)
	assert.True(t, strings.Contains(ch.Warnings[0], "tight transition after order o-1"), ch.Warnings[0])
}

func TestBuildChainDuplicateOrderWarning(t *testing.T) {
	e := testEngine(t, nil)

	orders := []model.DailyOrder{
		assignedOrder("o-dup", "d1", "09:00", "09:30"),
		assignedOrder("o-dup", "d1", "13:00", "13:30"),
	}

	ch := e.BuildChain(monday, "d1", "Driver d1", orders)
	require.Len(t, ch.Stops, 2)
	found := false
	for _, w := range ch.Warnings {
		if strings.Contains(w, "o-dup") && strings.Contains(w, "more than once") {
			found = true
		}
	}
	assert.True(t, found, "expected duplicate-order warning, got %v", ch.Warnings)
}

func TestBuildChainInvalidPickupWarns(t *testing.T) {
	e := testEngine(t, nil)

	bad := assignedOrder("o-bad", "d1", "whenever", "10:00")
	ok := assignedOrder("o-ok", "d1", "09:00", "09:30")

	ch := e.BuildChain(monday, "d1", "Driver d1", []model.DailyOrder{bad, ok})
	require.Len(t, ch.Stops, 1)
	assert.Equal(t, "o-ok", ch.Stops[0].OrderID)
	require.NotEmpty(t, ch.Warnings)
	assert.True(t, strings.Contains(ch.Warnings[0], "invalid pickup time"), ch.Warnings[0])
}

func TestRecordLabelAndRegions(t *testing.T) {
	e := testEngine(t, nil)

	orders := []model.DailyOrder{
		assignedOrder("o-1", "d1", "09:00", "09:30"),
		assignedOrder("o-2", "d1", "13:00", "14:00"),
	}
	reston := assignedOrder("o-3", "d1", "16:00", "16:30")
	reston.DropoffAddress = "9 Elm Ct, Reston, VA 20190"
	orders = append(orders, reston)

	rec := Record(e.BuildChain(monday, "d1", "Driver d1", orders))
	assert.Equal(t, monday, rec.Date)
	assert.Equal(t, 3, rec.StopCount)
	assert.Equal(t, "09:00-16:30", rec.TimeLabel)
	assert.Equal(t, []string{"Fredericksburg", "Reston"}, rec.Regions)
}

func TestRecordEmptyChain(t *testing.T) {
	rec := Record(model.Chain{Date: monday})
	assert.Equal(t, 0, rec.StopCount)
	assert.Empty(t, rec.TimeLabel)
	assert.Empty(t, rec.Regions)
}
