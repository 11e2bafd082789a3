package roster

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/model"
)

func fetchCSV(t *testing.T, doc string) ImportResult {
	t.Helper()
	res, err := CSVSource{DefaultMaxOrders: 5}.Fetch(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	return res
}

func TestCSVFetchFullRow(t *testing.T) {
	doc := `id,name,phone,language,status,working_days,max_orders_per_day,can_do_long_distance,early_morning_eligible,early_morning_specialist,top_dasher,joker,reliability_tier,preferred_areas,region_priorities,preferred_shift,avoid_dense_core,avoid_long_distance
d1,Maria Santos,555-0101,es,active,"mon,tue,wed",6,yes,1,true,no,0,2,Fredericksburg;Stafford,Fredericksburg:1;Richmond:3,morning,0,no
`
	res := fetchCSV(t, doc)
	require.Len(t, res.Drivers, 1)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, RowOK, res.Rows[0].Status)
	assert.Equal(t, "d1", res.Rows[0].Key)

	d := res.Drivers[0]
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, "Maria Santos", d.Name)
	assert.Equal(t, "555-0101", d.Phone)
	assert.Equal(t, "es", d.Language)
	assert.Equal(t, model.DriverActive, d.Status)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, d.WorkingDays)
	assert.Equal(t, 6, d.MaxOrdersPerDay)
	assert.True(t, d.CanDoLongDistance)
	assert.True(t, d.EarlyMorningEligible)
	assert.True(t, d.EarlyMorningSpecialist)
	assert.False(t, d.TopDasher)
	assert.False(t, d.JokerDriver)
	assert.Equal(t, 2, d.ReliabilityTier)
	assert.Equal(t, []string{"Fredericksburg", "Stafford"}, d.Prefs.PreferredAreas)
	assert.Equal(t, map[string]int{"Fredericksburg": 1, "Richmond": 3}, d.Prefs.RegionPriorities)
	assert.Equal(t, model.ShiftMorning, d.Prefs.PreferredShift)
	assert.False(t, d.Prefs.AvoidDenseCore)
}

func TestCSVFetchDefaultsAndGeneratedID(t *testing.T) {
	doc := "name\nJohn Lee\n"
	res := fetchCSV(t, doc)
	require.Len(t, res.Drivers, 1)

	d := res.Drivers[0]
	assert.NotEmpty(t, d.ID, "missing id gets generated")
	assert.Equal(t, model.DriverActive, d.Status)
	assert.Equal(t, 5, d.MaxOrdersPerDay, "default cap applies")
}

func TestCSVFetchRowOutcomes(t *testing.T) {
	doc := `name,status,reliability_tier,region_priorities
Good Driver,active,1,
,active,,
Bad Tier,active,9,
Bad Priority,active,1,Fredericksburg
On Leave,leave,2,
`
	res := fetchCSV(t, doc)
	require.Len(t, res.Rows, 5)

	assert.Equal(t, RowOK, res.Rows[0].Status)
	assert.Equal(t, RowSkipped, res.Rows[1].Status)
	assert.Equal(t, "empty name", res.Rows[1].Reason)
	assert.Equal(t, RowFailed, res.Rows[2].Status)
	assert.Contains(t, res.Rows[2].Reason, "reliability_tier")
	assert.Equal(t, RowFailed, res.Rows[3].Status)
	assert.Contains(t, res.Rows[3].Reason, "bad region priority")
	assert.Equal(t, RowOK, res.Rows[4].Status)

	require.Len(t, res.Drivers, 2)
	assert.Equal(t, model.DriverOnLeave, res.Drivers[1].Status)
}

func TestCSVFetchUnknownWeekday(t *testing.T) {
	doc := "name,working_days\nPat Kim,mon;funday\n"
	res := fetchCSV(t, doc)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, RowFailed, res.Rows[0].Status)
	assert.Contains(t, res.Rows[0].Reason, "unknown weekday")
	assert.Empty(t, res.Drivers)
}

func TestCSVFetchMissingNameColumn(t *testing.T) {
	_, err := CSVSource{}.Fetch(context.Background(), strings.NewReader("id,phone\nd1,555\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name column")
}

func TestCSVFetchRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CSVSource{}.Fetch(ctx, strings.NewReader("name\nA\nB\n"))
	assert.ErrorIs(t, err, context.Canceled)
}
