package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/model"
)

func TestMatchByNameExact(t *testing.T) {
	existing := []model.Driver{
		{ID: "d1", Name: "Maria Santos"},
		{ID: "d2", Name: "John Lee"},
	}

	m, warn := MatchByName("  maria   SANTOS ", existing)
	require.NotNil(t, m)
	assert.Equal(t, "d1", m.ID)
	assert.Empty(t, warn)
}

func TestMatchByNameSubstring(t *testing.T) {
	existing := []model.Driver{
		{ID: "d1", Name: "Maria Santos Oliveira"},
		{ID: "d2", Name: "John Lee"},
	}

	m, warn := MatchByName("Maria Santos", existing)
	require.NotNil(t, m)
	assert.Equal(t, "d1", m.ID)
	assert.Empty(t, warn)
}

func TestMatchByNameAmbiguous(t *testing.T) {
	existing := []model.Driver{
		{ID: "d1", Name: "Maria Santos"},
		{ID: "d2", Name: "Maria Santos"},
	}

	m, warn := MatchByName("Maria Santos", existing)
	assert.Nil(t, m)
	assert.Contains(t, warn, "ambiguous")
	assert.Contains(t, warn, "d1")
	assert.Contains(t, warn, "d2")
}

func TestMatchByNameNoMatch(t *testing.T) {
	m, warn := MatchByName("Nobody Here", []model.Driver{{ID: "d1", Name: "Maria Santos"}})
	assert.Nil(t, m)
	assert.Empty(t, warn)

	m, warn = MatchByName("   ", []model.Driver{{ID: "d1", Name: "Maria Santos"}})
	assert.Nil(t, m)
	assert.Empty(t, warn)
}

func TestMatchByNameExactBeatsPartial(t *testing.T) {
	existing := []model.Driver{
		{ID: "d1", Name: "Ana Silva"},
		{ID: "d2", Name: "Ana Silva Costa"},
	}

	m, warn := MatchByName("Ana Silva", existing)
	require.NotNil(t, m)
	assert.Equal(t, "d1", m.ID)
	assert.Empty(t, warn)
}

func TestReconcileMergePreservesStoredFields(t *testing.T) {
	existing := []model.Driver{{
		ID:   "d1",
		Name: "Maria Santos",
		Prefs: model.Preferences{
			RegionPriorities: map[string]int{"Fredericksburg": 1},
			PreferredAreas:   []string{"Stafford"},
		},
		Stats:          model.DistanceStats{AvgKm: 7.5},
		ChainHistory:   []model.ChainRecord{{Date: "2025-10-20", StopCount: 3}},
		OperatingPoint: &model.GeoPoint{Lat: 38.3, Lng: -77.46},
	}}
	imported := []model.Driver{{
		ID:              "d1",
		Name:            "Maria Santos",
		Phone:           "555-0101",
		Status:          model.DriverActive,
		MaxOrdersPerDay: 6,
	}}

	out, warnings := Reconcile(imported, existing)
	require.Empty(t, warnings)
	require.Len(t, out, 1)

	d := out[0]
	assert.Equal(t, "555-0101", d.Phone)
	assert.Equal(t, 6, d.MaxOrdersPerDay)
	assert.Equal(t, 7.5, d.Stats.AvgKm)
	assert.Len(t, d.ChainHistory, 1)
	require.NotNil(t, d.OperatingPoint)
	assert.Equal(t, map[string]int{"Fredericksburg": 1}, d.Prefs.RegionPriorities)
	assert.Equal(t, []string{"Stafford"}, d.Prefs.PreferredAreas)
}

func TestReconcileImportedPrefsWin(t *testing.T) {
	existing := []model.Driver{{
		ID:    "d1",
		Name:  "Maria Santos",
		Prefs: model.Preferences{RegionPriorities: map[string]int{"Fredericksburg": 1}},
	}}
	imported := []model.Driver{{
		ID:    "d1",
		Name:  "Maria Santos",
		Prefs: model.Preferences{RegionPriorities: map[string]int{"Richmond": 1}},
	}}

	out, _ := Reconcile(imported, existing)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]int{"Richmond": 1}, out[0].Prefs.RegionPriorities)
}

func TestReconcileNameFallback(t *testing.T) {
	existing := []model.Driver{{ID: "d1", Name: "Maria Santos", Stats: model.DistanceStats{AvgKm: 4}}}
	imported := []model.Driver{{ID: "import-row-1", Name: "maria santos", Phone: "555-0102"}}

	out, warnings := Reconcile(imported, existing)
	require.Empty(t, warnings)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].ID, "name match adopts the stored id")
	assert.Equal(t, 4.0, out[0].Stats.AvgKm)
	assert.Equal(t, "555-0102", out[0].Phone)
}

func TestReconcileAmbiguousRowHeldBack(t *testing.T) {
	existing := []model.Driver{
		{ID: "d1", Name: "Maria Santos"},
		{ID: "d2", Name: "Maria Santos"},
	}
	imported := []model.Driver{
		{ID: "row-1", Name: "Maria Santos"},
		{ID: "row-2", Name: "Pat Kim"},
	}

	out, warnings := Reconcile(imported, existing)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ambiguous")
	require.Len(t, out, 1, "the ambiguous row is excluded from the upsert set")
	assert.Equal(t, "row-2", out[0].ID)
}
