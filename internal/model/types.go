package model

import "time"

// Driver status values as delivered by roster import.
const (
	DriverActive   = "active"
	DriverOnLeave  = "on_leave"
	DriverInactive = "inactive"
)

// DailyOrder status values.
const (
	OrderFetched   = "fetched"
	OrderAssigned  = "assigned"
	OrderCompleted = "completed"
)

// Preferred shift values.
const (
	ShiftAllDay  = "all_day"
	ShiftMorning = "morning"
	ShiftEvening = "evening"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Preferences is the typed replacement for the historical free-form
// notes/assignment_preferences bags. Validated at roster-import time.
type Preferences struct {
	PreferredAreas    []string       `json:"preferredAreas,omitempty"`
	RegionPriorities  map[string]int `json:"regionPriorities,omitempty"` // region -> rank, 1 = most preferred
	AvoidDenseCore    bool           `json:"avoidDenseCore,omitempty"`
	AvoidLongDistance bool           `json:"avoidLongDistance,omitempty"`
	PreferredShift    string         `json:"preferredShift,omitempty"`
}

// DistanceStats holds historical distance behavior recomputed by the
// profile updater from assignment outcomes.
type DistanceStats struct {
	AvgKm           float64 `json:"avgKm,omitempty"`
	MaxKm           float64 `json:"maxKm,omitempty"`
	LongDistancePct float64 `json:"longDistancePct,omitempty"`
	CrossStatePct   float64 `json:"crossStatePct,omitempty"`
}

// ChainRecord is the compact per-day entry appended to a driver's chain history.
type ChainRecord struct {
	Date      string   `json:"date"`
	StopCount int      `json:"stopCount"`
	TimeLabel string   `json:"timeLabel"` // e.g. "09:00-14:30"
	Regions   []string `json:"regions,omitempty"`
}

type Driver struct {
	ID       string `json:"id"`
	Name     string `json:"name"` // not unique in source data
	Phone    string `json:"phone,omitempty"`
	Language string `json:"language,omitempty"`
	Status   string `json:"status"`

	WorkingDays       []time.Weekday `json:"workingDays"`
	MaxOrdersPerDay   int            `json:"maxOrdersPerDay"`
	CanDoLongDistance bool           `json:"canDoLongDistance"`

	EarlyMorningEligible   bool `json:"earlyMorningEligible"`
	EarlyMorningSpecialist bool `json:"earlyMorningSpecialist,omitempty"`
	ReliabilityTier        int  `json:"reliabilityTier"` // 1 most reliable .. 4 least
	TopDasher              bool `json:"topDasher,omitempty"`
	JokerDriver            bool `json:"jokerDriver,omitempty"` // flexible overflow driver

	Prefs Preferences   `json:"prefs"`
	Stats DistanceStats `json:"stats"`

	// OperatingPoint is the driver's typical start-of-day position, when known.
	OperatingPoint *GeoPoint `json:"operatingPoint,omitempty"`

	ChainHistory []ChainRecord `json:"chainHistory,omitempty"`
}

// WorksOn reports whether the driver's working-days set includes d.
func (dr *Driver) WorksOn(d time.Weekday) bool {
	for _, wd := range dr.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}

// DailyOrder is one delivery obligation for one calendar day. Itinerary
// fields are owned by marketplace ingestion and never mutated by the engine.
type DailyOrder struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"` // marketplace order id, unique per day
	Date       string `json:"date"`       // YYYY-MM-DD

	PickupAddress string    `json:"pickupAddress"`
	PickupLoc     *GeoPoint `json:"pickupLoc,omitempty"`
	PickupTime    string    `json:"pickupTime"` // wall-clock HH:MM, same day

	DropoffAddress string    `json:"dropoffAddress"`
	DropoffLoc     *GeoPoint `json:"dropoffLoc,omitempty"`
	DropoffTime    string    `json:"dropoffTime"`

	Status     string `json:"status"`
	DriverID   string `json:"driverId,omitempty"`
	DriverName string `json:"driverName,omitempty"`

	// Warnings carries data-integrity notes (out-of-order timestamps etc.)
	// attached by the engine, never fatal.
	Warnings []string `json:"warnings,omitempty"`
}

// ChainStop is one stop in a driver's ordered daily sequence.
type ChainStop struct {
	OrderID        string    `json:"orderId"`
	PickupAddress  string    `json:"pickupAddress"`
	PickupLoc      *GeoPoint `json:"pickupLoc,omitempty"`
	PickupTime     string    `json:"pickupTime"`
	DropoffAddress string    `json:"dropoffAddress"`
	DropoffLoc     *GeoPoint `json:"dropoffLoc,omitempty"`
	DropoffTime    string    `json:"dropoffTime"`
	GapToNextMin   int       `json:"gapToNextMin"` // slack before next pickup, 0 for last stop
}

// Chain is a derived view recomputed from committed assignments.
type Chain struct {
	DriverID   string      `json:"driverId"`
	DriverName string      `json:"driverName,omitempty"`
	Date       string      `json:"date"`
	Stops      []ChainStop `json:"stops"`
	Warnings   []string    `json:"warnings,omitempty"` // chain-integrity violations, surfaced not fixed
}

// RegionProfile is the per-driver derived summary produced by the profile
// updater and consumed by the scorer when explicit region priorities are absent.
type RegionProfile struct {
	DriverID      string             `json:"driverId"`
	PrimaryRegion string             `json:"primaryRegion,omitempty"`
	TopCities     []string           `json:"topCities,omitempty"`
	TopStates     []string           `json:"topStates,omitempty"`
	TopZips       []string           `json:"topZips,omitempty"`
	StateShare    map[string]float64 `json:"stateShare,omitempty"`
	OrderCount    int                `json:"orderCount"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Unassigned reasons reported by the engine.
const (
	ReasonNoEligibleDriver = "no_eligible_driver"
	ReasonNoFeasibleDriver = "no_feasible_driver_within_time"
	ReasonCommitConflict   = "commit_conflict"
)

type Assignment struct {
	OrderID    string  `json:"orderId"`
	DriverID   string  `json:"driverId"`
	DriverName string  `json:"driverName,omitempty"`
	Score      float64 `json:"score"`
	Rebalanced bool    `json:"rebalanced,omitempty"` // moved by the fairness pass
}

type UnassignedOrder struct {
	OrderID    string `json:"orderId"`
	ExternalID string `json:"externalId,omitempty"`
	Reason     string `json:"reason"`
}

// RunSummary mirrors the diagnostic views exposed for operational debugging.
type RunSummary struct {
	OrdersTotal     int            `json:"ordersTotal"`
	OrdersAssigned  int            `json:"ordersAssigned"`
	OrdersPending   int            `json:"ordersPending"`
	LoadByDriver    map[string]int `json:"loadByDriver"`
	ExceededCap     []string       `json:"exceededCap,omitempty"` // driver ids over cap (manual overrides)
	Reassigned      int            `json:"reassigned"`            // pass-2 moves
	IdleGapFills    int            `json:"idleGapFills"`
	DistanceKmTotal float64        `json:"distanceKmTotal"`
	DistanceKmMax   float64        `json:"distanceKmMax"`
	GeocodeFailures int            `json:"geocodeFailures"`
}

type RunResult struct {
	Date        string            `json:"date"`
	Assignments []Assignment      `json:"assignments"`
	Unassigned  []UnassignedOrder `json:"unassigned"`
	Chains      []Chain           `json:"chains"`
	Summary     RunSummary        `json:"summary"`
	Warnings    []string          `json:"warnings,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
}

// BatchItem statuses for bulk operations.
const (
	BatchOK      = "ok"
	BatchFailed  = "failed"
	BatchSkipped = "skipped"
)

type BatchItem struct {
	Key    string `json:"key"` // entity id or external ref
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// BatchResult is the structured outcome of every bulk operation: counts plus
// itemized reasons, never a bare success with silently lost items.
type BatchResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Items     []BatchItem `json:"items,omitempty"`
}

func (b *BatchResult) Add(key, status, reason string) {
	switch status {
	case BatchOK:
		b.Succeeded++
	case BatchFailed:
		b.Failed++
	case BatchSkipped:
		b.Skipped++
	}
	b.Items = append(b.Items, BatchItem{Key: key, Status: status, Reason: reason})
}

// Subscription is a notification sink (SMS/chat gateway endpoint) invoked
// after commitments. Delivery failure never rolls back a commitment.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
