package store

import (
	"context"
	"errors"
	"time"

	"dispatchd/internal/model"
)

// Store is the persistence interface used by the API server and the
// assignment runner. Implementations: Memory (default) and Postgres
// (DATABASE_URL set).
type Store interface {
	// Orders
	CreateOrders(ctx context.Context, orders []model.DailyOrder) (model.BatchResult, error)
	ListOrders(ctx context.Context, date, status string) ([]model.DailyOrder, error)
	GetOrder(ctx context.Context, id string) (model.DailyOrder, error)
	UpdateOrderLocs(ctx context.Context, id string, pickup, dropoff *model.GeoPoint) error
	// CommitAssignment moves a fetched order to assigned, compare-and-swap on
	// status. ErrConflict when the order is no longer fetched.
	CommitAssignment(ctx context.Context, orderID, driverID, driverName string) error
	MarkCompleted(ctx context.Context, orderID string) error
	// ResetDate reverts the date's assigned orders to fetched and clears the
	// driver fields. Completed orders are never touched. Idempotent.
	ResetDate(ctx context.Context, date string) (int, error)

	// Drivers
	UpsertDrivers(ctx context.Context, drivers []model.Driver) (model.BatchResult, error)
	ListDrivers(ctx context.Context) ([]model.Driver, error)
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	AppendChainRecord(ctx context.Context, driverID string, rec model.ChainRecord) error
	UpdateDriverStats(ctx context.Context, driverID string, stats model.DistanceStats) error

	// Region profiles
	SaveProfile(ctx context.Context, p model.RegionProfile) error
	GetProfile(ctx context.Context, driverID string) (model.RegionProfile, error)
	ListProfiles(ctx context.Context) (map[string]model.RegionProfile, error)

	// Run results (one per date, latest wins)
	SaveRunResult(ctx context.Context, res *model.RunResult) error
	GetRunResult(ctx context.Context, date string) (*model.RunResult, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Notification deliveries
	EnqueueDelivery(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Delivery is a queued notification attempt.
type Delivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

// UpsertDriversChunked splits a bulk upsert into chunks with a pause between
// them so a slow external store is not hammered. A failed chunk is reported
// in the combined result and does not abort the remaining chunks.
func UpsertDriversChunked(ctx context.Context, s Store, drivers []model.Driver, chunkSize int, pause time.Duration) (model.BatchResult, error) {
	if chunkSize <= 0 {
		chunkSize = len(drivers)
	}
	var combined model.BatchResult
	for start := 0; start < len(drivers); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return combined, err
		}
		end := start + chunkSize
		if end > len(drivers) {
			end = len(drivers)
		}
		res, err := s.UpsertDrivers(ctx, drivers[start:end])
		if err != nil {
			for _, d := range drivers[start:end] {
				combined.Add(d.ID, model.BatchFailed, err.Error())
			}
		} else {
			combined.Succeeded += res.Succeeded
			combined.Failed += res.Failed
			combined.Skipped += res.Skipped
			combined.Items = append(combined.Items, res.Items...)
		}
		if end < len(drivers) && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return combined, ctx.Err()
			}
		}
	}
	return combined, nil
}
