package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. All data
// is lost on restart; fine for development and tests.
type Memory struct {
	mu         sync.Mutex
	orders     map[string]model.DailyOrder   // id -> order
	byDate     map[string][]string           // date -> order ids, insertion order
	extByDate  map[string]map[string]string  // date -> externalId -> order id
	drivers    map[string]model.Driver       // id -> driver
	profiles   map[string]model.RegionProfile
	runs       map[string]*model.RunResult // date -> latest result
	subs       map[string]model.Subscription
	deliveries map[string]*memDelivery
	order      []string // delivery ids, enqueue order
}

type memDelivery struct {
	Delivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:     map[string]model.DailyOrder{},
		byDate:     map[string][]string{},
		extByDate:  map[string]map[string]string{},
		drivers:    map[string]model.Driver{},
		profiles:   map[string]model.RegionProfile{},
		runs:       map[string]*model.RunResult{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

func (m *Memory) CreateOrders(ctx context.Context, orders []model.DailyOrder) (model.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res model.BatchResult
	for _, o := range orders {
		key := o.ExternalID
		if key == "" {
			key = o.ID
		}
		if o.Date == "" || o.PickupAddress == "" || o.DropoffAddress == "" {
			res.Add(key, model.BatchFailed, "missing date or addresses")
			continue
		}
		// ExternalID is unique per day; re-imports are skipped, not duplicated.
		if o.ExternalID != "" {
			if _, dup := m.extByDate[o.Date][o.ExternalID]; dup {
				res.Add(key, model.BatchSkipped, "duplicate external id for date")
				continue
			}
		}
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.Status == "" {
			o.Status = model.OrderFetched
		}
		m.orders[o.ID] = o
		m.byDate[o.Date] = append(m.byDate[o.Date], o.ID)
		if o.ExternalID != "" {
			if m.extByDate[o.Date] == nil {
				m.extByDate[o.Date] = map[string]string{}
			}
			m.extByDate[o.Date][o.ExternalID] = o.ID
		}
		res.Add(o.ID, model.BatchOK, "")
	}
	return res, nil
}

func (m *Memory) ListOrders(ctx context.Context, date, status string) ([]model.DailyOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DailyOrder{}
	if date != "" {
		for _, id := range m.byDate[date] {
			o := m.orders[id]
			if status == "" || o.Status == status {
				out = append(out, o)
			}
		}
		return out, nil
	}
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.DailyOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.DailyOrder{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) UpdateOrderLocs(ctx context.Context, id string, pickup, dropoff *model.GeoPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if pickup != nil {
		o.PickupLoc = pickup
	}
	if dropoff != nil {
		o.DropoffLoc = dropoff
	}
	m.orders[id] = o
	return nil
}

func (m *Memory) CommitAssignment(ctx context.Context, orderID, driverID, driverName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != model.OrderFetched {
		return ErrConflict
	}
	o.Status = model.OrderAssigned
	o.DriverID = driverID
	o.DriverName = driverName
	m.orders[orderID] = o
	return nil
}

func (m *Memory) MarkCompleted(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != model.OrderAssigned {
		return ErrConflict
	}
	o.Status = model.OrderCompleted
	m.orders[orderID] = o
	return nil
}

func (m *Memory) ResetDate(ctx context.Context, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.byDate[date] {
		o := m.orders[id]
		if o.Status != model.OrderAssigned {
			continue
		}
		o.Status = model.OrderFetched
		o.DriverID = ""
		o.DriverName = ""
		m.orders[id] = o
		count++
	}
	return count, nil
}

func (m *Memory) UpsertDrivers(ctx context.Context, drivers []model.Driver) (model.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res model.BatchResult
	for _, d := range drivers {
		if d.Name == "" {
			res.Add(d.ID, model.BatchFailed, "missing name")
			continue
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		m.drivers[d.ID] = d
		res.Add(d.ID, model.BatchOK, "")
	}
	return res, nil
}

func (m *Memory) ListDrivers(ctx context.Context) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) AppendChainRecord(ctx context.Context, driverID string, rec model.ChainRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	// One record per date: a re-run for the same date replaces it.
	kept := d.ChainHistory[:0]
	for _, r := range d.ChainHistory {
		if r.Date != rec.Date {
			kept = append(kept, r)
		}
	}
	d.ChainHistory = append(kept, rec)
	m.drivers[driverID] = d
	return nil
}

func (m *Memory) UpdateDriverStats(ctx context.Context, driverID string, stats model.DistanceStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Stats = stats
	m.drivers[driverID] = d
	return nil
}

func (m *Memory) SaveProfile(ctx context.Context, p model.RegionProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DriverID] = p
	return nil
}

func (m *Memory) GetProfile(ctx context.Context, driverID string) (model.RegionProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[driverID]
	if !ok {
		return model.RegionProfile{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProfiles(ctx context.Context) (map[string]model.RegionProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.RegionProfile, len(m.profiles))
	for k, v := range m.profiles {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SaveRunResult(ctx context.Context, res *model.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.runs[res.Date] = &cp
	return nil
}

func (m *Memory) GetRunResult(ctx context.Context, date string) (*model.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.runs[date]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: uuid.NewString(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, ev := range s.Events {
			if ev == eventType || ev == "*" {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) EnqueueDelivery(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.deliveries[id] = &memDelivery{
		Delivery: Delivery{
			ID: id, SubscriptionID: subscriptionID, EventType: eventType,
			URL: url, Secret: secret, Payload: payload, Status: "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []Delivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.Delivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	switch {
	case success:
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	case nextAttemptAt != nil:
		d.NextAttemptAt = *nextAttemptAt
	default:
		d.Status = "failed"
	}
	return nil
}
