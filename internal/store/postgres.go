package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dispatchd/internal/model"
)

// Postgres is the durable store, selected when DATABASE_URL is set. Complex
// structured fields (prefs, stats, chain history, run results) live in JSONB
// columns; the query surface never filters on them.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// Migrate creates the schema when absent. Dev helper; production schemas are
// managed out of band.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_orders (
			id uuid PRIMARY KEY,
			external_id text NOT NULL DEFAULT '',
			order_date text NOT NULL,
			pickup_address text NOT NULL,
			pickup_loc jsonb,
			pickup_time text NOT NULL DEFAULT '',
			dropoff_address text NOT NULL,
			dropoff_loc jsonb,
			dropoff_time text NOT NULL DEFAULT '',
			status text NOT NULL,
			driver_id uuid,
			driver_name text,
			warnings jsonb
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS daily_orders_date_ext
			ON daily_orders (order_date, external_id) WHERE external_id <> ''`,
		`CREATE INDEX IF NOT EXISTS daily_orders_date_status ON daily_orders (order_date, status)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id uuid PRIMARY KEY,
			name text NOT NULL,
			phone text NOT NULL DEFAULT '',
			language text NOT NULL DEFAULT '',
			status text NOT NULL,
			doc jsonb NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS region_profiles (
			driver_id uuid PRIMARY KEY,
			doc jsonb NOT NULL,
			updated_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_results (
			run_date text PRIMARY KEY,
			doc jsonb NOT NULL,
			finished_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id uuid PRIMARY KEY,
			url text NOT NULL,
			events jsonb NOT NULL,
			secret text NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id uuid PRIMARY KEY,
			subscription_id uuid NOT NULL,
			event_type text NOT NULL,
			url text NOT NULL,
			secret text NOT NULL DEFAULT '',
			payload bytea NOT NULL,
			status text NOT NULL,
			attempts int NOT NULL DEFAULT 0,
			next_attempt_at timestamptz NOT NULL,
			last_error text,
			response_code int,
			latency_ms int,
			delivered_at timestamptz
		)`,
		`CREATE INDEX IF NOT EXISTS deliveries_due ON deliveries (status, next_attempt_at)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateOrders(ctx context.Context, orders []model.DailyOrder) (model.BatchResult, error) {
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
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.Status == "" {
			o.Status = model.OrderFetched
		}
		// ON CONFLICT on (order_date, external_id) keeps re-imports idempotent.
		tag, err := p.db.ExecContext(ctx, `
			INSERT INTO daily_orders
				(id, external_id, order_date, pickup_address, pickup_loc, pickup_time,
				 dropoff_address, dropoff_loc, dropoff_time, status, driver_id, driver_name, warnings)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,NULL,$11)
			ON CONFLICT (order_date, external_id) WHERE external_id <> '' DO NOTHING`,
			o.ID, o.ExternalID, o.Date, o.PickupAddress, toJSON(o.PickupLoc), o.PickupTime,
			o.DropoffAddress, toJSON(o.DropoffLoc), o.DropoffTime, o.Status, toJSON(o.Warnings))
		if err != nil {
			res.Add(key, model.BatchFailed, err.Error())
			continue
		}
		if n, _ := tag.RowsAffected(); n == 0 {
			res.Add(key, model.BatchSkipped, "duplicate external id for date")
			continue
		}
		res.Add(o.ID, model.BatchOK, "")
	}
	return res, nil
}

const orderCols = `id::text, external_id, order_date, pickup_address, pickup_loc, pickup_time,
	dropoff_address, dropoff_loc, dropoff_time, status, COALESCE(driver_id::text,''), COALESCE(driver_name,''), warnings`

func scanOrder(sc interface{ Scan(...any) error }) (model.DailyOrder, error) {
	var o model.DailyOrder
	var pLoc, dLoc, warn []byte
	if err := sc.Scan(&o.ID, &o.ExternalID, &o.Date, &o.PickupAddress, &pLoc, &o.PickupTime,
		&o.DropoffAddress, &dLoc, &o.DropoffTime, &o.Status, &o.DriverID, &o.DriverName, &warn); err != nil {
		return o, err
	}
	_ = json.Unmarshal(pLoc, &o.PickupLoc)
	_ = json.Unmarshal(dLoc, &o.DropoffLoc)
	_ = json.Unmarshal(warn, &o.Warnings)
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, date, status string) ([]model.DailyOrder, error) {
	q := `SELECT ` + orderCols + ` FROM daily_orders WHERE ($1 = '' OR order_date = $1) AND ($2 = '' OR status = $2) ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DailyOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.DailyOrder, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM daily_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyOrder{}, ErrNotFound
	}
	return o, err
}

func (p *Postgres) UpdateOrderLocs(ctx context.Context, id string, pickup, dropoff *model.GeoPoint) error {
	tag, err := p.db.ExecContext(ctx, `
		UPDATE daily_orders SET
			pickup_loc  = CASE WHEN $2::jsonb IS NULL THEN pickup_loc ELSE $2 END,
			dropoff_loc = CASE WHEN $3::jsonb IS NULL THEN dropoff_loc ELSE $3 END
		WHERE id = $1`, id, nullableJSON(pickup), nullableJSON(dropoff))
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableJSON(p *model.GeoPoint) any {
	if p == nil {
		return nil
	}
	return toJSON(p)
}

func (p *Postgres) CommitAssignment(ctx context.Context, orderID, driverID, driverName string) error {
	// Status guard in the WHERE clause is the compare-and-swap: a concurrent
	// commit that won the race leaves zero rows for this one.
	tag, err := p.db.ExecContext(ctx, `
		UPDATE daily_orders SET status = $2, driver_id = $3, driver_name = $4
		WHERE id = $1 AND status = $5`,
		orderID, model.OrderAssigned, driverID, driverName, model.OrderFetched)
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT true FROM daily_orders WHERE id = $1`, orderID).Scan(&exists); err != nil {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) MarkCompleted(ctx context.Context, orderID string) error {
	tag, err := p.db.ExecContext(ctx, `
		UPDATE daily_orders SET status = $2 WHERE id = $1 AND status = $3`,
		orderID, model.OrderCompleted, model.OrderAssigned)
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT true FROM daily_orders WHERE id = $1`, orderID).Scan(&exists); err != nil {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) ResetDate(ctx context.Context, date string) (int, error) {
	tag, err := p.db.ExecContext(ctx, `
		UPDATE daily_orders SET status = $2, driver_id = NULL, driver_name = NULL
		WHERE order_date = $1 AND status = $3`,
		date, model.OrderFetched, model.OrderAssigned)
	if err != nil {
		return 0, err
	}
	n, _ := tag.RowsAffected()
	return int(n), nil
}

func (p *Postgres) UpsertDrivers(ctx context.Context, drivers []model.Driver) (model.BatchResult, error) {
	var res model.BatchResult
	for _, d := range drivers {
		if d.Name == "" {
			res.Add(d.ID, model.BatchFailed, "missing name")
			continue
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO drivers (id, name, phone, language, status, doc)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, phone = EXCLUDED.phone, language = EXCLUDED.language,
				status = EXCLUDED.status, doc = EXCLUDED.doc`,
			d.ID, d.Name, d.Phone, d.Language, d.Status, toJSON(d))
		if err != nil {
			res.Add(d.ID, model.BatchFailed, err.Error())
			continue
		}
		res.Add(d.ID, model.BatchOK, "")
	}
	return res, nil
}

func (p *Postgres) ListDrivers(ctx context.Context) ([]model.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM drivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Driver{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var d model.Driver
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM drivers WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Driver{}, ErrNotFound
	}
	if err != nil {
		return model.Driver{}, err
	}
	var d model.Driver
	err = json.Unmarshal(doc, &d)
	return d, err
}

func (p *Postgres) AppendChainRecord(ctx context.Context, driverID string, rec model.ChainRecord) error {
	d, err := p.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	kept := d.ChainHistory[:0]
	for _, r := range d.ChainHistory {
		if r.Date != rec.Date {
			kept = append(kept, r)
		}
	}
	d.ChainHistory = append(kept, rec)
	return p.saveDriverDoc(ctx, d)
}

func (p *Postgres) UpdateDriverStats(ctx context.Context, driverID string, stats model.DistanceStats) error {
	d, err := p.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	d.Stats = stats
	return p.saveDriverDoc(ctx, d)
}

func (p *Postgres) saveDriverDoc(ctx context.Context, d model.Driver) error {
	tag, err := p.db.ExecContext(ctx, `UPDATE drivers SET doc = $2 WHERE id = $1`, d.ID, toJSON(d))
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveProfile(ctx context.Context, prof model.RegionProfile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO region_profiles (driver_id, doc, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (driver_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		prof.DriverID, toJSON(prof), prof.UpdatedAt)
	return err
}

func (p *Postgres) GetProfile(ctx context.Context, driverID string) (model.RegionProfile, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM region_profiles WHERE driver_id = $1`, driverID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RegionProfile{}, ErrNotFound
	}
	if err != nil {
		return model.RegionProfile{}, err
	}
	var prof model.RegionProfile
	err = json.Unmarshal(doc, &prof)
	return prof, err
}

func (p *Postgres) ListProfiles(ctx context.Context) (map[string]model.RegionProfile, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT driver_id::text, doc FROM region_profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]model.RegionProfile{}
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		var prof model.RegionProfile
		if err := json.Unmarshal(doc, &prof); err != nil {
			return nil, err
		}
		out[id] = prof
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRunResult(ctx context.Context, res *model.RunResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO run_results (run_date, doc, finished_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (run_date) DO UPDATE SET doc = EXCLUDED.doc, finished_at = EXCLUDED.finished_at`,
		res.Date, toJSON(res), res.FinishedAt)
	return err
}

func (p *Postgres) GetRunResult(ctx context.Context, date string) (*model.RunResult, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM run_results WHERE run_date = $1`, date).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res model.RunResult
	if err := json.Unmarshal(doc, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.NewString(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		sub.ID, sub.URL, toJSON(sub.Events), sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, events, secret FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubs(rows)
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, url, events, secret FROM subscriptions
		WHERE events @> to_jsonb(ARRAY[$1]::text[]) OR events @> '["*"]'::jsonb
		ORDER BY id`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubs(rows)
}

func scanSubs(rows *sql.Rows) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueDelivery(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`,
		id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, subscription_id::text, event_type, url, secret, payload, status, attempts
		FROM deliveries
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	var status string
	switch {
	case success:
		status = "delivered"
	case nextAttemptAt != nil:
		status = "pending"
	default:
		status = "failed"
	}
	tag, err := p.db.ExecContext(ctx, `
		UPDATE deliveries SET
			status = $2, attempts = attempts + 1, next_attempt_at = COALESCE($3, next_attempt_at),
			last_error = $4, response_code = $5, latency_ms = $6,
			delivered_at = CASE WHEN $2 = 'delivered' THEN now() ELSE delivered_at END
		WHERE id = $1`,
		id, status, nextAttemptAt, lastError, responseCode, latencyMs)
	if err != nil {
		return err
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
