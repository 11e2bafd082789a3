package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"dispatchd/internal/model"
	"dispatchd/internal/notify"
	"dispatchd/internal/store"
)

// OrdersHandler handles POST/GET /v1/orders. POST is the marketplace
// ingestion endpoint: bulk create, itinerary fields owned by the caller.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Orders []model.DailyOrder `json:"orders"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(req.Orders) == 0 {
			writeProblem(w, http.StatusBadRequest, "Empty batch", "orders is required", r.URL.Path)
			return
		}
		// Validation problems become per-item failures, not a rejected batch.
		var res model.BatchResult
		valid := make([]model.DailyOrder, 0, len(req.Orders))
		for _, o := range req.Orders {
			if err := validateOrderIn(&o); err != nil {
				key := o.ExternalID
				if key == "" {
					key = o.ID
				}
				res.Add(key, model.BatchFailed, err.Error())
				continue
			}
			valid = append(valid, o)
		}
		created, err := s.Store.CreateOrders(r.Context(), valid)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create orders failed", err.Error(), r.URL.Path)
			return
		}
		res.Succeeded += created.Succeeded
		res.Failed += created.Failed
		res.Skipped += created.Skipped
		res.Items = append(res.Items, created.Items...)
		writeJSON(w, http.StatusAccepted, res)
	case http.MethodGet:
		date := r.URL.Query().Get("date")
		if date != "" && !validDate(date) {
			writeProblem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD", r.URL.Path)
			return
		}
		items, err := s.Store.ListOrders(r.Context(), date, r.URL.Query().Get("status"))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		items, next := pageOrders(items, r.URL.Query().Get("cursor"), r.URL.Query().Get("limit"))
		body := map[string]any{"items": items}
		if next != "" {
			body["nextCursor"] = next
		}
		writeJSON(w, http.StatusOK, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// pageOrders applies ID-keyed cursor pagination when the caller asked for it.
// The cursor is the last ID of the previous page; an empty nextCursor means
// the listing is complete.
func pageOrders(items []model.DailyOrder, cursor, limitStr string) ([]model.DailyOrder, string) {
	if cursor == "" && limitStr == "" {
		return items, ""
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if cursor != "" {
		i := sort.Search(len(items), func(i int) bool { return items[i].ID > cursor })
		items = items[i:]
	}
	limit := 100
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		limit = n
	}
	if len(items) <= limit {
		return items, ""
	}
	page := items[:limit]
	return page, page[limit-1].ID
}

// ResetHandler handles POST /v1/orders/reset: reverts the date's assigned
// orders to fetched. Idempotent; completed orders are never touched.
func (s *Server) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validDate(req.Date) {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "date must be YYYY-MM-DD", r.URL.Path)
		return
	}
	count, err := s.Store.ResetDate(r.Context(), req.Date)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Reset failed", err.Error(), r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), notify.EventDateReset, map[string]any{"date": req.Date, "resetCount": count})
	s.Broker.Publish(req.Date, SSEEvent{Type: notify.EventDateReset, Data: map[string]any{"date": req.Date, "resetCount": count}})
	writeJSON(w, http.StatusOK, map[string]any{"date": req.Date, "resetCount": count})
}

// DriversHandler handles GET /v1/drivers and GET /v1/drivers/{id}[/chain].
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/drivers")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		items, err := s.Store.ListDrivers(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List drivers failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	parts := strings.Split(rest, "/")
	d, err := s.Store.GetDriver(r.Context(), parts[0])
	if err != nil {
		writeStoreError(w, err, r.URL.Path)
		return
	}
	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, d)
		return
	}
	if parts[1] == "chain" {
		date := r.URL.Query().Get("date")
		if !validDate(date) {
			writeProblem(w, http.StatusBadRequest, "Invalid date", "date query parameter must be YYYY-MM-DD", r.URL.Path)
			return
		}
		orders, err := s.Store.ListOrders(r.Context(), date, model.OrderAssigned)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, s.Engine.BuildChain(date, d.ID, d.Name, orders))
		return
	}
	writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

// ReportHandler handles GET /v1/reports/daily?date=: the read-only
// diagnostics contract. Per-driver assigned count vs cap, exceeded-cap list,
// unassigned orders with reasons, per-driver chains.
func (s *Server) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		writeProblem(w, http.StatusBadRequest, "Invalid date", "date query parameter must be YYYY-MM-DD", r.URL.Path)
		return
	}

	res, err := s.Store.GetRunResult(r.Context(), date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusInternalServerError, "Load run failed", err.Error(), r.URL.Path)
		return
	}

	drivers, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List drivers failed", err.Error(), r.URL.Path)
		return
	}

	type driverLine struct {
		DriverID    string `json:"driverId"`
		Name        string `json:"name"`
		Assigned    int    `json:"assigned"`
		Cap         int    `json:"cap"`
		OverCap     bool   `json:"overCap,omitempty"`
		TopDasher   bool   `json:"topDasher,omitempty"`
		JokerDriver bool   `json:"jokerDriver,omitempty"`
	}
	report := struct {
		Date        string                  `json:"date"`
		Drivers     []driverLine            `json:"drivers"`
		ExceededCap []string                `json:"exceededCap,omitempty"`
		Unassigned  []model.UnassignedOrder `json:"unassigned,omitempty"`
		Chains      []model.Chain           `json:"chains,omitempty"`
		Summary     *model.RunSummary       `json:"summary,omitempty"`
		Warnings    []string                `json:"warnings,omitempty"`
	}{Date: date}

	var loads map[string]int
	if res != nil {
		loads = res.Summary.LoadByDriver
		report.ExceededCap = res.Summary.ExceededCap
		report.Unassigned = res.Unassigned
		report.Chains = res.Chains
		report.Summary = &res.Summary
		report.Warnings = res.Warnings
	}
	for _, d := range drivers {
		capN := d.MaxOrdersPerDay
		if capN <= 0 {
			capN = s.Cfg.Engine.DefaultMaxOrders
		}
		line := driverLine{
			DriverID: d.ID, Name: d.Name, Assigned: loads[d.ID], Cap: capN,
			TopDasher: d.TopDasher, JokerDriver: d.JokerDriver,
		}
		line.OverCap = line.Assigned > capN
		report.Drivers = append(report.Drivers, line)
	}
	writeJSON(w, http.StatusOK, report)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateSubscription(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		writeStoreError(w, err, r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamHandler handles GET /v1/dispatch/stream?date=: SSE feed of dispatch
// events for one date.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		writeProblem(w, http.StatusBadRequest, "Invalid date", "date query parameter must be YYYY-MM-DD", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(date)
	defer s.Broker.Unsubscribe(date, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"date\":\"%s\",\"ts\":\"%s\"}\n\n", date, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ReadyHandler handles GET /readyz: ready once the store answers.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.ListDrivers(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
