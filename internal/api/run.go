package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"dispatchd/internal/engine"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/notify"
	"dispatchd/internal/profile"
	"dispatchd/internal/roster"
	"dispatchd/internal/store"
)

// RunHandler handles POST /v1/assignments/run: one engine run for one date.
// Commits are compare-and-set against the store; a conflicting commit (order
// grabbed since the snapshot) is skipped and reported, never overwritten.
func (s *Server) RunHandler(w http.ResponseWriter, r *http.Request) {
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

	res, err := s.runAssignments(r.Context(), req.Date)
	if err != nil {
		metrics.AssignmentRuns.WithLabelValues("error").Inc()
		writeProblem(w, http.StatusInternalServerError, "Run failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) runAssignments(ctx context.Context, date string) (*model.RunResult, error) {
	orders, err := s.Store.ListOrders(ctx, date, model.OrderFetched)
	if err != nil {
		return nil, err
	}
	existing, err := s.Store.ListOrders(ctx, date, model.OrderAssigned)
	if err != nil {
		return nil, err
	}
	drivers, err := s.Store.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := s.Store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}

	geocodeFailures := s.resolveLocations(ctx, orders)

	res := s.Engine.Run(engine.Input{
		Date:     date,
		Orders:   orders,
		Existing: existing,
		Drivers:  drivers,
		Profiles: profiles,
	})
	res.Summary.GeocodeFailures = geocodeFailures

	s.commitRun(ctx, res)

	if err := s.Store.SaveRunResult(ctx, res); err != nil {
		log.Printf("save run result for %s: %v", date, err)
	}
	for _, ch := range res.Chains {
		if err := s.Store.AppendChainRecord(ctx, ch.DriverID, engine.Record(ch)); err != nil {
			log.Printf("append chain record for %s: %v", ch.DriverID, err)
		}
		if len(ch.Warnings) > 0 {
			s.Pub.Emit(ctx, notify.EventChainWarning, map[string]any{
				"date": date, "driverId": ch.DriverID, "warnings": ch.Warnings,
			})
		}
	}
	s.Pub.Emit(ctx, notify.EventRunCompleted, res.Summary)
	s.Broker.Publish(date, SSEEvent{Type: notify.EventRunCompleted, Data: map[string]any{
		"date": date, "assigned": res.Summary.OrdersAssigned, "pending": res.Summary.OrdersPending,
	}})

	metrics.AssignmentRuns.WithLabelValues("ok").Inc()
	metrics.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	metrics.OrdersAssigned.Add(float64(res.Summary.OrdersAssigned))
	for _, u := range res.Unassigned {
		metrics.OrdersUnassigned.WithLabelValues(u.Reason).Inc()
	}
	return res, nil
}

// resolveLocations fills missing coordinates through the rate-limited
// geocoder. A lookup miss is not a failure: the distance estimator falls back
// to its address heuristic.
func (s *Server) resolveLocations(ctx context.Context, orders []model.DailyOrder) int {
	failures := 0
	for i := range orders {
		o := &orders[i]
		changed := false
		if o.PickupLoc == nil {
			if pt, ok, err := s.Geocoder.Resolve(ctx, o.PickupAddress); err != nil {
				failures++
			} else if ok {
				o.PickupLoc = &pt
				changed = true
			}
		}
		if o.DropoffLoc == nil {
			if pt, ok, err := s.Geocoder.Resolve(ctx, o.DropoffAddress); err != nil {
				failures++
			} else if ok {
				o.DropoffLoc = &pt
				changed = true
			}
		}
		if changed {
			if err := s.Store.UpdateOrderLocs(ctx, o.ID, o.PickupLoc, o.DropoffLoc); err != nil {
				log.Printf("update order locs %s: %v", o.ID, err)
			}
		}
	}
	return failures
}

// commitRun applies the engine's assignments to the store. Conflicted orders
// move to the unassigned list and their stops drop out of the chains.
func (s *Server) commitRun(ctx context.Context, res *model.RunResult) {
	kept := res.Assignments[:0]
	for _, a := range res.Assignments {
		err := s.Store.CommitAssignment(ctx, a.OrderID, a.DriverID, a.DriverName)
		if err == nil {
			kept = append(kept, a)
			s.Pub.Emit(ctx, notify.EventOrderAssigned, a)
			s.Broker.Publish(res.Date, SSEEvent{Type: notify.EventOrderAssigned, Data: map[string]any{
				"orderId": a.OrderID, "driverId": a.DriverID, "score": a.Score,
			}})
			continue
		}
		if errors.Is(err, store.ErrConflict) {
			res.Unassigned = append(res.Unassigned, model.UnassignedOrder{
				OrderID: a.OrderID, Reason: model.ReasonCommitConflict,
			})
			dropStop(res, a.DriverID, a.OrderID)
			continue
		}
		log.Printf("commit %s -> %s: %v", a.OrderID, a.DriverID, err)
		res.Unassigned = append(res.Unassigned, model.UnassignedOrder{
			OrderID: a.OrderID, Reason: model.ReasonCommitConflict,
		})
		dropStop(res, a.DriverID, a.OrderID)
	}
	res.Assignments = kept
	res.Summary.OrdersAssigned = len(kept)
	res.Summary.OrdersPending = len(res.Unassigned)
}

func dropStop(res *model.RunResult, driverID, orderID string) {
	if n := res.Summary.LoadByDriver[driverID]; n > 1 {
		res.Summary.LoadByDriver[driverID] = n - 1
	} else {
		delete(res.Summary.LoadByDriver, driverID)
	}
	for ci := range res.Chains {
		ch := &res.Chains[ci]
		if ch.DriverID != driverID {
			continue
		}
		for si := range ch.Stops {
			if ch.Stops[si].OrderID == orderID {
				ch.Stops = append(ch.Stops[:si], ch.Stops[si+1:]...)
				break
			}
		}
		return
	}
}

// DriversImportHandler handles POST /v1/drivers/import: CSV body, chunked
// bulk upsert with per-item outcomes.
func (s *Server) DriversImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanDispatch() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}

	src := roster.CSVSource{DefaultMaxOrders: s.Cfg.Engine.DefaultMaxOrders}
	parsed, err := src.Fetch(r.Context(), r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}

	existing, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List drivers failed", err.Error(), r.URL.Path)
		return
	}
	drivers, warnings := roster.Reconcile(parsed.Drivers, existing)

	res, err := store.UpsertDriversChunked(r.Context(), s.Store, drivers, s.Cfg.Batch.ChunkSize, s.Cfg.Batch.ChunkPause)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Upsert failed", err.Error(), r.URL.Path)
		return
	}
	for _, row := range parsed.Rows {
		if row.Status != roster.RowOK {
			res.Add(row.Key, model.BatchFailed, row.Reason)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":   res,
		"warnings": append(parsed.Warnings, warnings...),
	})
}

// ProfilesRebuildHandler handles POST /v1/profiles/rebuild: the feedback
// updater. Rebuilds every driver's region profile and distance stats from
// completed history.
func (s *Server) ProfilesRebuildHandler(w http.ResponseWriter, r *http.Request) {
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
		From string `json:"from"`
		To   string `json:"to"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if (req.From != "" && !validDate(req.From)) || (req.To != "" && !validDate(req.To)) {
		writeProblem(w, http.StatusBadRequest, "Invalid range", "from/to must be YYYY-MM-DD", r.URL.Path)
		return
	}

	history, err := s.Store.ListOrders(r.Context(), "", model.OrderCompleted)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List orders failed", err.Error(), r.URL.Path)
		return
	}
	history = filterRange(history, req.From, req.To)

	drivers, err := s.Store.ListDrivers(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List drivers failed", err.Error(), r.URL.Path)
		return
	}

	up := profile.NewUpdater(s.Engine.Estimator(), s.Cfg.Engine.LongDistanceKm)
	now := time.Now()
	var res model.BatchResult
	for _, d := range drivers {
		prof, stats := up.Build(d.ID, history, now)
		old, err := s.Store.GetProfile(r.Context(), d.ID)
		if err == nil {
			prof = profile.Merge(old, prof)
		}
		if err := s.Store.SaveProfile(r.Context(), prof); err != nil {
			res.Add(d.ID, model.BatchFailed, err.Error())
			continue
		}
		if err := s.Store.UpdateDriverStats(r.Context(), d.ID, stats); err != nil {
			res.Add(d.ID, model.BatchFailed, err.Error())
			continue
		}
		res.Add(d.ID, model.BatchOK, "")
	}
	writeJSON(w, http.StatusOK, res)
}

func filterRange(orders []model.DailyOrder, from, to string) []model.DailyOrder {
	if from == "" && to == "" {
		return orders
	}
	out := orders[:0]
	for _, o := range orders {
		if from != "" && o.Date < from {
			continue
		}
		if to != "" && o.Date > to {
			continue
		}
		out = append(out, o)
	}
	return out
}
