package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/model"
)

// CSVSource parses driver exports with a header row. Column names are matched
// case-insensitively; unknown columns are ignored so exports with extra
// operator columns still import cleanly.
type CSVSource struct {
	DefaultMaxOrders int
}

func (s CSVSource) Name() string { return "csv" }

func (s CSVSource) Fetch(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["name"]; !ok {
		return res, fmt.Errorf("header has no name column")
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			res.Rows = append(res.Rows, RowResult{Line: line, Status: RowFailed, Reason: err.Error()})
			continue
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		name := field("name")
		if name == "" {
			res.Rows = append(res.Rows, RowResult{Line: line, Status: RowSkipped, Reason: "empty name"})
			continue
		}

		d := model.Driver{
			ID:       field("id"),
			Name:     name,
			Phone:    field("phone"),
			Language: field("language"),
			Status:   model.DriverActive,
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}

		var rowErrs []string
		if st := field("status"); st != "" {
			if norm, ok := normalizeStatus(st); ok {
				d.Status = norm
			} else {
				rowErrs = append(rowErrs, fmt.Sprintf("unknown status %q", st))
			}
		}
		if wd := field("working_days"); wd != "" {
			days, bad := parseWorkingDays(wd)
			d.WorkingDays = days
			rowErrs = append(rowErrs, bad...)
		}
		if v := field("max_orders_per_day"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				rowErrs = append(rowErrs, fmt.Sprintf("bad max_orders_per_day %q", v))
			} else {
				d.MaxOrdersPerDay = n
			}
		}
		if d.MaxOrdersPerDay == 0 {
			d.MaxOrdersPerDay = s.DefaultMaxOrders
		}
		d.CanDoLongDistance = parseBool(field("can_do_long_distance"))
		d.EarlyMorningEligible = parseBool(field("early_morning_eligible"))
		d.EarlyMorningSpecialist = parseBool(field("early_morning_specialist"))
		d.TopDasher = parseBool(field("top_dasher"))
		d.JokerDriver = parseBool(field("joker"))
		if v := field("reliability_tier"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 4 {
				rowErrs = append(rowErrs, fmt.Sprintf("reliability_tier %q out of range 1-4", v))
			} else {
				d.ReliabilityTier = n
			}
		}

		prefs, prefErrs := parsePrefs(field("preferred_areas"), field("region_priorities"), field("preferred_shift"), field("avoid_dense_core"), field("avoid_long_distance"))
		d.Prefs = prefs
		rowErrs = append(rowErrs, prefErrs...)

		if len(rowErrs) > 0 {
			res.Rows = append(res.Rows, RowResult{Line: line, Key: name, Status: RowFailed, Reason: strings.Join(rowErrs, "; ")})
			continue
		}
		res.Drivers = append(res.Drivers, d)
		res.Rows = append(res.Rows, RowResult{Line: line, Key: d.ID, Status: RowOK})
	}
	return res, nil
}

func normalizeStatus(s string) (string, bool) {
	switch strings.ToLower(strings.ReplaceAll(s, " ", "_")) {
	case model.DriverActive:
		return model.DriverActive, true
	case model.DriverOnLeave, "leave":
		return model.DriverOnLeave, true
	case model.DriverInactive:
		return model.DriverInactive, true
	}
	return "", false
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWorkingDays(s string) ([]time.Weekday, []string) {
	var days []time.Weekday
	var errs []string
	seen := map[time.Weekday]bool{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
		key := strings.ToLower(strings.TrimSpace(part))
		if key == "" {
			continue
		}
		wd, ok := weekdayNames[key]
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown weekday %q", part))
			continue
		}
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	return days, errs
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// parsePrefs turns the free-form preference columns into the typed structure.
// Region priorities use "Region:rank" pairs separated by semicolons; a rank
// must be a positive integer.
func parsePrefs(areas, priorities, shift, denseCore, longDist string) (model.Preferences, []string) {
	var p model.Preferences
	var errs []string

	for _, a := range strings.Split(areas, ";") {
		if a = strings.TrimSpace(a); a != "" {
			p.PreferredAreas = append(p.PreferredAreas, a)
		}
	}
	if priorities != "" {
		p.RegionPriorities = map[string]int{}
		for _, pair := range strings.Split(priorities, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, rankStr, ok := strings.Cut(pair, ":")
			rank, err := strconv.Atoi(strings.TrimSpace(rankStr))
			if !ok || err != nil || rank < 1 || strings.TrimSpace(name) == "" {
				errs = append(errs, fmt.Sprintf("bad region priority %q", pair))
				continue
			}
			p.RegionPriorities[strings.TrimSpace(name)] = rank
		}
	}
	if shift != "" {
		switch strings.ToLower(shift) {
		case model.ShiftAllDay, model.ShiftMorning, model.ShiftEvening:
			p.PreferredShift = strings.ToLower(shift)
		default:
			errs = append(errs, fmt.Sprintf("unknown shift %q", shift))
		}
	}
	p.AvoidDenseCore = parseBool(denseCore)
	p.AvoidLongDistance = parseBool(longDist)
	return p, errs
}
