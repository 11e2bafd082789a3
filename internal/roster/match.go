package roster

import (
	"fmt"
	"strings"

	"dispatchd/internal/model"
)

// MatchByName resolves a free-text name against the existing roster. The
// match is best effort: exact normalized equality wins, then a unique
// substring match. Duplicate candidates make the name ambiguous and resolve
// to nothing, with a warning for human review.
func MatchByName(name string, existing []model.Driver) (*model.Driver, string) {
	norm := normalizeName(name)
	if norm == "" {
		return nil, ""
	}

	var exact []*model.Driver
	var partial []*model.Driver
	for i := range existing {
		cand := normalizeName(existing[i].Name)
		switch {
		case cand == norm:
			exact = append(exact, &existing[i])
		case strings.Contains(cand, norm) || strings.Contains(norm, cand):
			partial = append(partial, &existing[i])
		}
	}

	pick := exact
	if len(pick) == 0 {
		pick = partial
	}
	switch len(pick) {
	case 0:
		return nil, ""
	case 1:
		return pick[0], ""
	default:
		ids := make([]string, len(pick))
		for i, d := range pick {
			ids[i] = d.ID
		}
		return nil, fmt.Sprintf("name %q is ambiguous: matches drivers %s", name, strings.Join(ids, ", "))
	}
}

// Reconcile merges imported drivers into the existing roster. Rows carrying
// an id that exists update in place; rows without a known id fall back to
// name matching. The returned slice is the upsert set, warnings carry every
// ambiguity encountered.
func Reconcile(imported, existing []model.Driver) ([]model.Driver, []string) {
	byID := map[string]*model.Driver{}
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}

	var out []model.Driver
	var warnings []string
	for _, d := range imported {
		if _, ok := byID[d.ID]; ok {
			out = append(out, mergeDriver(*byID[d.ID], d))
			continue
		}
		match, warn := MatchByName(d.Name, existing)
		if warn != "" {
			warnings = append(warnings, warn)
			continue
		}
		if match != nil {
			d.ID = match.ID
			out = append(out, mergeDriver(*match, d))
			continue
		}
		out = append(out, d)
	}
	return out, warnings
}

// mergeDriver applies imported fields over the stored record while keeping
// fields the import cannot know: derived stats, chain history, operating
// point, and any curated region priorities the row omitted.
func mergeDriver(stored, imported model.Driver) model.Driver {
	imported.Stats = stored.Stats
	imported.ChainHistory = stored.ChainHistory
	imported.OperatingPoint = stored.OperatingPoint
	if len(imported.Prefs.RegionPriorities) == 0 {
		imported.Prefs.RegionPriorities = stored.Prefs.RegionPriorities
	}
	if len(imported.Prefs.PreferredAreas) == 0 {
		imported.Prefs.PreferredAreas = stored.Prefs.PreferredAreas
	}
	return imported
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
