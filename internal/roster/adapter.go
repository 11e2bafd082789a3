// Package roster imports and repairs driver records from semi-structured
// exports. Parsing and name repair live here, outside the engine core: the
// engine works on stable ids only and never resolves free-text names.
package roster

import (
	"context"
	"io"

	"dispatchd/internal/model"
)

// Source is a roster provider. Implementations parse one export format and
// report per-row problems as warnings rather than failing the whole import.
type Source interface {
	Name() string
	Fetch(ctx context.Context, r io.Reader) (ImportResult, error)
}

// ImportResult carries parsed drivers plus row-level diagnostics. Rows lists
// every input row's outcome so a partial failure is never silent.
type ImportResult struct {
	Drivers  []model.Driver
	Rows     []RowResult
	Warnings []string
}

type RowResult struct {
	Line   int    `json:"line"`
	Key    string `json:"key"` // driver id or name, whichever the row carried
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	RowOK      = "ok"
	RowFailed  = "failed"
	RowSkipped = "skipped"
)
