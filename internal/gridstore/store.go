// Package gridstore persists LOS grids in their node-record form.
package gridstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/opir-geoloc/core"
	"github.com/signalsfoundry/opir-geoloc/losgrid"
)

var (
	ErrNotFound     = errors.New("grid not found")
	ErrInvalidEntry = errors.New("invalid grid entry")
)

// Entry is a persisted grid: RecordRows x RecordCols node records (one row
// and column fewer than the grid they rebuild), the step sizes and the
// observer the LOS vectors were computed from.
type Entry struct {
	RecordRows, RecordCols int
	RowStep, ColStep       int
	Observer               core.Vec3
	Records                []losgrid.Record
}

// Store saves and loads grid entries by key.
type Store interface {
	Save(ctx context.Context, key string, e Entry) error
	Load(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

// EntryFromGrid captures the persisted form of g.
func EntryFromGrid(g *losgrid.Grid) Entry {
	return Entry{
		RecordRows: g.Rows() - 1,
		RecordCols: g.Cols() - 1,
		RowStep:    g.RowStepSize(),
		ColStep:    g.ColStepSize(),
		Observer:   g.Observer(),
		Records:    g.Records(),
	}
}

// Validate checks the entry's dimensions against its records.
func (e Entry) Validate() error {
	if e.RecordRows <= 0 || e.RecordCols <= 0 || e.RowStep <= 0 || e.ColStep <= 0 {
		return fmt.Errorf("%w: %dx%d records, steps %d/%d", ErrInvalidEntry, e.RecordRows, e.RecordCols, e.RowStep, e.ColStep)
	}
	if len(e.Records) != e.RecordRows*e.RecordCols {
		return fmt.Errorf("%w: %d records for %dx%d", ErrInvalidEntry, len(e.Records), e.RecordRows, e.RecordCols)
	}
	return nil
}

// Grid rebuilds the full grid, extrapolating the overhang row and column.
func (e Entry) Grid(earth *core.Ellipsoid) (*losgrid.Grid, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if earth == nil {
		earth = core.WGS84()
	}
	return losgrid.FromRecords(e.Records, e.RecordRows, e.RecordCols, e.RowStep, e.ColStep, e.Observer, earth)
}
