// Package query is the "out of core" facade spec.md §1 describes: a thin
// wrapper over table.Table whose column arguments are user-relative (0 is
// the first user column) and are translated to the table's absolute column
// indices, with a context cancellation check on every call (spec §6's
// requirement that suspending operations honor ctx). Grounded on spec.md
// §1's own characterization of this layer as a pass-through, not on any
// single teacher file.
package query

import (
	"context"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/table"
)

// Facade forwards operations to a single underlying table.
type Facade struct {
	t *table.Table
}

// New wraps t in a Facade.
func New(t *table.Table) *Facade { return &Facade{t: t} }

// Table returns the wrapped table, for callers that need lower-level
// access such as NumRows.
func (f *Facade) Table() *table.Table { return f.t }

// userCol maps a user-relative column number to the table's absolute
// column index.
func userCol(col int) int { return lconfig.StartUserDataColumn + col }

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return lerr.ErrCancelled
	default:
		return nil
	}
}

// Insert forwards to Table.Insert.
func (f *Facade) Insert(ctx context.Context, columns []uint64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return f.t.Insert(columns)
}

// Select forwards to Table.Select.
func (f *Facade) Select(ctx context.Context, col int, value uint64, columns []int) ([]*table.Record, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var abs []int
	if columns != nil {
		abs = make([]int, len(columns))
		for i, c := range columns {
			abs[i] = userCol(c)
		}
	}
	return f.t.Select(userCol(col), value, abs)
}

// Update forwards to Table.Update.
func (f *Facade) Update(ctx context.Context, key uint64, values []uint64, present []bool) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return f.t.Update(key, values, present)
}

// Sum forwards to Table.Sum.
func (f *Facade) Sum(ctx context.Context, start, end uint64, aggCol int) (uint64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	return f.t.Sum(start, end, userCol(aggCol))
}

// Delete forwards to Table.Delete.
func (f *Facade) Delete(ctx context.Context, key uint64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return f.t.Delete(key)
}

// Increment forwards to Table.Increment.
func (f *Facade) Increment(ctx context.Context, key uint64, col int, delta int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return f.t.Increment(key, userCol(col), delta)
}

// CreateIndex forwards to Table.CreateIndex.
func (f *Facade) CreateIndex(ctx context.Context, col int) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return f.t.CreateIndex(userCol(col))
}

// DropIndex forwards to Table.DropIndex.
func (f *Facade) DropIndex(ctx context.Context, col int) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	f.t.DropIndex(userCol(col))
	return nil
}
