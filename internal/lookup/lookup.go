// Package lookup provides the numeric tables that drive equipment scoring and
// battle resolution.
//
// Three table shapes are supported:
//
//   - [Standard]: category label → column name → value. Point lookups only.
//   - [Interpolating]: sorted (x, y) pairs with piecewise-linear interpolation
//     that clamps to the boundary values outside the tabulated range.
//   - [AdvanceRate]: power ratio (interpolated) × defense posture × unit type.
//
// Tables are immutable once constructed and safe for concurrent use.
package lookup

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
)

var (
	// ErrMissingKey is returned when a category or column is not present in a
	// [Standard] or [AdvanceRate] table. A miss is a configuration error; it is
	// never silently replaced by a default value.
	ErrMissingKey = errors.New("lookup: missing key")

	// ErrUnknownPosture is returned for a defense posture outside the three
	// accepted values.
	ErrUnknownPosture = errors.New("lookup: unknown posture")

	// ErrEmptyTable is returned when a table is constructed without rows.
	ErrEmptyTable = errors.New("lookup: empty table")

	// ErrDuplicateKey is returned when an interpolating table repeats an x value.
	ErrDuplicateKey = errors.New("lookup: duplicate key")
)

// Standard is a two-key table of named factors.
type Standard struct {
	name       string
	categories []string
	columns    []string
	rows       map[string]map[string]float64
}

// NewStandard builds a [Standard] table. columns fixes the column order
// reported by [Standard.Columns]; each row must provide a value for every
// column.
func NewStandard(name string, columns []string, rows map[string]map[string]float64) (*Standard, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	t := &Standard{
		name:    name,
		columns: slices.Clone(columns),
		rows:    make(map[string]map[string]float64, len(rows)),
	}
	for cat, row := range rows {
		for _, col := range columns {
			if _, ok := row[col]; !ok {
				return nil, fmt.Errorf("%w: %s row %q has no column %q", ErrMissingKey, name, cat, col)
			}
		}
		t.rows[cat] = maps.Clone(row)
		t.categories = append(t.categories, cat)
	}
	sort.Strings(t.categories)
	return t, nil
}

// Name returns the table name used in error messages.
func (t *Standard) Name() string { return t.name }

// Get returns the value at (category, column). The boolean is false when
// either key is absent.
func (t *Standard) Get(category, column string) (float64, bool) {
	row, ok := t.rows[category]
	if !ok {
		return 0, false
	}
	v, ok := row[column]
	return v, ok
}

// Value is [Standard.Get] for callers that treat a miss as an error. The
// returned error wraps [ErrMissingKey].
func (t *Standard) Value(category, column string) (float64, error) {
	v, ok := t.Get(category, column)
	if !ok {
		return 0, fmt.Errorf("%w: %s[%q][%q]", ErrMissingKey, t.name, category, column)
	}
	return v, nil
}

// Categories returns the row labels in sorted order.
func (t *Standard) Categories() []string { return slices.Clone(t.categories) }

// Columns returns the column names in file order.
func (t *Standard) Columns() []string { return slices.Clone(t.columns) }

// Point is one (x, y) sample of an [Interpolating] table.
type Point struct {
	X float64
	Y float64
}

// Interpolating is a piecewise-linear curve over sorted sample points.
type Interpolating struct {
	name string
	xs   []float64
	ys   []float64
}

// NewInterpolating sorts points by X and builds the table. Duplicate X values
// are rejected with [ErrDuplicateKey].
func NewInterpolating(name string, points []Point) (*Interpolating, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b Point) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})
	t := &Interpolating{
		name: name,
		xs:   make([]float64, len(pts)),
		ys:   make([]float64, len(pts)),
	}
	for i, p := range pts {
		if i > 0 && p.X == pts[i-1].X {
			return nil, fmt.Errorf("%w: %s x=%g", ErrDuplicateKey, name, p.X)
		}
		t.xs[i] = p.X
		t.ys[i] = p.Y
	}
	return t, nil
}

// Name returns the table name.
func (t *Interpolating) Name() string { return t.name }

// Interpolate returns y at x. Keys at or beyond either end clamp to that
// end's value; an exact key returns its stored value.
func (t *Interpolating) Interpolate(x float64) float64 {
	return interpolate(t.xs, t.ys, x)
}

// Points returns a copy of the table samples in ascending X order.
func (t *Interpolating) Points() []Point {
	out := make([]Point, len(t.xs))
	for i := range t.xs {
		out[i] = Point{X: t.xs[i], Y: t.ys[i]}
	}
	return out
}

// interpolate expects xs sorted ascending and len(xs) == len(ys) > 0. NaN
// clamps to the lowest sample.
func interpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if x <= xs[0] || math.IsNaN(x) {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
