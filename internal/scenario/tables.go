package scenario

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FactorTable is a categorical factor table as served to clients.
type FactorTable struct {
	Name       string                        `json:"name"`
	Categories []string                      `json:"categories"`
	Columns    []string                      `json:"columns"`
	Rows       map[string]map[string]float64 `json:"rows"`
}

// FactorTables lists the factor table names, sorted.
func (w *Wargame) FactorTables() []string {
	tables := w.lib.Load().tables
	if tables == nil {
		return []string{}
	}
	return slices.Sorted(maps.Keys(tables.Factors()))
}

// FactorTable returns the named factor table. It does not need a loaded
// scenario.
func (w *Wargame) FactorTable(name string) (FactorTable, error) {
	tables := w.lib.Load().tables
	if tables == nil {
		return FactorTable{}, fmt.Errorf("%w: factor table %q", ErrNotFound, name)
	}
	t, ok := tables.Factors()[name]
	if !ok || t == nil {
		return FactorTable{}, fmt.Errorf("%w: factor table %q (have %s)",
			ErrNotFound, name, strings.Join(w.FactorTables(), ", "))
	}
	ft := FactorTable{
		Name:       name,
		Categories: t.Categories(),
		Columns:    t.Columns(),
		Rows:       make(map[string]map[string]float64, len(t.Categories())),
	}
	for _, cat := range ft.Categories {
		row := make(map[string]float64, len(ft.Columns))
		for _, col := range ft.Columns {
			if v, ok := t.Get(cat, col); ok {
				row[col] = v
			}
		}
		ft.Rows[cat] = row
	}
	return ft, nil
}
