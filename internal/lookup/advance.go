package lookup

import (
	"fmt"
	"slices"
)

// Posture is the defense type that selects a slice of the [AdvanceRate] table.
type Posture string

const (
	HastyDefense     Posture = "Hasty Defense"
	PreparedDefense  Posture = "Prepared Defense"
	FortifiedDefense Posture = "Fortified Defense"
)

// Postures lists the accepted values in table order.
var Postures = []Posture{HastyDefense, PreparedDefense, FortifiedDefense}

// ParsePosture returns the [Posture] named s or an error wrapping
// [ErrUnknownPosture].
func ParsePosture(s string) (Posture, error) {
	p := Posture(s)
	if slices.Contains(Postures, p) {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPosture, s)
}

// DefenseType maps a battle posture category to its advance-rate bucket.
// Anything other than a prepared or fortified defense is treated as hasty.
func DefenseType(posture string) Posture {
	switch Posture(posture) {
	case PreparedDefense:
		return PreparedDefense
	case FortifiedDefense:
		return FortifiedDefense
	default:
		return HastyDefense
	}
}

// AdvanceRow is one input row of an [AdvanceRate] table.
type AdvanceRow struct {
	PowerRatio float64
	Posture    Posture
	Rates      map[string]float64
}

type postureSlice struct {
	ratios []float64
	rates  map[string][]float64
}

// AdvanceRate maps (power ratio, posture, unit type) to an advance rate in
// km/day. Power ratio is interpolated within each posture slice with the same
// clamping rule as [Interpolating].
type AdvanceRate struct {
	name   string
	units  []string
	slices map[Posture]*postureSlice
}

// NewAdvanceRate builds the table. Every row must carry a rate for every unit
// type, and each posture slice must not repeat a power ratio.
func NewAdvanceRate(name string, units []string, rows []AdvanceRow) (*AdvanceRate, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	grouped := make(map[Posture][]AdvanceRow)
	for _, r := range rows {
		if _, err := ParsePosture(string(r.Posture)); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, u := range units {
			if _, ok := r.Rates[u]; !ok {
				return nil, fmt.Errorf("%w: %s row %g/%s has no unit %q", ErrMissingKey, name, r.PowerRatio, r.Posture, u)
			}
		}
		grouped[r.Posture] = append(grouped[r.Posture], r)
	}

	t := &AdvanceRate{
		name:   name,
		units:  slices.Clone(units),
		slices: make(map[Posture]*postureSlice, len(grouped)),
	}
	for p, rs := range grouped {
		slices.SortFunc(rs, func(a, b AdvanceRow) int {
			switch {
			case a.PowerRatio < b.PowerRatio:
				return -1
			case a.PowerRatio > b.PowerRatio:
				return 1
			}
			return 0
		})
		ps := &postureSlice{rates: make(map[string][]float64, len(units))}
		for i, r := range rs {
			if i > 0 && r.PowerRatio == rs[i-1].PowerRatio {
				return nil, fmt.Errorf("%w: %s %s power ratio %g", ErrDuplicateKey, name, p, r.PowerRatio)
			}
			ps.ratios = append(ps.ratios, r.PowerRatio)
			for _, u := range units {
				ps.rates[u] = append(ps.rates[u], r.Rates[u])
			}
		}
		t.slices[p] = ps
	}
	return t, nil
}

// Units returns the unit-type columns in file order.
func (t *AdvanceRate) Units() []string { return slices.Clone(t.units) }

// Rate returns the advance rate for a single unit type.
func (t *AdvanceRate) Rate(powerRatio float64, posture Posture, unit string) (float64, error) {
	ps, err := t.slice(posture)
	if err != nil {
		return 0, err
	}
	ys, ok := ps.rates[unit]
	if !ok {
		return 0, fmt.Errorf("%w: %s unit %q", ErrMissingKey, t.name, unit)
	}
	return interpolate(ps.ratios, ys, powerRatio), nil
}

// Rates returns the advance rate for every unit type.
func (t *AdvanceRate) Rates(powerRatio float64, posture Posture) (map[string]float64, error) {
	ps, err := t.slice(posture)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(t.units))
	for _, u := range t.units {
		out[u] = interpolate(ps.ratios, ps.rates[u], powerRatio)
	}
	return out, nil
}

func (t *AdvanceRate) slice(posture Posture) (*postureSlice, error) {
	if _, err := ParsePosture(string(posture)); err != nil {
		return nil, err
	}
	ps, ok := t.slices[posture]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no rows for %s", ErrMissingKey, t.name, posture)
	}
	return ps, nil
}
