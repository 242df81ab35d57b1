// Package battle resolves an engagement between two sets of formations
// into a power ratio, casualty rates and advance rates, and optionally
// commits stochastic losses back into the formations.
//
// An [Engine] is stateless between calls. It only reads the lookup tables
// it was built with and the formations named in the [Input]; [Engine.Commit]
// is the single path that mutates formations, and callers must serialise
// commits against the same formations.
package battle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/lookup"
	"github.com/MrWong99/qjm/internal/observe"
)

var (
	// ErrNoPersonnel rejects a battle where either side has no ACTIVE
	// personnel; the mobility ratio is undefined.
	ErrNoPersonnel = errors.New("battle: side has no active personnel")

	// ErrNoStrength rejects a battle where either side has zero combat
	// strength or power; the vulnerability ratio is undefined.
	ErrNoStrength = errors.New("battle: side has no combat strength")

	// ErrUnknownFormation is returned by resolvers for an unknown formation id.
	ErrUnknownFormation = errors.New("battle: unknown formation")

	// ErrUnknownAircraft is returned by resolvers for an unknown sortie id.
	ErrUnknownAircraft = errors.New("battle: unknown aircraft")

	// ErrInvalidInput is returned for malformed inputs such as a negative
	// CEV or sortie count.
	ErrInvalidInput = errors.New("battle: invalid input")
)

const (
	// DefaultDispersion is the dispersion factor used when none is set.
	DefaultDispersion = 1000.0

	// DefaultEraSurpriseFactor scales surprise table values for post-1966
	// engagements.
	DefaultEraSurpriseFactor = 1.33
)

// Sortie is a number of air sorties flown by one aircraft type.
type Sortie struct {
	Vehicle *equipment.Vehicle
	Sorties int
}

// Input is everything one resolution needs. Category strings must be keys
// of the corresponding lookup tables.
type Input struct {
	Terrain        string
	Weather        string
	Season         string
	Posture        string
	AirSuperiority string
	Surprise       string
	SurpriseDays   int
	AtkCEV         float64
	DefCEV         float64

	Attackers    []*formation.Formation
	Defenders    []*formation.Formation
	AirAttackers []Sortie
	AirDefenders []Sortie

	// Recursive includes subunits when aggregating each formation.
	Recursive bool
}

// Side holds one side's intermediate values.
type Side struct {
	Personnel     int           `json:"personnel"`
	Tanks         int           `json:"tanks"`
	J             float64       `json:"j"`
	OLI           formation.OLI `json:"oli"`
	Strength      float64       `json:"strength"`
	Mobility      float64       `json:"mobility"`
	Vulnerability float64       `json:"vulnerability"`
	Power         float64       `json:"power"`
}

// Result is the outcome of a resolution. The first eight fields form the
// stable result payload.
type Result struct {
	PowerRatio          float64            `json:"powerRatio"`
	PowerAtk            float64            `json:"powerAtk"`
	PowerDef            float64            `json:"powerDef"`
	AtkPersCasualtyRate float64            `json:"atkPersCasualtyRate"`
	AtkTankCasualtyRate float64            `json:"atkTankCasualtyRate"`
	DefPersCasualtyRate float64            `json:"defPersCasualtyRate"`
	DefTankCasualtyRate float64            `json:"defTankCasualtyRate"`
	AdvanceRate         map[string]float64 `json:"advanceRate"`

	AtkArtyCasualtyRate float64 `json:"atkArtyCasualtyRate"`
	DefArtyCasualtyRate float64 `json:"defArtyCasualtyRate"`
	Attacker            Side    `json:"attacker"`
	Defender            Side    `json:"defender"`
}

// AttackerRates returns the attacker's casualty rates for [formation.Formation.InflictLosses].
func (r *Result) AttackerRates() formation.CasualtyRates {
	return formation.CasualtyRates{
		Personnel: r.AtkPersCasualtyRate,
		Armour:    r.AtkTankCasualtyRate,
		Artillery: r.AtkArtyCasualtyRate,
		Attacker:  true,
	}
}

// DefenderRates returns the defender's casualty rates.
func (r *Result) DefenderRates() formation.CasualtyRates {
	return formation.CasualtyRates{
		Personnel: r.DefPersCasualtyRate,
		Armour:    r.DefTankCasualtyRate,
		Artillery: r.DefArtyCasualtyRate,
	}
}

// Outcome is a committed resolution.
type Outcome struct {
	Result         *Result          `json:"result"`
	AttackerLosses formation.Losses `json:"attackerLosses"`
	DefenderLosses formation.Losses `json:"defenderLosses"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithDispersion sets the scenario dispersion factor.
func WithDispersion(d float64) Option {
	return func(e *Engine) { e.dispersion = d }
}

// WithEraSurpriseFactor overrides [DefaultEraSurpriseFactor].
func WithEraSurpriseFactor(f float64) Option {
	return func(e *Engine) { e.era = f }
}

// Engine resolves battles against one table set.
type Engine struct {
	tables     *lookup.Set
	dispersion float64
	era        float64
}

// New returns an engine reading tables.
func New(tables *lookup.Set, opts ...Option) *Engine {
	e := &Engine{
		tables:     tables,
		dispersion: DefaultDispersion,
		era:        DefaultEraSurpriseFactor,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Dispersion returns the configured dispersion factor.
func (e *Engine) Dispersion() float64 { return e.dispersion }

// Resolve computes the result of in without mutating any formation.
func (e *Engine) Resolve(ctx context.Context, in Input) (_ *Result, err error) {
	_, span := observe.StartSpan(ctx, "battle.Resolve")
	defer func() { observe.EndSpan(span, err) }()

	res, err := e.resolve(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("battle.power_ratio", res.PowerRatio),
		attribute.Int("battle.attackers", len(in.Attackers)),
		attribute.Int("battle.defenders", len(in.Defenders)),
	)
	return res, nil
}

// Commit resolves in and inflicts the resulting losses on every attacker
// and defender formation, drawing from rng in a fixed order: attackers in
// input order, then defenders.
func (e *Engine) Commit(ctx context.Context, in Input, rng *rand.Rand) (_ *Outcome, err error) {
	ctx, span := observe.StartSpan(ctx, "battle.Commit")
	defer func() { observe.EndSpan(span, err) }()

	res, err := e.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res}
	atk, def := res.AttackerRates(), res.DefenderRates()
	for _, f := range in.Attackers {
		out.AttackerLosses = out.AttackerLosses.Add(f.InflictLosses(atk, rng))
	}
	for _, f := range in.Defenders {
		out.DefenderLosses = out.DefenderLosses.Add(f.InflictLosses(def, rng))
	}
	observe.Logger(ctx).Info("battle committed",
		"power_ratio", res.PowerRatio,
		"attacker_personnel_lost", out.AttackerLosses.Personnel(),
		"defender_personnel_lost", out.DefenderLosses.Personnel(),
	)
	return out, nil
}

func validate(in Input) error {
	var errs []error
	if len(in.Attackers) == 0 {
		errs = append(errs, fmt.Errorf("%w: no attackers", ErrInvalidInput))
	}
	if len(in.Defenders) == 0 {
		errs = append(errs, fmt.Errorf("%w: no defenders", ErrInvalidInput))
	}
	if in.AtkCEV <= 0 || in.DefCEV <= 0 {
		errs = append(errs, fmt.Errorf("%w: cev must be positive (atk %g, def %g)", ErrInvalidInput, in.AtkCEV, in.DefCEV))
	}
	if in.SurpriseDays < 0 {
		errs = append(errs, fmt.Errorf("%w: surprise days %d", ErrInvalidInput, in.SurpriseDays))
	}
	for _, s := range append(append([]Sortie(nil), in.AirAttackers...), in.AirDefenders...) {
		if s.Vehicle == nil || s.Sorties < 0 {
			errs = append(errs, fmt.Errorf("%w: bad sortie entry", ErrInvalidInput))
		}
	}
	return errors.Join(append(errs, overlap(in)...)...)
}

// overlap reports formations listed more than once, on either side, or
// alongside one of their ancestors. Losses walk the whole tree, so any of
// these would roll the same elements twice.
func overlap(in Input) []error {
	all := slices.Concat(in.Attackers, in.Defenders)
	listed := make(map[*formation.Formation]bool, len(all))
	var errs []error
	for _, f := range all {
		if f == nil {
			errs = append(errs, fmt.Errorf("%w: nil formation", ErrInvalidInput))
			continue
		}
		if listed[f] {
			errs = append(errs, fmt.Errorf("%w: formation %q listed twice", ErrInvalidInput, f.Name))
		}
		listed[f] = true
	}
	var walk func(root, f *formation.Formation)
	walk = func(root, f *formation.Formation) {
		for _, s := range f.Subunits {
			if listed[s] {
				errs = append(errs, fmt.Errorf("%w: formation %q is part of %q", ErrInvalidInput, s.Name, root.Name))
			}
			walk(root, s)
		}
	}
	for _, f := range all {
		if f != nil {
			walk(f, f)
		}
	}
	return errs
}
