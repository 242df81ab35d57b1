// Package formation instantiates organization templates into live unit
// trees and provides the aggregate views and the single mutation (losses)
// the battle engine works with.
//
// Aggregates such as lethality and headcount are always computed by walking
// the tree; nothing derived from element status is cached.
package formation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/toe"
)

// DefaultColor is used for formations whose faction has no colour.
const DefaultColor = "#5ea6f2"

// Catalog resolves concrete equipment names to scored catalog entries.
// *equipment.Catalog satisfies it.
type Catalog interface {
	Weapon(name string) (*equipment.Weapon, bool)
	Vehicle(name string) (*equipment.Vehicle, bool)
}

type suggester interface {
	Suggest(name string, n int) []string
}

// Formation is an instantiated unit: a tree of subunits, vehicles and
// personnel. Only [Formation.InflictLosses] and [Formation.ApplyStatuses]
// mutate element state; callers serialise them.
type Formation struct {
	ID              string
	Name            string
	ShortName       string
	ParentShortName string
	Nation          string
	SIDC            string
	TemplateID      string
	Faction         string
	Color           string

	Subunits  []*Formation
	Vehicles  []*Vehicle
	Personnel []*Personnel

	mu        sync.Mutex
	snapshots map[string]Snapshot
}

// New deep-instantiates t. Subunits are named "n/shortName" after their
// position. Every element starts ACTIVE with its equipment resolved from
// available.
func New(t *toe.Template, name, shortName, parentShortName string, available []string) *Formation {
	f := &Formation{
		ID:              uuid.NewString(),
		Name:            name,
		ShortName:       shortName,
		ParentShortName: parentShortName,
		Nation:          t.Nation,
		SIDC:            t.SIDC,
		TemplateID:      t.ID,
		Color:           DefaultColor,
		snapshots:       make(map[string]Snapshot),
	}

	if !t.Leaf() {
		for i, sub := range t.Subunits {
			n := fmt.Sprintf("%d/%s", i+1, shortName)
			f.Subunits = append(f.Subunits, New(sub, n, n, shortName, available))
		}
		return f
	}

	for _, vr := range t.Vehicles {
		v := &Vehicle{
			Role:      vr.Name,
			Equipment: vr.LIN.Assign(available),
			Status:    StatusActive,
		}
		for _, c := range vr.Crew {
			v.Crew = append(v.Crew, newPersonnel(c, available))
		}
		f.Vehicles = append(f.Vehicles, v)
	}
	for _, r := range t.Personnel {
		f.Personnel = append(f.Personnel, newPersonnel(r, available))
	}
	return f
}

func newPersonnel(r toe.Role, available []string) *Personnel {
	p := &Personnel{Role: r.Name, Rank: r.Rank, Status: StatusActive}
	for _, lin := range r.Equipment {
		p.Equipment = append(p.Equipment, lin.Assign(available))
	}
	return p
}

func (f *Formation) String() string {
	return fmt.Sprintf("Formation(%s/%s, %s)", f.ShortName, f.ParentShortName, f.Nation)
}

// Walk calls fn for f and every subunit, parents before children.
func (f *Formation) Walk(fn func(*Formation)) {
	fn(f)
	for _, s := range f.Subunits {
		s.Walk(fn)
	}
}

// SetFaction sets faction and colour on the whole tree. An empty colour
// keeps [DefaultColor].
func (f *Formation) SetFaction(faction, color string) {
	if color == "" {
		color = DefaultColor
	}
	f.Walk(func(n *Formation) {
		n.Faction = faction
		n.Color = color
	})
}

// AddQJMWeapons binds every element in the tree to its catalog entry. The
// vehicle catalog is searched before the weapon catalog. Misses are logged
// and the element contributes no lethality.
func (f *Formation) AddQJMWeapons(c Catalog) (missing int) {
	resolve := func(name string) *Ref {
		if v, ok := c.Vehicle(name); ok {
			return &Ref{Vehicle: v}
		}
		if w, ok := c.Weapon(name); ok {
			return &Ref{Weapon: w}
		}
		missing++
		attrs := []any{"formation", f.Name, "equipment", name}
		if s, ok := c.(suggester); ok {
			if hints := s.Suggest(name, 3); len(hints) > 0 {
				attrs = append(attrs, "did_you_mean", hints)
			}
		}
		slog.Warn("formation: equipment not in catalog", attrs...)
		return nil
	}
	bind := func(p *Personnel) {
		p.Refs = p.Refs[:0]
		for _, name := range p.Equipment {
			if r := resolve(name); r != nil {
				p.Refs = append(p.Refs, *r)
			}
		}
	}

	for _, v := range f.Vehicles {
		v.Ref = resolve(v.Equipment)
		for _, crew := range v.Crew {
			bind(crew)
		}
	}
	for _, p := range f.Personnel {
		bind(p)
	}
	for _, s := range f.Subunits {
		missing += s.AddQJMWeapons(c)
	}
	return missing
}

// OLI sums the lethality of every ACTIVE element. With recursive false only
// this formation's own vehicles, crews and personnel are counted.
func (f *Formation) OLI(recursive bool) OLI {
	var o OLI
	for _, v := range f.Vehicles {
		v.oli(&o)
	}
	for _, p := range f.Personnel {
		if p.Status.Active() {
			p.oli(&o)
		}
	}
	if recursive {
		for _, s := range f.Subunits {
			o = o.Plus(s.OLI(true))
		}
	}
	return o
}

// CountPersonnel counts ACTIVE personnel and vehicle crew.
func (f *Formation) CountPersonnel(recursive bool) int {
	n := 0
	for _, v := range f.Vehicles {
		for _, c := range v.Crew {
			if c.Status.Active() {
				n++
			}
		}
	}
	for _, p := range f.Personnel {
		if p.Status.Active() {
			n++
		}
	}
	if recursive {
		for _, s := range f.Subunits {
			n += s.CountPersonnel(true)
		}
	}
	return n
}

// CountVehicles counts ACTIVE vehicle elements.
func (f *Formation) CountVehicles(recursive bool) int {
	n := 0
	for _, v := range f.Vehicles {
		if v.Status.Active() {
			n++
		}
	}
	if recursive {
		for _, s := range f.Subunits {
			n += s.CountVehicles(true)
		}
	}
	return n
}

// ActiveRefs returns the catalog entries of every ACTIVE element, in tree
// order: vehicles (each followed by its crew's items), then personnel.
func (f *Formation) ActiveRefs(recursive bool) []Ref {
	var out []Ref
	for _, v := range f.Vehicles {
		if v.Status.Active() && v.Ref != nil {
			out = append(out, *v.Ref)
		}
		for _, c := range v.Crew {
			if c.Status.Active() {
				out = append(out, c.Refs...)
			}
		}
	}
	for _, p := range f.Personnel {
		if p.Status.Active() {
			out = append(out, p.Refs...)
		}
	}
	if recursive {
		for _, s := range f.Subunits {
			out = append(out, s.ActiveRefs(true)...)
		}
	}
	return out
}

// Statuses returns this formation's element statuses, excluding subunits,
// in a fixed order: each vehicle followed by its crew, then personnel.
func (f *Formation) Statuses() []Status {
	var out []Status
	for _, v := range f.Vehicles {
		out = append(out, v.Status)
		for _, c := range v.Crew {
			out = append(out, c.Status)
		}
	}
	for _, p := range f.Personnel {
		out = append(out, p.Status)
	}
	return out
}

// ApplyStatuses restores statuses captured by [Formation.Statuses] on a
// formation of the same shape.
func (f *Formation) ApplyStatuses(s []Status) error {
	want := len(f.Vehicles) + len(f.Personnel)
	for _, v := range f.Vehicles {
		want += len(v.Crew)
	}
	if len(s) != want {
		return fmt.Errorf("formation: %s has %d elements, state has %d", f.Name, want, len(s))
	}
	i := 0
	for _, v := range f.Vehicles {
		v.Status = s[i]
		i++
		for _, c := range v.Crew {
			c.Status = s[i]
			i++
		}
	}
	for _, p := range f.Personnel {
		p.Status = s[i]
		i++
	}
	return nil
}
