package formation

import (
	"fmt"

	"github.com/MrWong99/qjm/internal/equipment"
)

// Status is the lifecycle state of a single element.
type Status int

const (
	StatusUndefined Status = iota
	StatusActive
	StatusDamaged
	StatusDestroyed
)

var statusNames = [...]string{
	StatusUndefined: "UNDEFINED",
	StatusActive:    "ACTIVE",
	StatusDamaged:   "DAMAGED",
	StatusDestroyed: "DESTROYED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements [encoding.TextMarshaler].
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("formation: unknown status %q", b)
}

// Active reports whether s counts toward strength.
func (s Status) Active() bool { return s == StatusActive }

// Ref is the catalog entry an element is scored with. Exactly one of Weapon
// and Vehicle is set.
type Ref struct {
	Weapon  *equipment.Weapon
	Vehicle *equipment.Vehicle
}

// Name returns the catalog name.
func (r Ref) Name() string {
	if r.Vehicle != nil {
		return r.Vehicle.Name
	}
	return r.Weapon.Name
}

// OLI returns the scored lethality.
func (r Ref) OLI() float64 {
	if r.Vehicle != nil {
		return r.Vehicle.OLI
	}
	return r.Weapon.OLI
}

// Category returns the OLI bucket.
func (r Ref) Category() equipment.Category {
	if r.Vehicle != nil {
		return r.Vehicle.Category
	}
	return r.Weapon.Category
}

// Personnel is one person in a formation. Equipment holds the concrete items
// assigned from the role's LINs; Refs holds the catalog entries that matched.
type Personnel struct {
	Role      string
	Rank      string
	Equipment []string
	Refs      []Ref
	Status    Status
}

func (p *Personnel) oli(o *OLI) {
	for _, r := range p.Refs {
		o.Add(r.Category(), r.OLI())
	}
}

// Vehicle is one vehicle or crew-served weapon in a formation, with its crew.
type Vehicle struct {
	Role      string
	Equipment string
	Ref       *Ref
	Crew      []*Personnel
	Status    Status
}

func (v *Vehicle) oli(o *OLI) {
	if v.Status.Active() && v.Ref != nil {
		o.Add(v.Ref.Category(), v.Ref.OLI())
	}
	for _, c := range v.Crew {
		if c.Status.Active() {
			c.oli(o)
		}
	}
}
