package formation

import "github.com/MrWong99/qjm/internal/equipment"

// OLI is a lethality total split into the eight scoring categories.
type OLI struct {
	SmallArms   float64 `json:"smallArms"`
	MachineGun  float64 `json:"machineGun"`
	HeavyWeapon float64 `json:"heavyWeapon"`
	Antitank    float64 `json:"antitank"`
	Artillery   float64 `json:"artillery"`
	Antiair     float64 `json:"antiair"`
	Armour      float64 `json:"armour"`
	Aircraft    float64 `json:"aircraft"`
}

func (o *OLI) bucket(c equipment.Category) *float64 {
	switch c {
	case equipment.CategorySmallArms:
		return &o.SmallArms
	case equipment.CategoryMachineGun:
		return &o.MachineGun
	case equipment.CategoryHeavyWeapon:
		return &o.HeavyWeapon
	case equipment.CategoryAntitank:
		return &o.Antitank
	case equipment.CategoryArtillery:
		return &o.Artillery
	case equipment.CategoryAntiair:
		return &o.Antiair
	case equipment.CategoryArmour:
		return &o.Armour
	case equipment.CategoryAircraft:
		return &o.Aircraft
	default:
		return nil
	}
}

// Add adds v to the bucket for c. Unknown categories are dropped.
func (o *OLI) Add(c equipment.Category, v float64) {
	if b := o.bucket(c); b != nil {
		*b += v
	}
}

// Get returns the bucket for c.
func (o OLI) Get(c equipment.Category) float64 {
	if b := o.bucket(c); b != nil {
		return *b
	}
	return 0
}

// Plus returns the bucket-wise sum of o and p.
func (o OLI) Plus(p OLI) OLI {
	return OLI{
		SmallArms:   o.SmallArms + p.SmallArms,
		MachineGun:  o.MachineGun + p.MachineGun,
		HeavyWeapon: o.HeavyWeapon + p.HeavyWeapon,
		Antitank:    o.Antitank + p.Antitank,
		Artillery:   o.Artillery + p.Artillery,
		Antiair:     o.Antiair + p.Antiair,
		Armour:      o.Armour + p.Armour,
		Aircraft:    o.Aircraft + p.Aircraft,
	}
}

// Total is the sum of all buckets.
func (o OLI) Total() float64 {
	return o.SmallArms + o.MachineGun + o.HeavyWeapon + o.Antitank +
		o.Artillery + o.Antiair + o.Armour + o.Aircraft
}
