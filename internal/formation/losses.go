package formation

import (
	"log/slog"
	"math/rand/v2"

	"github.com/MrWong99/qjm/internal/equipment"
)

// Loss-rate factors applied to the base casualty rates.
const (
	lossAPC            = 1.0
	lossInfantryWeapon = 1.5
	lossAntitank       = 1.0
	lossFixedWing      = 1.0
	lossRotaryWing     = 2.0
	lossVehicle        = 0.5
	lossArtyTowed      = 0.1
	lossArtySP         = 0.3
)

// Recovery rates that do not depend on side.
const (
	recoverPersonnel = 0.75
	recoverArtillery = 0.5
	recoverVehicle   = 0.5
)

// CasualtyRates are one side's base loss probabilities for a battle.
type CasualtyRates struct {
	Personnel float64 `json:"personnel"`
	Armour    float64 `json:"armour"`
	Artillery float64 `json:"artillery"`
	Attacker  bool    `json:"attacker"`
}

// tankRecovery is the chance a hit tank is only damaged.
func (r CasualtyRates) tankRecovery() float64 {
	if r.Attacker {
		return 0.5
	}
	return 0.3
}

// vehicleRoll returns the hit and recovery probabilities for a vehicle
// element bound to ref.
func (r CasualtyRates) vehicleRoll(ref *Ref) (hit, recovery float64) {
	tank := r.tankRecovery()
	light := 0.5 * tank
	if ref == nil {
		return lossVehicle * r.Personnel, recoverVehicle
	}
	if ref.Vehicle == nil {
		switch ref.Weapon.Category {
		case equipment.CategoryArtillery, equipment.CategoryAntiair:
			return lossArtyTowed * r.Artillery, recoverArtillery
		case equipment.CategoryAntitank:
			return lossAntitank * r.Personnel, light
		default:
			return lossInfantryWeapon * r.Personnel, light
		}
	}
	switch t := ref.Vehicle.Type; {
	case t == equipment.VehicleTank:
		return r.Armour, tank
	case t == equipment.VehicleAPC || t == equipment.VehicleIFV:
		return lossAPC * r.Armour, tank
	case t == equipment.VehicleArtillery:
		return lossArtySP * r.Artillery, recoverArtillery
	case t.FixedWing():
		return lossFixedWing * r.Personnel, light
	case t == equipment.VehicleHelicopter:
		return lossRotaryWing * r.Personnel, light
	case t == equipment.VehicleInfantry:
		return lossInfantryWeapon * r.Personnel, light
	default:
		return lossVehicle * r.Personnel, recoverVehicle
	}
}

// Losses tallies the outcome of one [Formation.InflictLosses] call.
type Losses struct {
	PersonnelDamaged   int `json:"personnelDamaged"`
	PersonnelDestroyed int `json:"personnelDestroyed"`
	VehiclesDamaged    int `json:"vehiclesDamaged"`
	VehiclesDestroyed  int `json:"vehiclesDestroyed"`
}

// Add returns the sum of l and m.
func (l Losses) Add(m Losses) Losses {
	return Losses{
		PersonnelDamaged:   l.PersonnelDamaged + m.PersonnelDamaged,
		PersonnelDestroyed: l.PersonnelDestroyed + m.PersonnelDestroyed,
		VehiclesDamaged:    l.VehiclesDamaged + m.VehiclesDamaged,
		VehiclesDestroyed:  l.VehiclesDestroyed + m.VehiclesDestroyed,
	}
}

// Personnel is the number of personnel taken out of action.
func (l Losses) Personnel() int { return l.PersonnelDamaged + l.PersonnelDestroyed }

// Vehicles is the number of vehicles taken out of action.
func (l Losses) Vehicles() int { return l.VehiclesDamaged + l.VehiclesDestroyed }

// roll draws a hit against hit and, on a hit, a second draw against recovery.
func roll(rng *rand.Rand, hit, recovery float64) Status {
	if rng.Float64() >= hit {
		return StatusActive
	}
	if rng.Float64() < recovery {
		return StatusDamaged
	}
	return StatusDestroyed
}

// InflictLosses rolls every ACTIVE element of the tree against rates and
// updates statuses in place. The walk order is fixed (vehicles with their
// crew, then personnel, then subunits), so a seeded rng reproduces results.
func (f *Formation) InflictLosses(rates CasualtyRates, rng *rand.Rand) Losses {
	var l Losses
	person := func(p *Personnel) {
		if !p.Status.Active() {
			return
		}
		p.Status = roll(rng, rates.Personnel, recoverPersonnel)
		switch p.Status {
		case StatusDamaged:
			l.PersonnelDamaged++
		case StatusDestroyed:
			l.PersonnelDestroyed++
		}
	}

	for _, v := range f.Vehicles {
		if !v.Status.Active() {
			continue
		}
		if v.Ref == nil {
			slog.Warn("formation: unresolved vehicle uses generic loss rate", "formation", f.Name, "equipment", v.Equipment)
		}
		hit, recovery := rates.vehicleRoll(v.Ref)
		v.Status = roll(rng, hit, recovery)
		if v.Status.Active() {
			continue
		}
		if v.Status == StatusDamaged {
			l.VehiclesDamaged++
		} else {
			l.VehiclesDestroyed++
		}
		for _, c := range v.Crew {
			person(c)
		}
	}
	for _, p := range f.Personnel {
		person(p)
	}
	for _, s := range f.Subunits {
		l = l.Add(s.InflictLosses(rates, rng))
	}
	return l
}
