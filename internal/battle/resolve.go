package battle

import (
	"fmt"
	"math"

	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/lookup"
)

// Vehicle weights for the mobility J factor. Tanks are counted separately.
const (
	jUnarmoured = 1
	jArmoured   = 2
	jAir        = 10

	// jFactor weighs J in the mobility ratio (15 for 1970s forces).
	jFactor = 15
)

// Base casualty rates. A second historical value of 0.04 exists for both;
// these are the ones used.
const (
	baseAtkCasualty = 0.028
	baseDefCasualty = 0.015

	atkArmourMultiplier = 6.0
	defArmourMultiplier = 3.0
)

// surpriseWindow is the number of days over which surprise wears off.
const surpriseWindow = 3

// Table columns.
const (
	colTerrainMobility  = "Mobility (r_m)"
	colTerrainDefense   = "Defense Position (r_u)"
	colTerrainInfantry  = "Infantry Weapons (r_n)"
	colTerrainArtillery = "Artillery (r_wg)"
	colTerrainAir       = "Air (r_wy)"
	colTerrainTanks     = "Tanks (r_wt)"
	colTerrainCasualty  = "Casualty (r_c)"

	colWeatherMobility  = "Mobility (h_m)"
	colWeatherAttack    = "Attack (h_ua)"
	colWeatherArtillery = "Artillery (h_wg)"
	colWeatherAir       = "Air (h_wy)"
	colWeatherTanks     = "Tanks (h_wt)"
	colWeatherCasualty  = "Casualties (h_c)"

	colSeasonAttack    = "Attack (z_u)"
	colSeasonArtillery = "Artillery (z_wg)"
	colSeasonAir       = "Air (z_wy)"

	colPostureStrength      = "Strength (u_s)"
	colPostureVulnerability = "Vulnerability (u_v)"
	colPostureAtkCasualty   = "Attack Casualties (u_ca)"
	colPostureDefCasualty   = "Defense Casualties (u_cd)"

	colSurpriseMobility = "Mobility Characteristics (Msur)"
	colSurpriseVuln     = "Vulnerability (Vsur)"
	colSurprisedVuln    = "Surprised Vulnerability (Vsurd)"

	colAirMobilityDry   = "Mobility (m_yd)"
	colAirMobilityWet   = "Mobility (m_yw)"
	colAirArtillery     = "Artillery (w_yg)"
	colAirAir           = "Air (w_yy)"
	colAirVulnerability = "Vulnerability (v_y)"

	rowAirSuperiority = "Air Superiority"
	rowAirEquality    = "Air Equality"
	rowAirInferiority = "Air Inferiority"
)

// Above this weather air factor the dry mobility column applies.
const weatherDryAirThreshold = 0.5

// factors reads table values and keeps the first miss.
type factors struct {
	err error
}

func (f *factors) get(t *lookup.Standard, category, column string) float64 {
	v, err := t.Value(category, column)
	if err != nil && f.err == nil {
		f.err = err
	}
	return v
}

// decay relaxes a surprise factor toward 1 over the surprise window.
func decay(v float64, days int) float64 {
	days = min(max(days, 0), surpriseWindow)
	return 1 + (v-1)*float64(surpriseWindow-days)/surpriseWindow
}

// capAgainst halves the part of v that exceeds limit.
func capAgainst(v, limit float64) float64 {
	if v > limit {
		return limit + 0.5*(v-limit)
	}
	return v
}

// airRows returns the attacker's and defender's air superiority rows.
func airRows(state string) (atk, def string, err error) {
	switch state {
	case rowAirSuperiority:
		return rowAirSuperiority, rowAirInferiority, nil
	case rowAirInferiority:
		return rowAirInferiority, rowAirSuperiority, nil
	case rowAirEquality:
		return rowAirEquality, rowAirEquality, nil
	default:
		return "", "", fmt.Errorf("%w: air superiority %q", lookup.ErrMissingKey, state)
	}
}

// aggregate sums one side's formations and sorties.
func aggregate(forms []*formation.Formation, sorties []Sortie, recursive bool) Side {
	var s Side
	for _, f := range forms {
		s.OLI = s.OLI.Plus(f.OLI(recursive))
		s.Personnel += f.CountPersonnel(recursive)
		for _, ref := range f.ActiveRefs(recursive) {
			if ref.Vehicle == nil {
				continue
			}
			switch t := ref.Vehicle.Type; {
			case t == equipment.VehicleArmouredCar || t == equipment.VehicleTruck || t == equipment.VehicleARV:
				s.J += jUnarmoured
			case t == equipment.VehicleAPC || t == equipment.VehicleIFV || t == equipment.VehicleArtillery:
				s.J += jArmoured
			case t.Air():
				s.J += jAir
			case t == equipment.VehicleTank:
				s.Tanks++
			}
		}
	}
	for _, so := range sorties {
		s.OLI.Aircraft += so.Vehicle.OLI * float64(so.Sorties)
	}
	return s
}

// compressVS flattens vulnerability-to-strength ratios above 0.3.
func compressVS(vs float64) float64 {
	if vs > 0.3 {
		return 0.3 + 0.1*(vs-0.3)
	}
	return vs
}

func (e *Engine) effectiveness(v, s float64) float64 {
	return max(1-compressVS(v/s)*e.dispersion/3000, 0.6)
}

func (e *Engine) resolve(in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	t := e.tables

	atk := aggregate(in.Attackers, in.AirAttackers, in.Recursive)
	def := aggregate(in.Defenders, in.AirDefenders, in.Recursive)
	if atk.Personnel == 0 || def.Personnel == 0 {
		return nil, fmt.Errorf("%w: attacker %d, defender %d", ErrNoPersonnel, atk.Personnel, def.Personnel)
	}

	// Cross-capping. Armour is never modified, aircraft only after antiair.
	atk.OLI.Antitank = capAgainst(atk.OLI.Antitank, def.OLI.Armour)
	def.OLI.Antitank = capAgainst(def.OLI.Antitank, atk.OLI.Armour)
	atk.OLI.Antiair = capAgainst(atk.OLI.Antiair, def.OLI.Aircraft)
	def.OLI.Antiair = capAgainst(def.OLI.Antiair, atk.OLI.Aircraft)
	for _, o := range []*formation.OLI{&atk.OLI, &def.OLI} {
		ground := o.Total() - o.Aircraft
		o.Aircraft = min(capAgainst(o.Aircraft, ground), 3*ground)
	}

	var f factors
	rm := f.get(t.Terrain, in.Terrain, colTerrainMobility)
	rud := f.get(t.Terrain, in.Terrain, colTerrainDefense)
	rn := f.get(t.Terrain, in.Terrain, colTerrainInfantry)
	rwg := f.get(t.Terrain, in.Terrain, colTerrainArtillery)
	rwy := f.get(t.Terrain, in.Terrain, colTerrainAir)
	rwi := f.get(t.Terrain, in.Terrain, colTerrainTanks)
	rc := f.get(t.Terrain, in.Terrain, colTerrainCasualty)

	hm := f.get(t.Weather, in.Weather, colWeatherMobility)
	hua := f.get(t.Weather, in.Weather, colWeatherAttack)
	hwg := f.get(t.Weather, in.Weather, colWeatherArtillery)
	hwy := f.get(t.Weather, in.Weather, colWeatherAir)
	hwi := f.get(t.Weather, in.Weather, colWeatherTanks)
	hc := f.get(t.Weather, in.Weather, colWeatherCasualty)

	zua := f.get(t.Season, in.Season, colSeasonAttack)
	zwg := f.get(t.Season, in.Season, colSeasonArtillery)
	zwy := f.get(t.Season, in.Season, colSeasonAir)

	usd := f.get(t.Posture, in.Posture, colPostureStrength)
	uvd := f.get(t.Posture, in.Posture, colPostureVulnerability)
	uca := f.get(t.Posture, in.Posture, colPostureAtkCasualty)
	ucd := f.get(t.Posture, in.Posture, colPostureDefCasualty)

	days := in.SurpriseDays
	msur := decay(f.get(t.Surprise, in.Surprise, colSurpriseMobility)*e.era, days)
	vsura := decay(f.get(t.Surprise, in.Surprise, colSurpriseVuln)*e.era, days)
	vsurd := decay(f.get(t.Surprise, in.Surprise, colSurprisedVuln)*e.era, days)
	suC, suCT := vsurd, vsurd

	atkRow, defRow, err := airRows(in.AirSuperiority)
	if err != nil {
		return nil, err
	}
	mobCol := colAirMobilityWet
	if hwy > weatherDryAirThreshold {
		mobCol = colAirMobilityDry
	}
	atkMy := f.get(t.AirSuperiority, atkRow, mobCol)
	defMy := f.get(t.AirSuperiority, defRow, mobCol)
	wyga := f.get(t.AirSuperiority, atkRow, colAirArtillery)
	wygd := f.get(t.AirSuperiority, defRow, colAirArtillery)
	wyya := f.get(t.AirSuperiority, atkRow, colAirAir)
	wyyd := f.get(t.AirSuperiority, defRow, colAirAir)
	vya := f.get(t.AirSuperiority, atkRow, colAirVulnerability)
	vyd := f.get(t.AirSuperiority, defRow, colAirVulnerability)
	if f.err != nil {
		return nil, fmt.Errorf("battle: %w", f.err)
	}

	// Attacker terrain and weather defence, defender posture and all
	// obstacle factors are neutral.
	const rua, hud, zud, usa, uva, vr = 1.0, 1.0, 1.0, 1.0, 1.0, 1.0

	strength := func(o formation.OLI, wyg, wyy float64) float64 {
		return (o.SmallArms+o.MachineGun+o.HeavyWeapon)*rn +
			o.Antitank*rn +
			(o.Artillery+o.Antiair)*rwg*hwg*zwg*wyg +
			o.Armour*rwi*hwi +
			o.Aircraft*rwy*hwy*zwy*wyy
	}
	atk.Strength = strength(atk.OLI, wyga, wyya)
	def.Strength = strength(def.OLI, wygd, wyyd)
	if atk.Strength <= 0 || def.Strength <= 0 {
		return nil, fmt.Errorf("%w: attacker %g, defender %g", ErrNoStrength, atk.Strength, def.Strength)
	}

	na, nd := float64(atk.Personnel), float64(def.Personnel)
	atkMob := (na + jFactor*atk.J + atk.OLI.Armour) * atkMy / na
	defMob := (nd + jFactor*def.J + def.OLI.Armour) * defMy / nd
	bigM := math.Sqrt(atkMob/defMob) * msur
	atk.Mobility = bigM - (1-rm*hm)*(bigM-1)
	def.Mobility = 1.0

	atkV := na * uva / rua * math.Sqrt(def.Strength/atk.Strength) * vya * vr * vsura
	defV := nd * uvd / rud * math.Sqrt(atk.Strength/def.Strength) * vyd * vr * vsurd
	atk.Vulnerability = e.effectiveness(atkV, atk.Strength)
	def.Vulnerability = e.effectiveness(defV, def.Strength)

	atk.Power = atk.Strength * atk.Mobility * usa * rua * hua * zua * atk.Vulnerability * in.AtkCEV
	def.Power = def.Strength * def.Mobility * usd * rud * hud * zud * def.Vulnerability * in.DefCEV
	if atk.Power <= 0 || def.Power <= 0 {
		return nil, fmt.Errorf("%w: attacker power %g, defender power %g", ErrNoStrength, atk.Power, def.Power)
	}
	pr := atk.Power / def.Power

	ca := baseAtkCasualty * rc * hc * uca * t.StrengthSize.Interpolate(na) * t.Opposition.Interpolate(pr)
	cia := ca * atkArmourMultiplier * t.StrengthSizeArmour.Interpolate(float64(atk.Tanks)) * in.DefCEV
	cga := ca * in.DefCEV

	cd := baseDefCasualty * rc * hc * ucd * t.StrengthSize.Interpolate(nd) * t.Opposition.Interpolate(1/pr) * suC
	cid := cd * defArmourMultiplier * t.StrengthSizeArmour.Interpolate(float64(def.Tanks)) * suCT * in.AtkCEV
	cgd := cd * in.AtkCEV

	adv, err := t.AdvanceRate.Rates(pr, lookup.DefenseType(in.Posture))
	if err != nil {
		return nil, fmt.Errorf("battle: %w", err)
	}

	return &Result{
		PowerRatio:          pr,
		PowerAtk:            atk.Power,
		PowerDef:            def.Power,
		AtkPersCasualtyRate: ca,
		AtkTankCasualtyRate: cia,
		DefPersCasualtyRate: cd,
		DefTankCasualtyRate: cid,
		AdvanceRate:         adv,
		AtkArtyCasualtyRate: cga,
		DefArtyCasualtyRate: cgd,
		Attacker:            atk,
		Defender:            def,
	}, nil
}
