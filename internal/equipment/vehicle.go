package equipment

import (
	"fmt"
	"log/slog"
	"math"
)

// VehicleDef is the on-disk vehicle definition.
type VehicleDef struct {
	Name        string   `yaml:"name"`
	Crew        int      `yaml:"crew"`
	VehicleType string   `yaml:"vehicle_type"`
	Category    string   `yaml:"category"`
	Weapons     []string `yaml:"weapons"`
	Speed       float64  `yaml:"speed"`
	OpRange     float64  `yaml:"op_range"`
	Weight      float64  `yaml:"weight"`
	FCE         float64  `yaml:"fce"`
	Ammo        float64  `yaml:"ammo"`
	Mobility    string   `yaml:"mobility"`
	Amphibious  string   `yaml:"amphibious"`
	Ceiling     float64  `yaml:"ceiling"`
	Description string   `yaml:"description"`
}

var vehicleRequired = []string{
	"name", "crew", "vehicle_type", "category", "weapons", "speed", "op_range",
	"weight", "fce", "ammo", "mobility", "amphibious", "ceiling",
}

// VehicleFactors holds the individual effects that make up a vehicle OLI.
type VehicleFactors struct {
	Weapons float64 `json:"weapons"`
	MOF     float64 `json:"mof"`
	RA      float64 `json:"ra"`
	PF      float64 `json:"pf"`
	RFE     float64 `json:"rfe"`
	FCE     float64 `json:"fce"`
	ASE     float64 `json:"ase"`
	WHT     float64 `json:"wht"`
	AME     float64 `json:"ame"`
	CL      float64 `json:"cl"`
	W       float64 `json:"w"`
}

// Vehicle is a scored vehicle. Weapons holds the resolved weapons in the
// order they were listed; the first is the primary weapon.
type Vehicle struct {
	Name        string
	Type        VehicleType
	Category    Category
	Crew        int
	Weapons     []*Weapon
	Description string
	Factors     VehicleFactors
	OLI         float64
}

// WeaponLookup resolves weapon names during vehicle scoring.
type WeaponLookup func(name string) (*Weapon, bool)

// NewVehicle scores def. Every listed weapon must resolve through weapons;
// a missing one fails the vehicle with [ErrUnknownWeapon].
func NewVehicle(def VehicleDef, weapons WeaponLookup, c Curves) (*Vehicle, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	if err := checkFinite(def.Name,
		numField{"speed", def.Speed}, numField{"op_range", def.OpRange},
		numField{"weight", def.Weight}, numField{"fce", def.FCE},
		numField{"ammo", def.Ammo}, numField{"ceiling", def.Ceiling},
	); err != nil {
		return nil, err
	}
	vt, ok := ParseVehicleType(def.VehicleType)
	if !ok {
		slog.Warn("equipment: unknown vehicle type", "vehicle", def.Name, "vehicle_type", def.VehicleType)
	}
	cat, ok := ParseCategory(def.Category)
	if !ok {
		slog.Warn("equipment: unknown vehicle category", "vehicle", def.Name, "category", def.Category)
	}

	resolved := make([]*Weapon, 0, len(def.Weapons))
	for _, name := range def.Weapons {
		w, ok := weapons(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q on vehicle %q", ErrUnknownWeapon, name, def.Name)
		}
		resolved = append(resolved, w)
	}

	var f VehicleFactors
	for i, w := range resolved {
		f.Weapons += w.OLI / float64(1+i)
	}
	if vt != VehicleCAS {
		f.MOF = 0.15 * math.Sqrt(def.Speed)
	}
	f.RA = 0.08 * math.Sqrt(def.OpRange)

	divisor := 8.0
	if vt.heavyHull() {
		divisor = 4.0
	}
	f.PF = def.Weight / divisor * math.Sqrt(2*def.Weight)

	var primaryRF float64
	if len(resolved) > 0 {
		primaryRF = resolved[0].Factors.RF
	}
	f.RFE = c.RFE.Interpolate(primaryRF)
	f.FCE = def.FCE

	var ammoRatio float64
	if primaryRF > 0 {
		ammoRatio = primaryRF / def.Ammo
	}
	f.ASE = c.ASE.Interpolate(ammoRatio)

	switch def.Mobility {
	case "wheeled":
		f.WHT = 0.90
	case "halftrack":
		f.WHT = 0.95
	default:
		f.WHT = 1.0
	}
	switch def.Amphibious {
	case "amphibious":
		f.AME = 1.10
	case "snorkel":
		f.AME = 1.05
	default:
		f.AME = 1.0
	}
	f.CL = ceilingEffect(vt, def.Ceiling)

	f.W = f.Weapons*f.MOF*f.RA + f.PF
	if vt == VehicleHelicopter {
		f.W = (f.W + f.Weapons) / 2
	}

	desc := def.Description
	if desc == "" {
		desc = "No Description"
	}
	return &Vehicle{
		Name:        def.Name,
		Type:        vt,
		Category:    cat,
		Crew:        def.Crew,
		Weapons:     resolved,
		Description: desc,
		Factors:     f,
		OLI:         f.W * f.RFE * f.FCE * f.ASE * f.AME * f.CL * f.WHT,
	}, nil
}

// ceilingEffect applies to aircraft only. Ceiling is in feet; the fixed-wing
// curve is expressed in thousands of feet around a 30,000 ft reference.
func ceilingEffect(vt VehicleType, ceiling float64) float64 {
	switch {
	case vt == VehicleHelicopter:
		return 0.6
	case vt.FixedWing():
		kft := ceiling / 1000
		if ceiling <= 30000 {
			return 1 - 0.02*(30-kft)
		}
		return 1 + 0.005*kft
	default:
		return 1.0
	}
}
