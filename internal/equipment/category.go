package equipment

import "strings"

// Category is the OLI bucket a weapon or vehicle contributes to.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySmallArms
	CategoryMachineGun
	CategoryHeavyWeapon
	CategoryAntitank
	CategoryArtillery
	CategoryAntiair
	CategoryArmour
	CategoryAircraft
)

var categoryNames = [...]string{
	CategoryUnknown:     "unknown",
	CategorySmallArms:   "small arms",
	CategoryMachineGun:  "machine gun",
	CategoryHeavyWeapon: "heavy weapon",
	CategoryAntitank:    "antitank",
	CategoryArtillery:   "artillery",
	CategoryAntiair:     "antiair",
	CategoryArmour:      "armour",
	CategoryAircraft:    "aircraft",
}

// Categories lists every scoring category in bucket order, excluding
// [CategoryUnknown].
var Categories = []Category{
	CategorySmallArms,
	CategoryMachineGun,
	CategoryHeavyWeapon,
	CategoryAntitank,
	CategoryArtillery,
	CategoryAntiair,
	CategoryArmour,
	CategoryAircraft,
}

// ParseCategory maps a definition string to a [Category]. The second return
// value is false for unrecognised input, in which case [CategoryUnknown] is
// returned.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s && Category(i) != CategoryUnknown {
			return Category(i), true
		}
	}
	return CategoryUnknown, false
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return categoryNames[CategoryUnknown]
	}
	return categoryNames[c]
}

// MarshalText implements [encoding.TextMarshaler].
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// VehicleType classifies vehicles for mobility, scoring and loss rules.
type VehicleType int

const (
	VehicleUnknown VehicleType = iota
	VehicleTank
	VehicleArmouredCar
	VehicleTruck
	VehicleArtillery
	VehicleARV
	VehicleIFV
	VehicleAPC
	VehicleCAS
	VehicleFighter
	VehicleBomber
	VehicleHelicopter
	VehicleInfantry
)

var vehicleTypeNames = [...]string{
	VehicleUnknown:     "unknown",
	VehicleTank:        "tank",
	VehicleArmouredCar: "armoured car",
	VehicleTruck:       "truck",
	VehicleArtillery:   "artillery",
	VehicleARV:         "arv",
	VehicleIFV:         "ifv",
	VehicleAPC:         "apc",
	VehicleCAS:         "cas",
	VehicleFighter:     "fighter",
	VehicleBomber:      "bomber",
	VehicleHelicopter:  "helicopter",
	VehicleInfantry:    "infantry",
}

// ParseVehicleType maps a definition string to a [VehicleType]. Unrecognised
// input yields [VehicleUnknown] and false.
func ParseVehicleType(s string) (VehicleType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range vehicleTypeNames {
		if name == s && VehicleType(i) != VehicleUnknown {
			return VehicleType(i), true
		}
	}
	return VehicleUnknown, false
}

func (v VehicleType) String() string {
	if v < 0 || int(v) >= len(vehicleTypeNames) {
		return vehicleTypeNames[VehicleUnknown]
	}
	return vehicleTypeNames[v]
}

// MarshalText implements [encoding.TextMarshaler].
func (v VehicleType) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// FixedWing reports whether v is a fixed-wing aircraft.
func (v VehicleType) FixedWing() bool {
	return v == VehicleCAS || v == VehicleFighter || v == VehicleBomber
}

// Air reports whether v is any aircraft, fixed or rotary wing.
func (v VehicleType) Air() bool {
	return v.FixedWing() || v == VehicleHelicopter
}

// heavyHull reports the types scored with the smaller punishment divisor.
func (v VehicleType) heavyHull() bool {
	return v == VehicleTank || v == VehicleArmouredCar || v == VehicleARV
}
