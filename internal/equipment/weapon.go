package equipment

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/qjm/internal/lookup"
)

// weaponNormalisation divides the weapon factor product into an OLI.
const weaponNormalisation = 4000.0

// WeaponDef is the on-disk weapon definition.
type WeaponDef struct {
	Name        string  `yaml:"name"`
	Category    string  `yaml:"category"`
	Crew        int     `yaml:"crew"`
	Calibre     float64 `yaml:"calibre"`
	ROFType     string  `yaml:"rof_type"`
	WeaponType  string  `yaml:"weap_type"`
	ROF         float64 `yaml:"ROF"`
	PTS         float64 `yaml:"PTS"`
	RIE         float64 `yaml:"RIE"`
	EffRange    float64 `yaml:"eff_range"`
	MuzzleVel   float64 `yaml:"muzzle_vel"`
	Accuracy    float64 `yaml:"accuracy"`
	Reliability float64 `yaml:"reliability"`
	SPArty      string  `yaml:"sp_arty"`
	Guidance    string  `yaml:"guidance"`
	Barrels     int     `yaml:"barrels"`
	Charges     int     `yaml:"arty_charges"`
	Description string  `yaml:"description"`
}

// weaponRequired lists the definition keys that must be present.
var weaponRequired = []string{
	"name", "category", "crew", "calibre", "rof_type", "weap_type", "ROF", "PTS",
	"RIE", "eff_range", "muzzle_vel", "accuracy", "reliability", "sp_arty",
	"guidance", "barrels", "arty_charges",
}

// Curves are the interpolation tables used by weapon and vehicle scoring.
type Curves struct {
	RF  *lookup.Interpolating
	PTS *lookup.Interpolating
	RFE *lookup.Interpolating
	ASE *lookup.Interpolating
}

// CurvesFrom picks the scoring curves out of a loaded table set.
func CurvesFrom(s *lookup.Set) Curves {
	return Curves{RF: s.RF, PTS: s.PTS, RFE: s.RFE, ASE: s.ASE}
}

// WeaponFactors holds the individual effects that make up a weapon OLI.
type WeaponFactors struct {
	RF  float64 `json:"rf"`
	PTS float64 `json:"pts"`
	RIE float64 `json:"rie"`
	RN  float64 `json:"rn"`
	A   float64 `json:"a"`
	RL  float64 `json:"rl"`
	SME float64 `json:"sme"`
	MBE float64 `json:"mbe"`
	MCE float64 `json:"mce"`
	GE  float64 `json:"ge"`
}

// Weapon is a scored weapon. It is immutable after [NewWeapon] returns.
type Weapon struct {
	Name        string
	Category    Category
	Crew        int
	Description string
	Factors     WeaponFactors
	OLI         float64
}

// NewWeapon scores def using the given curves.
func NewWeapon(def WeaponDef, c Curves) (*Weapon, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	if err := checkFinite(def.Name,
		numField{"calibre", def.Calibre}, numField{"ROF", def.ROF},
		numField{"PTS", def.PTS}, numField{"RIE", def.RIE},
		numField{"eff_range", def.EffRange}, numField{"muzzle_vel", def.MuzzleVel},
		numField{"accuracy", def.Accuracy}, numField{"reliability", def.Reliability},
	); err != nil {
		return nil, err
	}
	cat, ok := ParseCategory(def.Category)
	if !ok {
		slog.Warn("equipment: unknown weapon category", "weapon", def.Name, "category", def.Category)
	}

	f := WeaponFactors{
		RF:  rateOfFire(def, c.RF),
		PTS: def.PTS,
		RIE: def.RIE,
		RN:  rangeEffect(def),
		A:   def.Accuracy,
		RL:  def.Reliability,
		SME: selfPropelled(def.SPArty),
		MBE: multiBarrel(def.Barrels),
		MCE: multiCharge(def.Charges),
		GE:  guidance(def.Guidance),
	}
	if f.PTS == 0 {
		f.PTS = c.PTS.Interpolate(def.Calibre)
	}

	oli := f.RF * f.PTS * f.RIE * f.RN * f.A * f.RL * f.SME * f.MBE * f.MCE * f.GE / weaponNormalisation
	desc := def.Description
	if desc == "" {
		desc = "No Description"
	}
	return &Weapon{
		Name:        def.Name,
		Category:    cat,
		Crew:        def.Crew,
		Description: desc,
		Factors:     f,
		OLI:         oli,
	}, nil
}

func rateOfFire(def WeaponDef, rf *lookup.Interpolating) float64 {
	switch def.ROFType {
	case "crewed":
		return 4 * def.ROF
	case "calibre":
		return rf.Interpolate(def.Calibre)
	case "mortar":
		return 1.2 * rf.Interpolate(def.Calibre)
	default:
		return 2 * def.ROF
	}
}

func rangeEffect(def WeaponDef) float64 {
	byRange := 1 + math.Sqrt(0.001*def.EffRange)
	byVelocity := 0.007 * def.MuzzleVel * 0.1 * def.Calibre

	var rn float64
	switch def.WeaponType {
	case "bomb":
		rn = 0.007 * 250 * 0.1 * def.Calibre
	case "rocket", "mortar":
		rn = math.Max(byRange, byVelocity)
	default:
		if byRange > byVelocity {
			rn = (byRange + byVelocity) / 2
		} else {
			rn = byVelocity
		}
	}
	return math.Max(rn, 1)
}

func selfPropelled(class string) float64 {
	switch class {
	case "enclosed":
		return 1.10
	case "open":
		return 1.05
	default:
		return 1.0
	}
}

func guidance(class string) float64 {
	switch class {
	case "wire", "radar":
		return 1.5
	case "beam", "fire and forget":
		return 2.0
	default:
		return 1.0
	}
}

// multiBarrel is the harmonic sum 1 + 1/2 + ... + 1/barrels.
func multiBarrel(barrels int) float64 {
	var sum float64
	for i := range barrels {
		sum += 1 / float64(i+1)
	}
	return sum
}

// multiCharge adds a diminishing bonus for every charge beyond the second,
// capped at 1.15.
func multiCharge(charges int) float64 {
	mce := 1.0
	if charges <= 2 {
		return mce
	}
	for i := range charges - 2 {
		mce += math.Max(0.05-0.01*float64(i), 0.01)
	}
	return math.Min(mce, 1.15)
}
