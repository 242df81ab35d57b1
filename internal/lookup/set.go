package lookup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Table file names inside a tables directory.
const (
	TerrainFile            = "TerrainFactors.csv"
	WeatherFile            = "WeatherFactors.csv"
	SeasonFile             = "SeasonFactors.csv"
	PostureFile            = "PostureFactors.csv"
	SurpriseFile           = "SurpriseFactors.csv"
	AirSuperiorityFile     = "AirSuperiorityFactors.csv"
	OppositionFile         = "OppositionFactor.csv"
	StrengthSizeFile       = "StrengthSize.csv"
	StrengthSizeArmourFile = "StrengthSizeArmour.csv"
	RFFile                 = "RF.csv"
	PTSFile                = "PTS.csv"
	RFEFile                = "RFE.csv"
	ASEFile                = "ASE.csv"
	AdvanceRateFile        = "AdvanceRate.csv"
)

// Set is the complete collection of tables used by equipment scoring and
// battle resolution. It is assembled once at startup and passed by pointer;
// nothing in it is mutated afterwards.
type Set struct {
	Terrain        *Standard
	Weather        *Standard
	Season         *Standard
	Posture        *Standard
	Surprise       *Standard
	AirSuperiority *Standard

	Opposition         *Interpolating
	StrengthSize       *Interpolating
	StrengthSizeArmour *Interpolating

	// Weapon and vehicle scoring curves.
	RF  *Interpolating
	PTS *Interpolating
	RFE *Interpolating
	ASE *Interpolating

	AdvanceRate *AdvanceRate
}

// LoadSet reads every table from dir. All failures are collected so a broken
// data directory is reported in one pass.
func LoadSet(dir string) (*Set, error) {
	s := &Set{}
	var errs []error

	standard := func(dst **Standard, file string) {
		t, err := withFile(dir, file, ReadStandard)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = t
	}
	interp := func(dst **Interpolating, file string) {
		t, err := withFile(dir, file, ReadInterpolating)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = t
	}

	standard(&s.Terrain, TerrainFile)
	standard(&s.Weather, WeatherFile)
	standard(&s.Season, SeasonFile)
	standard(&s.Posture, PostureFile)
	standard(&s.Surprise, SurpriseFile)
	standard(&s.AirSuperiority, AirSuperiorityFile)

	interp(&s.Opposition, OppositionFile)
	interp(&s.StrengthSize, StrengthSizeFile)
	interp(&s.StrengthSizeArmour, StrengthSizeArmourFile)
	interp(&s.RF, RFFile)
	interp(&s.PTS, PTSFile)
	interp(&s.RFE, RFEFile)
	interp(&s.ASE, ASEFile)

	adv, err := withFile(dir, AdvanceRateFile, ReadAdvanceRate)
	if err != nil {
		errs = append(errs, err)
	}
	s.AdvanceRate = adv

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Factors returns the categorical factor tables keyed by short name.
func (s *Set) Factors() map[string]*Standard {
	return map[string]*Standard{
		"terrain":         s.Terrain,
		"weather":         s.Weather,
		"season":          s.Season,
		"posture":         s.Posture,
		"surprise":        s.Surprise,
		"air_superiority": s.AirSuperiority,
	}
}

func withFile[T any](dir, file string, read func(string, io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(filepath.Join(dir, file))
	if err != nil {
		return zero, fmt.Errorf("lookup: open %s: %w", file, err)
	}
	defer f.Close()
	return read(file, f)
}
