// Package scenario loads a wargame scenario (rules plus formation files)
// into live formation trees and serves battle requests against it through
// a [Wargame].
//
// A scenario directory looks like:
//
//	wargame.yml                 factions, dispersion_factor, start_date
//	formations/**/*.yml         one top-level formation per file
//
// Loading is all or nothing: an unknown template, a duplicate formation
// name or an unreadable file aborts the whole scenario.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/toe"
)

var (
	// ErrNotLoaded is returned by [Wargame] operations before a scenario
	// has been loaded.
	ErrNotLoaded = errors.New("scenario: no scenario loaded")

	// ErrNotFound is returned for an unknown scenario, formation or
	// aircraft id.
	ErrNotFound = errors.New("scenario: not found")

	// ErrDuplicateFormation is returned when two formation nodes share a
	// name.
	ErrDuplicateFormation = errors.New("scenario: duplicate formation name")

	// ErrInvalid is returned for malformed scenario files and requests.
	ErrInvalid = errors.New("scenario: invalid")
)

const (
	// RulesFile is the scenario rules file name.
	RulesFile = "wargame.yml"

	// FormationsDir holds the scenario's formation files.
	FormationsDir = "formations"

	// FactionSIDC is the symbol used for faction nodes in the tree view.
	FactionSIDC = "30031000000000000000"

	// AircraftSIDC is the symbol used for faction aircraft.
	AircraftSIDC = "130301000011010500000000000000"

	// DateLayout is the layout of scenario dates.
	DateLayout = "2006-01-02"

	// UnknownFaction is assigned to formation files without a faction.
	UnknownFaction = "Unknown"
)

// Templates resolves organization template ids. *toe.Database satisfies it.
type Templates interface {
	Template(id string) (*toe.Template, bool)
}

// Deps are the read-only stores a scenario is instantiated against.
type Deps struct {
	Catalog   formation.Catalog
	Templates Templates
}

// Faction is one side of the scenario with its top-level formations in
// load order.
type Faction struct {
	Name       string
	Color      string
	Formations []*formation.Formation
	Aircraft   []*Aircraft
}

// Aircraft is a faction aircraft type that battle requests can fly
// sorties with.
type Aircraft struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	SIDC    string             `json:"sidc"`
	Color   string             `json:"color"`
	Faction string             `json:"faction"`
	OLI     float64            `json:"oli"`
	Vehicle *equipment.Vehicle `json:"-"`
}

// Scenario is an instantiated scenario. It is read-only after [Load]
// except for formation element state.
type Scenario struct {
	Name       string
	Dir        string
	Dispersion float64
	StartDate  time.Time
	Factions   []*Faction

	byID       map[string]*formation.Formation
	byName     map[string]*formation.Formation
	aircraft   map[string]*Aircraft
	formations []*formation.Formation // every node, walk order
}

// Formation returns the node with the given id.
func (s *Scenario) Formation(id string) (*formation.Formation, bool) {
	f, ok := s.byID[id]
	return f, ok
}

// FormationByName returns the node with the given name.
func (s *Scenario) FormationByName(name string) (*formation.Formation, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Aircraft returns the aircraft with the given id.
func (s *Scenario) Aircraft(id string) (*Aircraft, bool) {
	a, ok := s.aircraft[id]
	return a, ok
}

// Formations returns every node of every tree, factions in order, parents
// before children.
func (s *Scenario) Formations() []*formation.Formation { return s.formations }

// FactionDef is one entry of the rules file's factions mapping.
type FactionDef struct {
	Color    string   `yaml:"color"`
	Aircraft []string `yaml:"aircraft"`
}

// rulesDef is the on-disk form of wargame.yml. Factions stay a node so
// their file order survives decoding.
type rulesDef struct {
	Factions         yaml.Node `yaml:"factions"`
	DispersionFactor float64   `yaml:"dispersion_factor"`
	StartDate        string    `yaml:"start_date"`
}

// Rules is a decoded rules file.
type Rules struct {
	Factions   []string
	Faction    map[string]FactionDef
	Dispersion float64
	StartDate  time.Time
}

// DecodeRules parses a wargame.yml document.
func DecodeRules(r io.Reader) (Rules, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def rulesDef
	if err := dec.Decode(&def); err != nil {
		return Rules{}, fmt.Errorf("%w: rules: %v", ErrInvalid, err)
	}

	rules := Rules{Faction: make(map[string]FactionDef), Dispersion: def.DispersionFactor}
	if def.Factions.Kind != 0 {
		if def.Factions.Kind != yaml.MappingNode {
			return Rules{}, fmt.Errorf("%w: rules: factions must be a mapping", ErrInvalid)
		}
		for i := 0; i+1 < len(def.Factions.Content); i += 2 {
			name := def.Factions.Content[i].Value
			var fd FactionDef
			if err := def.Factions.Content[i+1].Decode(&fd); err != nil {
				return Rules{}, fmt.Errorf("%w: faction %q: %v", ErrInvalid, name, err)
			}
			if _, dup := rules.Faction[name]; dup {
				return Rules{}, fmt.Errorf("%w: faction %q listed twice", ErrInvalid, name)
			}
			rules.Factions = append(rules.Factions, name)
			rules.Faction[name] = fd
		}
	}

	if rules.Dispersion <= 0 {
		return Rules{}, fmt.Errorf("%w: dispersion_factor must be positive, got %g", ErrInvalid, rules.Dispersion)
	}
	date, err := ParseDate(def.StartDate)
	if err != nil {
		return Rules{}, fmt.Errorf("%w: start_date: %v", ErrInvalid, err)
	}
	rules.StartDate = date
	return rules, nil
}

// FormationDef is the on-disk form of one formation file.
type FormationDef struct {
	Name      string   `yaml:"name"`
	ShortName string   `yaml:"shortname"`
	TOE       string   `yaml:"toe"`
	NSNs      []string `yaml:"nsns"`
	Position  string   `yaml:"position"`
	Faction   string   `yaml:"faction"`
}

// DecodeFormation parses a formation file. A missing shortname defaults to
// the name and a missing faction to [UnknownFaction].
func DecodeFormation(r io.Reader) (FormationDef, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def FormationDef
	if err := dec.Decode(&def); err != nil {
		return FormationDef{}, err
	}
	var errs []error
	if def.Name == "" {
		errs = append(errs, fmt.Errorf("%w: missing name", ErrInvalid))
	}
	if def.TOE == "" {
		errs = append(errs, fmt.Errorf("%w: missing toe", ErrInvalid))
	}
	if err := errors.Join(errs...); err != nil {
		return FormationDef{}, err
	}
	if def.ShortName == "" {
		def.ShortName = def.Name
	}
	if def.Faction == "" {
		def.Faction = UnknownFaction
	}
	return def, nil
}

// ParseDate accepts a date-only or RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is neither %s nor RFC 3339", s, DateLayout)
	}
	return t, nil
}

// Load instantiates the scenario in dir. The directory's base name becomes
// the scenario name.
func Load(ctx context.Context, dir string, deps Deps) (_ *Scenario, err error) {
	ctx, span := observe.StartSpan(ctx, "scenario.Load")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	rf, err := os.Open(filepath.Join(dir, RulesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: scenario %s", ErrNotFound, filepath.Base(dir))
		}
		return nil, fmt.Errorf("scenario: open rules: %w", err)
	}
	rules, err := DecodeRules(rf)
	rf.Close()
	if err != nil {
		return nil, err
	}

	sc := &Scenario{
		Name:       filepath.Base(dir),
		Dir:        dir,
		Dispersion: rules.Dispersion,
		StartDate:  rules.StartDate,
		byID:       make(map[string]*formation.Formation),
		byName:     make(map[string]*formation.Formation),
		aircraft:   make(map[string]*Aircraft),
	}
	factions := make(map[string]*Faction)
	for _, name := range rules.Factions {
		f := &Faction{Name: name, Color: rules.Faction[name].Color}
		if f.Color == "" {
			f.Color = formation.DefaultColor
		}
		factions[name] = f
		sc.Factions = append(sc.Factions, f)
	}

	files, err := formationFiles(filepath.Join(dir, FormationsDir))
	if err != nil {
		return nil, fmt.Errorf("scenario: scan formations: %w", err)
	}

	var errs []error
	for _, path := range files {
		def, err := decodeFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario: %s: %w", path, err))
			continue
		}
		tpl, ok := deps.Templates.Template(def.TOE)
		if !ok {
			errs = append(errs, fmt.Errorf("scenario: %s: %w %q", path, toe.ErrUnknownTemplate, def.TOE))
			continue
		}

		form := formation.New(tpl, def.Name, def.ShortName, def.Position, def.NSNs)
		if missing := form.AddQJMWeapons(deps.Catalog); missing > 0 {
			log.Warn("formation has unresolved equipment", "formation", def.Name, "missing", missing)
		}

		fac, ok := factions[def.Faction]
		if !ok {
			log.Warn("formation faction not in rules", "formation", def.Name, "faction", def.Faction)
			fac = &Faction{Name: def.Faction, Color: formation.DefaultColor}
			factions[def.Faction] = fac
			sc.Factions = append(sc.Factions, fac)
		}
		form.SetFaction(fac.Name, fac.Color)
		fac.Formations = append(fac.Formations, form)

		form.Walk(func(n *formation.Formation) {
			if _, dup := sc.byName[n.Name]; dup {
				errs = append(errs, fmt.Errorf("scenario: %s: %w %q", path, ErrDuplicateFormation, n.Name))
				return
			}
			sc.byID[n.ID] = n
			sc.byName[n.Name] = n
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	// Walk order is fixed after all files are in: faction order, then file
	// order within a faction.
	for _, fac := range sc.Factions {
		for _, f := range fac.Formations {
			f.Walk(func(n *formation.Formation) { sc.formations = append(sc.formations, n) })
		}
	}

	sc.loadAircraft(ctx, rules, deps.Catalog)

	log.Info("scenario loaded",
		"scenario", sc.Name,
		"factions", len(sc.Factions),
		"formations", len(sc.formations),
		"aircraft", len(sc.aircraft),
	)
	return sc, nil
}

// loadAircraft materialises faction aircraft present in the catalog. Ids
// are sequential across factions in rules order.
func (sc *Scenario) loadAircraft(ctx context.Context, rules Rules, cat formation.Catalog) {
	log := observe.Logger(ctx)
	n := 0
	for _, name := range rules.Factions {
		fac := sc.faction(name)
		for _, craft := range rules.Faction[name].Aircraft {
			v, ok := cat.Vehicle(craft)
			if !ok {
				attrs := []any{"faction", name, "aircraft", craft}
				if s, ok := cat.(interface{ Suggest(string, int) []string }); ok {
					if hints := s.Suggest(craft, suggestions); len(hints) > 0 {
						attrs = append(attrs, "did_you_mean", hints)
					}
				}
				log.Warn("aircraft not in catalog", attrs...)
				continue
			}
			a := &Aircraft{
				ID:      fmt.Sprintf("AIR%04d", n),
				Name:    v.Name,
				SIDC:    AircraftSIDC,
				Color:   fac.Color,
				Faction: name,
				OLI:     v.OLI,
				Vehicle: v,
			}
			n++
			fac.Aircraft = append(fac.Aircraft, a)
			sc.aircraft[a.ID] = a
		}
	}
}

func (sc *Scenario) faction(name string) *Faction {
	for _, f := range sc.Factions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// formationFiles walks root for *.yml and *.yaml files in lexical order.
// A missing formations directory yields an empty scenario.
func formationFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yml", ".yaml":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func decodeFile(path string) (FormationDef, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormationDef{}, err
	}
	defer f.Close()
	return DecodeFormation(f)
}
