// Package equipment scores weapons and vehicles into Operational Lethality
// Indices and keeps them in a name-keyed [Catalog].
//
// Scoring is a pure function of a definition record plus the interpolation
// [Curves] (and, for vehicles, the already-scored weapons). A [Catalog] is
// built once from two directory trees of YAML definitions; a file that fails
// to parse or score is logged and left out, never aborting the build.
package equipment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/qjm/internal/observe"
)

var (
	// ErrMissingField is returned when a definition omits a required key.
	ErrMissingField = errors.New("equipment: missing required field")

	// ErrUnknownWeapon is returned when a vehicle lists a weapon that is not
	// in the catalog.
	ErrUnknownWeapon = errors.New("equipment: unknown weapon")

	// ErrDuplicateName is returned when a second item claims a name that is
	// already in the catalog.
	ErrDuplicateName = errors.New("equipment: duplicate name")

	// ErrNotFinite is returned when a numeric field is NaN or infinite.
	ErrNotFinite = errors.New("equipment: non-finite value")
)

// numField is a named numeric definition value.
type numField struct {
	key string
	v   float64
}

// checkFinite rejects the first NaN or infinite field of item.
func checkFinite(item string, fields ...numField) error {
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s = %v on %q", ErrNotFinite, f.key, f.v, item)
		}
	}
	return nil
}

// suggestThreshold is the minimum Jaro-Winkler similarity for a name to be
// offered by [Catalog.Suggest].
const suggestThreshold = 0.8

// Catalog holds scored weapons and vehicles keyed by name. A built catalog
// is read-only and safe for concurrent use.
type Catalog struct {
	weapons  map[string]*Weapon
	vehicles map[string]*Vehicle
}

// NewCatalog returns an empty catalog. Use [Catalog.AddWeapon] and
// [Catalog.AddVehicle] to populate it, or [Load] to build one from disk.
func NewCatalog() *Catalog {
	return &Catalog{
		weapons:  make(map[string]*Weapon),
		vehicles: make(map[string]*Vehicle),
	}
}

// AddWeapon inserts w. It fails with [ErrDuplicateName] if the name is taken.
func (c *Catalog) AddWeapon(w *Weapon) error {
	if _, ok := c.weapons[w.Name]; ok {
		return fmt.Errorf("%w: weapon %q", ErrDuplicateName, w.Name)
	}
	c.weapons[w.Name] = w
	return nil
}

// AddVehicle inserts v. It fails with [ErrDuplicateName] if the name is taken.
func (c *Catalog) AddVehicle(v *Vehicle) error {
	if _, ok := c.vehicles[v.Name]; ok {
		return fmt.Errorf("%w: vehicle %q", ErrDuplicateName, v.Name)
	}
	c.vehicles[v.Name] = v
	return nil
}

// Weapon returns the weapon called name.
func (c *Catalog) Weapon(name string) (*Weapon, bool) {
	w, ok := c.weapons[name]
	return w, ok
}

// Vehicle returns the vehicle called name.
func (c *Catalog) Vehicle(name string) (*Vehicle, bool) {
	v, ok := c.vehicles[name]
	return v, ok
}

// Weapons returns all weapons sorted by name.
func (c *Catalog) Weapons() []*Weapon {
	out := make([]*Weapon, 0, len(c.weapons))
	for _, w := range c.weapons {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b *Weapon) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Vehicles returns all vehicles sorted by name.
func (c *Catalog) Vehicles() []*Vehicle {
	out := make([]*Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *Vehicle) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len reports the number of weapons and vehicles.
func (c *Catalog) Len() (weapons, vehicles int) {
	return len(c.weapons), len(c.vehicles)
}

// Suggest returns up to n catalog names that look like name, best match
// first. It is used to enrich "not found" diagnostics.
func (c *Catalog) Suggest(name string, n int) []string {
	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	needle := strings.ToLower(name)
	consider := func(candidate string) {
		s := matchr.JaroWinkler(needle, strings.ToLower(candidate), false)
		if s >= suggestThreshold {
			hits = append(hits, scored{candidate, s})
		}
	}
	for k := range c.weapons {
		consider(k)
	}
	for k := range c.vehicles {
		consider(k)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// Load builds a catalog from two definition trees. Weapons are loaded first
// so vehicles can reference them. Files that fail to decode or score are
// logged and skipped; only an unreadable root directory is an error.
func Load(ctx context.Context, weaponDir, vehicleDir string, curves Curves) (_ *Catalog, err error) {
	ctx, span := observe.StartSpan(ctx, "equipment.Load")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	weaponFiles, err := definitionFiles(weaponDir)
	if err != nil {
		return nil, fmt.Errorf("equipment: scan weapons: %w", err)
	}
	vehicleFiles, err := definitionFiles(vehicleDir)
	if err != nil {
		return nil, fmt.Errorf("equipment: scan vehicles: %w", err)
	}

	c := NewCatalog()
	for _, path := range weaponFiles {
		def, err := decodeFile(path, DecodeWeapon)
		if err == nil {
			var w *Weapon
			if w, err = NewWeapon(def, curves); err == nil {
				err = c.AddWeapon(w)
			}
		}
		if err != nil {
			log.Error("equipment: skipping weapon", "path", path, "err", err)
			continue
		}
		log.Debug("weapon loaded", "name", def.Name)
	}
	for _, path := range vehicleFiles {
		def, err := decodeFile(path, DecodeVehicle)
		if err == nil {
			var v *Vehicle
			if v, err = NewVehicle(def, c.Weapon, curves); err == nil {
				err = c.AddVehicle(v)
			}
		}
		if err != nil {
			log.Error("equipment: skipping vehicle", "path", path, "err", err)
			continue
		}
		log.Debug("vehicle loaded", "name", def.Name)
	}

	nw, nv := c.Len()
	log.Info("equipment catalog built", "weapons", nw, "vehicles", nv)
	return c, nil
}

// definitionFiles walks root for *.yaml and *.yml files in lexical order.
func definitionFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("equipment: cannot read path", "path", path, "err", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
