package toe

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/MrWong99/qjm/internal/observe"
)

// Database holds LINs and templates. Once [Database.Build] succeeds the
// database is read-only and safe for concurrent use.
type Database struct {
	lins      map[string]*LIN
	templates map[string]*Template
	order     []string
	ranks     []string
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{
		lins:      make(map[string]*LIN),
		templates: make(map[string]*Template),
	}
}

// AddLIN registers an equipment class.
func (db *Database) AddLIN(code string, def LINDef) error {
	if _, ok := db.lins[code]; ok {
		return fmt.Errorf("%w: lin %q", ErrDuplicateID, code)
	}
	if len(def.Items) == 0 {
		return fmt.Errorf("toe: lin %q has no items", code)
	}
	db.lins[code] = &LIN{Code: code, Name: def.Name, Items: slices.Clone(def.Items)}
	return nil
}

// AddTemplate registers an unbuilt template.
func (db *Database) AddTemplate(def TemplateDef) error {
	if _, ok := db.templates[def.ID]; ok {
		return fmt.Errorf("%w: template %q", ErrDuplicateID, def.ID)
	}
	db.templates[def.ID] = &Template{
		ID:     def.ID,
		Name:   def.Name,
		Nation: def.Nation,
		SIDC:   def.SIDC,
		def:    def,
	}
	db.order = append(db.order, def.ID)
	return nil
}

// Build resolves every registered template. It is idempotent: templates
// that are already built are skipped.
func (db *Database) Build() error {
	for _, id := range db.order {
		if err := db.build(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) build(id string, chain []string) error {
	t, ok := db.templates[id]
	if !ok {
		return fmt.Errorf("%w: %q (via %v)", ErrUnknownTemplate, id, chain)
	}
	if slices.Contains(chain, id) {
		return &RecursionError{Chain: append(slices.Clone(chain), id)}
	}
	if t.built {
		return nil
	}
	chain = append(chain, id)

	subunits := make([]*Template, 0, len(t.def.Subunits))
	for _, sub := range t.def.Subunits {
		if err := db.build(sub, chain); err != nil {
			return err
		}
		subunits = append(subunits, db.templates[sub])
	}

	personnel := make([]Role, 0, len(t.def.Personnel))
	for _, p := range t.def.Personnel {
		r, err := db.role(p)
		if err != nil {
			return fmt.Errorf("toe: template %q: %w", id, err)
		}
		personnel = append(personnel, r)
	}

	vehicles := make([]VehicleRole, 0, len(t.def.Vehicles))
	for _, v := range t.def.Vehicles {
		lin, ok := db.lins[v.LIN]
		if !ok {
			return fmt.Errorf("toe: template %q: %w: %q", id, ErrUnknownLIN, v.LIN)
		}
		vr := VehicleRole{Name: lin.Name, LIN: lin}
		for _, c := range v.Crew {
			r, err := db.role(c)
			if err != nil {
				return fmt.Errorf("toe: template %q vehicle %q: %w", id, v.LIN, err)
			}
			vr.Crew = append(vr.Crew, r)
		}
		vehicles = append(vehicles, vr)
	}

	t.Subunits = subunits
	t.Personnel = personnel
	t.Vehicles = vehicles
	t.built = true
	return nil
}

func (db *Database) role(def RoleDef) (Role, error) {
	r := Role{Name: def.Name, Rank: def.Rank}
	for _, code := range def.Equipment {
		lin, ok := db.lins[code]
		if !ok {
			return Role{}, fmt.Errorf("%w: %q on role %q", ErrUnknownLIN, code, def.Name)
		}
		r.Equipment = append(r.Equipment, lin)
	}
	if def.Rank != "" && !slices.Contains(db.ranks, def.Rank) {
		db.ranks = append(db.ranks, def.Rank)
	}
	return r, nil
}

// Compose resolves a one-off template against the database without
// registering it. Subunits must name built templates. The database is not
// modified, so Compose is safe to call on a shared database.
func (db *Database) Compose(def TemplateDef) (*Template, error) {
	t := &Template{ID: def.ID, Name: def.Name, Nation: def.Nation, SIDC: def.SIDC, def: def, built: true}
	for _, sub := range def.Subunits {
		st, ok := db.templates[sub]
		if !ok || !st.built {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, sub)
		}
		t.Subunits = append(t.Subunits, st)
	}
	resolve := func(r RoleDef) (Role, error) {
		role := Role{Name: r.Name, Rank: r.Rank}
		for _, code := range r.Equipment {
			lin, ok := db.lins[code]
			if !ok {
				return Role{}, fmt.Errorf("%w: %q on role %q", ErrUnknownLIN, code, r.Name)
			}
			role.Equipment = append(role.Equipment, lin)
		}
		return role, nil
	}
	for _, p := range def.Personnel {
		r, err := resolve(p)
		if err != nil {
			return nil, fmt.Errorf("toe: compose %q: %w", def.ID, err)
		}
		t.Personnel = append(t.Personnel, r)
	}
	for _, v := range def.Vehicles {
		lin, ok := db.lins[v.LIN]
		if !ok {
			return nil, fmt.Errorf("toe: compose %q: %w: %q", def.ID, ErrUnknownLIN, v.LIN)
		}
		vr := VehicleRole{Name: lin.Name, LIN: lin}
		for _, c := range v.Crew {
			r, err := resolve(c)
			if err != nil {
				return nil, fmt.Errorf("toe: compose %q: %w", def.ID, err)
			}
			vr.Crew = append(vr.Crew, r)
		}
		t.Vehicles = append(t.Vehicles, vr)
	}
	return t, nil
}

// Template returns the template with the given id.
func (db *Database) Template(id string) (*Template, bool) {
	t, ok := db.templates[id]
	return t, ok
}

// LIN returns the equipment class with the given code.
func (db *Database) LIN(code string) (*LIN, bool) {
	l, ok := db.lins[code]
	return l, ok
}

// TemplateIDs returns template ids in load order.
func (db *Database) TemplateIDs() []string { return slices.Clone(db.order) }

// Ranks returns every personnel rank seen while building, in first-seen
// order. Crew ranks are included.
func (db *Database) Ranks() []string { return slices.Clone(db.ranks) }

// Load reads every LIN file under linDir, then every template under toeDir,
// and builds the template graph. Any error leaves no usable database.
func Load(ctx context.Context, linDir, toeDir string) (_ *Database, err error) {
	ctx, span := observe.StartSpan(ctx, "toe.Load")
	defer func() { observe.EndSpan(span, err) }()

	db := NewDatabase()

	linFiles, err := yamlFiles(linDir)
	if err != nil {
		return nil, fmt.Errorf("toe: scan lins: %w", err)
	}
	for _, path := range linFiles {
		defs, err := decodePath(path, DecodeLINs)
		if err != nil {
			return nil, fmt.Errorf("toe: load lin %s: %w", path, err)
		}
		codes := make([]string, 0, len(defs))
		for code := range defs {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			if err := db.AddLIN(code, defs[code]); err != nil {
				return nil, fmt.Errorf("toe: load lin %s: %w", path, err)
			}
		}
	}

	toeFiles, err := yamlFiles(toeDir)
	if err != nil {
		return nil, fmt.Errorf("toe: scan templates: %w", err)
	}
	for _, path := range toeFiles {
		def, err := decodePath(path, DecodeTemplate)
		if err != nil {
			return nil, fmt.Errorf("toe: load template %s: %w", path, err)
		}
		if err := db.AddTemplate(def); err != nil {
			return nil, fmt.Errorf("toe: load template %s: %w", path, err)
		}
	}

	if err := db.Build(); err != nil {
		return nil, err
	}
	observe.Logger(ctx).Info("organization database built",
		"lins", len(db.lins), "templates", len(db.templates), "ranks", len(db.ranks))
	return db, nil
}

func yamlFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
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
	return files, err
}

func decodePath[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	return decode(f)
}
