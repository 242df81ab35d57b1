package scenario_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/qjm/internal/equipment"
	"github.com/MrWong99/qjm/internal/formation"
	"github.com/MrWong99/qjm/internal/scenario"
	"github.com/MrWong99/qjm/internal/toe"
)

// templates returns a company of two squads and a tank section. A company
// has 26 personnel (two squads of ten, six tank crew) and three vehicles.
func templates(t *testing.T) *toe.Database {
	t.Helper()
	db := toe.NewDatabase()
	for code, def := range map[string]toe.LINDef{
		"RIFLE": {Name: "Rifle", Items: []string{"M16", "AK"}},
		"MG":    {Name: "Machine Gun", Items: []string{"M249", "PKM"}},
		"TANK":  {Name: "Tank", Items: []string{"M1", "T72"}},
		"TRUCK": {Name: "Truck", Items: []string{"HMMWV"}},
	} {
		if err := db.AddLIN(code, def); err != nil {
			t.Fatal(err)
		}
	}

	rifleman := toe.RoleDef{Name: "Rifleman", Rank: "E3", Equipment: []string{"RIFLE"}}
	squad := toe.TemplateDef{ID: "SQD", Name: "Squad", Nation: "X", SIDC: "10031000001211000000"}
	squad.Personnel = append(squad.Personnel, toe.RoleDef{Name: "Leader", Rank: "E6", Equipment: []string{"RIFLE"}})
	for range 8 {
		squad.Personnel = append(squad.Personnel, rifleman)
	}
	squad.Personnel = append(squad.Personnel, toe.RoleDef{Name: "Gunner", Rank: "E4", Equipment: []string{"MG"}})

	crew := []toe.RoleDef{rifleman, rifleman, rifleman}
	for _, d := range []toe.TemplateDef{
		squad,
		{ID: "TKS", Name: "Tank Section", Nation: "X", Vehicles: []toe.VehicleRoleDef{
			{LIN: "TANK", Crew: crew}, {LIN: "TANK", Crew: crew}, {LIN: "TRUCK"},
		}},
		{ID: "CO", Name: "Company", Nation: "X", SIDC: "10031000001211000000", Subunits: []string{"SQD", "SQD", "TKS"}},
	} {
		if err := db.AddTemplate(d); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Build(); err != nil {
		t.Fatal(err)
	}
	return db
}

func catalog(t *testing.T) *equipment.Catalog {
	t.Helper()
	c := equipment.NewCatalog()
	for _, w := range []*equipment.Weapon{
		{Name: "M16", Category: equipment.CategorySmallArms, OLI: 1},
		{Name: "AK", Category: equipment.CategorySmallArms, OLI: 0.9},
		{Name: "M249", Category: equipment.CategoryMachineGun, OLI: 3},
		{Name: "PKM", Category: equipment.CategoryMachineGun, OLI: 3},
	} {
		if err := c.AddWeapon(w); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range []*equipment.Vehicle{
		{Name: "M1", Type: equipment.VehicleTank, Category: equipment.CategoryArmour, Crew: 3, OLI: 100},
		{Name: "T72", Type: equipment.VehicleTank, Category: equipment.CategoryArmour, Crew: 3, OLI: 80},
		{Name: "A-10", Type: equipment.VehicleCAS, Category: equipment.CategoryAircraft, Crew: 1, OLI: 250},
		{Name: "MiG-27", Type: equipment.VehicleCAS, Category: equipment.CategoryAircraft, Crew: 1, OLI: 180},
	} {
		if err := c.AddVehicle(v); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func deps(t *testing.T) scenario.Deps {
	return scenario.Deps{Catalog: catalog(t), Templates: templates(t)}
}

const rulesYAML = `
factions:
  NATO:
    color: "#0000ff"
    aircraft: [A-10, F-99]
  WP:
    color: "#ff0000"
    aircraft: [MiG-27]
dispersion_factor: 3000
start_date: 1985-08-01
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// scenarioDir writes a scenario named "fulda" under a fresh root and
// returns the root. Extra files are written relative to the scenario.
func scenarioDir(t *testing.T, extra map[string]string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "fulda")
	files := map[string]string{
		scenario.RulesFile: rulesYAML,
		"formations/nato/1bn.yml": `
name: 1st Battalion
shortname: 1BN
toe: CO
nsns: [M16, M249, M1, HMMWV]
position: 3BDE
faction: NATO
`,
		"formations/wp/mrc.yaml": `
name: Motor Rifle Company
shortname: MRC
toe: CO
nsns: [AK, PKM, T72]
faction: WP
`,
	}
	for k, v := range extra {
		files[k] = v
	}
	for name, content := range files {
		if content == "" {
			continue
		}
		writeFile(t, filepath.Join(dir, name), content)
	}
	return root
}

func TestLoad(t *testing.T) {
	t.Parallel()

	root := scenarioDir(t, nil)
	sc, err := scenario.Load(context.Background(), filepath.Join(root, "fulda"), deps(t))
	if err != nil {
		t.Fatal(err)
	}

	if sc.Name != "fulda" || sc.Dispersion != 3000 || sc.StartDate.Format(scenario.DateLayout) != "1985-08-01" {
		t.Errorf("scenario = %s %g %v", sc.Name, sc.Dispersion, sc.StartDate)
	}
	var names []string
	for _, f := range sc.Factions {
		names = append(names, f.Name)
	}
	if !slices.Equal(names, []string{"NATO", "WP"}) {
		t.Errorf("factions = %v", names)
	}

	if got := len(sc.Formations()); got != 8 {
		t.Errorf("formations = %d, want 8", got)
	}
	bn, ok := sc.FormationByName("1st Battalion")
	if !ok {
		t.Fatal("1st Battalion not indexed")
	}
	if bn.ParentShortName != "3BDE" || bn.Color != "#0000ff" {
		t.Errorf("battalion = %+v", bn)
	}
	if byID, ok := sc.Formation(bn.ID); !ok || byID != bn {
		t.Error("battalion not indexed by id")
	}
	sub, ok := sc.FormationByName("3/1BN")
	if !ok {
		t.Fatal("subunit 3/1BN not indexed")
	}
	if sub.Faction != "NATO" || sub.ParentShortName != "1BN" {
		t.Errorf("subunit faction %q parent %q", sub.Faction, sub.ParentShortName)
	}
	if got := bn.CountPersonnel(true); got != 26 {
		t.Errorf("personnel = %d, want 26", got)
	}
	if oli := bn.OLI(true); oli.Get(equipment.CategoryArmour) != 200 {
		t.Errorf("armour oli = %g, want 200", oli.Get(equipment.CategoryArmour))
	}

	// F-99 is not in the catalog and is skipped without consuming an id.
	a, ok := sc.Aircraft("AIR0000")
	if !ok || a.Name != "A-10" || a.Faction != "NATO" || a.SIDC != scenario.AircraftSIDC {
		t.Errorf("AIR0000 = %+v", a)
	}
	if a, ok := sc.Aircraft("AIR0001"); !ok || a.Name != "MiG-27" || a.Color != "#ff0000" {
		t.Errorf("AIR0001 = %+v", a)
	}
	if _, ok := sc.Aircraft("AIR0002"); ok {
		t.Error("unexpected AIR0002")
	}
}

func TestLoad_UnlistedFaction(t *testing.T) {
	t.Parallel()

	root := scenarioDir(t, map[string]string{
		"formations/other/x.yml": "name: Militia\ntoe: SQD\n",
	})
	sc, err := scenario.Load(context.Background(), filepath.Join(root, "fulda"), deps(t))
	if err != nil {
		t.Fatal(err)
	}
	last := sc.Factions[len(sc.Factions)-1]
	if last.Name != scenario.UnknownFaction || last.Color != formation.DefaultColor {
		t.Errorf("last faction = %+v", last)
	}
	if f, _ := sc.FormationByName("Militia"); f.ShortName != "Militia" {
		t.Errorf("shortname default = %q", f.ShortName)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra map[string]string
		want  error
	}{
		{
			name:  "unknown template",
			extra: map[string]string{"formations/x.yml": "name: X\ntoe: DIV\n"},
			want:  toe.ErrUnknownTemplate,
		},
		{
			name:  "duplicate name",
			extra: map[string]string{"formations/x.yml": "name: 1st Battalion\ntoe: SQD\n"},
			want:  scenario.ErrDuplicateFormation,
		},
		{
			name:  "duplicate subunit name",
			extra: map[string]string{"formations/x.yml": "name: 2nd Battalion\nshortname: 1BN\ntoe: CO\n"},
			want:  scenario.ErrDuplicateFormation,
		},
		{
			name:  "missing toe",
			extra: map[string]string{"formations/x.yml": "name: X\n"},
			want:  scenario.ErrInvalid,
		},
		{
			name:  "bad dispersion",
			extra: map[string]string{scenario.RulesFile: "dispersion_factor: 0\nstart_date: 1985-08-01\n"},
			want:  scenario.ErrInvalid,
		},
		{
			name:  "bad date",
			extra: map[string]string{scenario.RulesFile: "dispersion_factor: 1\nstart_date: August\n"},
			want:  scenario.ErrInvalid,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			root := scenarioDir(t, tc.extra)
			_, err := scenario.Load(context.Background(), filepath.Join(root, "fulda"), deps(t))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := scenario.Load(context.Background(), filepath.Join(t.TempDir(), "nowhere"), deps(t))
	if !errors.Is(err, scenario.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDecodeRules_KeepsFactionOrder(t *testing.T) {
	t.Parallel()

	rules, err := scenario.DecodeRules(strings.NewReader(`
factions:
  Zulu: {color: "#111111"}
  Alpha: {aircraft: [A-10]}
  Mike: {}
dispersion_factor: 500
start_date: "1990-01-02T06:00:00Z"
`))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rules.Factions, []string{"Zulu", "Alpha", "Mike"}) {
		t.Errorf("order = %v", rules.Factions)
	}
	if rules.StartDate.Hour() != 6 {
		t.Errorf("start date = %v", rules.StartDate)
	}
}

func TestDecodeFormation_UnknownField(t *testing.T) {
	t.Parallel()

	if _, err := scenario.DecodeFormation(strings.NewReader("name: X\ntoe: CO\nsize: big\n")); err == nil {
		t.Error("unknown field accepted")
	}
}
