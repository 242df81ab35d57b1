package lookup_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/qjm/internal/lookup"
)

func TestReadStandard(t *testing.T) {
	t.Parallel()

	const src = `Terrain, Mobility (r_m), Casualty (r_c)
# comment lines are ignored
Rolling bare, 1.0, 1.0
Urban, 0.7, 0.8
`
	tbl, err := lookup.ReadStandard("terrain", strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadStandard: unexpected error: %v", err)
	}
	v, ok := tbl.Get("Urban", "Casualty (r_c)")
	if !ok || v != 0.8 {
		t.Errorf("Get(Urban, Casualty) = (%g, %v), want (0.8, true)", v, ok)
	}
	cols := tbl.Columns()
	if len(cols) != 2 || cols[0] != "Mobility (r_m)" {
		t.Errorf("Columns() = %v", cols)
	}
}

func TestReadStandard_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{name: "empty", src: ""},
		{name: "header only", src: "a,b\n"},
		{name: "short row", src: "a,b,c\nx,1\n"},
		{name: "bad number", src: "a,b\nx,one\n"},
		{name: "duplicate category", src: "a,b\nx,1\nx,2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := lookup.ReadStandard(tc.name, strings.NewReader(tc.src)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestReadInterpolating(t *testing.T) {
	t.Parallel()

	const src = "Calibre,RF\n105,18\n20,70\n60,30\n"
	tbl, err := lookup.ReadInterpolating("rf", strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadInterpolating: unexpected error: %v", err)
	}
	pts := tbl.Points()
	if len(pts) != 3 || pts[0].X != 20 || pts[2].X != 105 {
		t.Errorf("Points() not sorted: %v", pts)
	}
	if got := tbl.Interpolate(40); got != 50 {
		t.Errorf("Interpolate(40) = %g, want 50", got)
	}
}

func TestReadInterpolating_Duplicate(t *testing.T) {
	t.Parallel()

	_, err := lookup.ReadInterpolating("dup", strings.NewReader("x,y\n1,2\n1,3\n"))
	if !errors.Is(err, lookup.ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
}

func TestReadAdvanceRate(t *testing.T) {
	t.Parallel()

	const src = `power_ratio,posture,Armor,Infantry
1.0,Hasty Defense,4,3
2.0,Hasty Defense,20,8
1.0,Prepared Defense,2,1.5
`
	tbl, err := lookup.ReadAdvanceRate("adv", strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadAdvanceRate: unexpected error: %v", err)
	}
	got, err := tbl.Rate(1.5, lookup.HastyDefense, "Armor")
	if err != nil {
		t.Fatalf("Rate: unexpected error: %v", err)
	}
	if got != 12 {
		t.Errorf("Rate = %g, want 12", got)
	}
}

func TestReadAdvanceRate_UnknownPosture(t *testing.T) {
	t.Parallel()

	const src = "power_ratio,posture,Armor\n1.0,Mobile Defense,4\n"
	_, err := lookup.ReadAdvanceRate("adv", strings.NewReader(src))
	if !errors.Is(err, lookup.ErrUnknownPosture) {
		t.Fatalf("got %v, want ErrUnknownPosture", err)
	}
}

func TestLoadSet_RepositoryData(t *testing.T) {
	t.Parallel()

	set, err := lookup.LoadSet(filepath.Join("..", "..", "data", "tables"))
	if err != nil {
		t.Fatalf("LoadSet: unexpected error: %v", err)
	}
	if _, err := set.Terrain.Value("Rolling bare", "Mobility (r_m)"); err != nil {
		t.Errorf("terrain lookup: %v", err)
	}
	if got := set.Opposition.Interpolate(1.0); got != 1.0 {
		t.Errorf("Opposition(1.0) = %g, want 1.0", got)
	}
	if _, err := set.AdvanceRate.Rates(1.2, lookup.FortifiedDefense); err != nil {
		t.Errorf("advance rates: %v", err)
	}
}

func TestSet_Factors(t *testing.T) {
	t.Parallel()

	set, err := lookup.LoadSet(filepath.Join("..", "..", "data", "tables"))
	if err != nil {
		t.Fatalf("LoadSet: %v", err)
	}
	factors := set.Factors()
	for _, name := range []string{"terrain", "weather", "season", "posture", "surprise", "air_superiority"} {
		if factors[name] == nil {
			t.Errorf("Factors()[%q] is nil", name)
		}
	}
	if factors["terrain"] != set.Terrain {
		t.Error("terrain entry is not the loaded terrain table")
	}
}

func TestLoadSet_ReportsAllMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, lookup.RFFile), []byte("x,y\n0,1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := lookup.LoadSet(dir)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, f := range []string{lookup.TerrainFile, lookup.AdvanceRateFile, lookup.ASEFile} {
		if !strings.Contains(msg, f) {
			t.Errorf("error does not mention %s: %v", f, msg)
		}
	}
	if strings.Contains(msg, lookup.RFFile+":") {
		t.Errorf("error mentions the valid file %s: %v", lookup.RFFile, msg)
	}
}
