package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/qjm/internal/battle"
	"github.com/MrWong99/qjm/internal/scenario"
)

// Tool names.
const (
	ToolResolveBattle  = "resolve_battle"
	ToolCommitBattle   = "commit_battle"
	ToolListFormations = "list_formations"
	ToolGetFormation   = "get_formation"
	ToolCountPersonnel = "count_personnel"
	ToolGetEquipment   = "get_equipment"
	ToolTakeSnapshot   = "take_snapshot"
	ToolGetSnapshots   = "get_snapshots"
	ToolGetFactorTable = "get_factor_table"
)

// sortieArgs is one aircraft sortie allocation.
type sortieArgs struct {
	ID      string `json:"id" jsonschema:"aircraft id, e.g. AIR0001"`
	Sorties int    `json:"sorties" jsonschema:"number of sorties flown in support"`
}

// battleArgs is the input of resolve_battle and commit_battle.
type battleArgs struct {
	Terrain        string  `json:"terrain" jsonschema:"terrain row, e.g. Rolling mixed"`
	Weather        string  `json:"weather" jsonschema:"weather row, e.g. Dry sunshine temperate"`
	Season         string  `json:"season" jsonschema:"season row, e.g. Summer temperate"`
	Posture        string  `json:"posture" jsonschema:"defender posture, e.g. Hasty Defense"`
	AirSuperiority string  `json:"airsuperiority" jsonschema:"Air Superiority, Air Equality or Air Inferiority from the attacker's view"`
	Surprise       string  `json:"atksurprise,omitempty" jsonschema:"surprise level achieved by the attacker"`
	SurpriseDays   int     `json:"atksurprisedays,omitempty" jsonschema:"days since the surprise was achieved"`
	AtkCEV         float64 `json:"atkcev,omitempty" jsonschema:"attacker combat effectiveness value, default 1"`
	DefCEV         float64 `json:"defcev,omitempty" jsonschema:"defender combat effectiveness value, default 1"`

	Attackers    []string     `json:"attackers" jsonschema:"attacking formation ids"`
	Defenders    []string     `json:"defenders" jsonschema:"defending formation ids"`
	AirAttackers []sortieArgs `json:"air_attackers,omitempty" jsonschema:"attacker air support"`
	AirDefenders []sortieArgs `json:"air_defenders,omitempty" jsonschema:"defender air support"`

	Recursive *bool `json:"recursive,omitempty" jsonschema:"include subordinate units, default true"`
}

func (a battleArgs) request() scenario.BattleRequest {
	return scenario.BattleRequest{
		Terrain:        a.Terrain,
		Weather:        a.Weather,
		Season:         a.Season,
		Posture:        a.Posture,
		AirSuperiority: a.AirSuperiority,
		Surprise:       a.Surprise,
		SurpriseDays:   a.SurpriseDays,
		AtkCEV:         a.AtkCEV,
		DefCEV:         a.DefCEV,
		Attackers:      a.Attackers,
		Defenders:      a.Defenders,
		AirAttackers:   sorties(a.AirAttackers),
		AirDefenders:   sorties(a.AirDefenders),
		Recursive:      a.Recursive,
	}
}

func sorties(in []sortieArgs) []scenario.SortieRequest {
	out := make([]scenario.SortieRequest, 0, len(in))
	for _, s := range in {
		out = append(out, scenario.SortieRequest{ID: s.ID, Sorties: s.Sorties})
	}
	return out
}

type noArgs struct{}

type formationArgs struct {
	ID   string `json:"id,omitempty" jsonschema:"formation id"`
	Name string `json:"name,omitempty" jsonschema:"formation name, used when id is empty"`
}

type personnelArgs struct {
	Attackers []string `json:"attackers" jsonschema:"attacking formation ids"`
	Defenders []string `json:"defenders" jsonschema:"defending formation ids"`
}

type equipmentArgs struct {
	Name string `json:"name" jsonschema:"weapon or vehicle name"`
}

type factorTableArgs struct {
	Name string `json:"name" jsonschema:"terrain, weather, season, posture, surprise or air_superiority"`
}

type snapshotArgs struct {
	Date      string                  `json:"date" jsonschema:"snapshot date, YYYY-MM-DD or RFC 3339"`
	Locations []scenario.UnitLocation `json:"unitLocations,omitempty" jsonschema:"formation coordinates"`
}

type snapshotsArgs struct {
	Date string `json:"date" jsonschema:"snapshot date as given to take_snapshot"`
}

type committed struct {
	Status string          `json:"status"`
	Result *battle.Outcome `json:"result"`
}

type snapshotTaken struct {
	Status string `json:"status"`
	Date   string `json:"date"`
}

func (s *Server) register() {
	addTool(s, &mcp.Tool{
		Name:        ToolResolveBattle,
		Description: "Resolve an engagement between attacking and defending formations without changing their state. Returns power ratio, casualty rates and advance rates.",
	}, s.resolveBattle)

	addTool(s, &mcp.Tool{
		Name:        ToolCommitBattle,
		Description: "Resolve an engagement and apply the rolled losses to both sides.",
	}, s.commitBattle)

	addTool(s, &mcp.Tool{
		Name:        ToolListFormations,
		Description: "List the factions of the loaded scenario with their formation trees.",
	}, s.listFormations)

	addTool(s, &mcp.Tool{
		Name:        ToolGetFormation,
		Description: "Summarise one formation by id or name, including subordinate units.",
	}, s.getFormation)

	addTool(s, &mcp.Tool{
		Name:        ToolCountPersonnel,
		Description: "Count active personnel of the given formations, excluding subordinate units.",
	}, s.countPersonnel)

	addTool(s, &mcp.Tool{
		Name:        ToolGetEquipment,
		Description: "Look up the lethality index of a weapon or vehicle.",
	}, s.getEquipment)

	addTool(s, &mcp.Tool{
		Name:        ToolTakeSnapshot,
		Description: "Record the status and location of every formation and advance the scenario date.",
	}, s.takeSnapshot)

	addTool(s, &mcp.Tool{
		Name:        ToolGetSnapshots,
		Description: "List formation locations recorded for a snapshot date.",
	}, s.getSnapshots)

	addTool(s, &mcp.Tool{
		Name:        ToolGetFactorTable,
		Description: "Show an environmental or operational factor table used by battle resolution.",
	}, s.getFactorTable)
}

func (s *Server) resolveBattle(ctx context.Context, _ *mcp.CallToolRequest, in battleArgs) (*mcp.CallToolResult, battle.Result, error) {
	res, err := s.wg.Simulate(ctx, in.request())
	if err != nil {
		return nil, battle.Result{}, err
	}
	return nil, *res, nil
}

func (s *Server) commitBattle(ctx context.Context, _ *mcp.CallToolRequest, in battleArgs) (*mcp.CallToolResult, committed, error) {
	out, err := s.wg.Commit(ctx, in.request())
	if err != nil {
		return nil, committed{}, err
	}
	return nil, committed{Status: "committed", Result: out}, nil
}

// listFormations answers with text content only. The tree type is
// recursive, which output schema inference does not support.
func (s *Server) listFormations(context.Context, *mcp.CallToolRequest, noArgs) (*mcp.CallToolResult, any, error) {
	tree, err := s.wg.Factions()
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(map[string][]scenario.Node{"factions": tree})
	if err != nil {
		return nil, nil, fmt.Errorf("mcpserver: encode factions: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func (s *Server) getFormation(_ context.Context, _ *mcp.CallToolRequest, in formationArgs) (*mcp.CallToolResult, scenario.FormationInfo, error) {
	var (
		info scenario.FormationInfo
		err  error
	)
	switch {
	case in.ID != "":
		info, err = s.wg.Formation(in.ID)
	case in.Name != "":
		info, err = s.wg.FormationByName(in.Name)
	default:
		err = fmt.Errorf("%w: id or name is required", scenario.ErrInvalid)
	}
	return nil, info, err
}

func (s *Server) countPersonnel(_ context.Context, _ *mcp.CallToolRequest, in personnelArgs) (*mcp.CallToolResult, scenario.PersonnelCount, error) {
	n, err := s.wg.Personnel(in.Attackers, in.Defenders)
	return nil, n, err
}

func (s *Server) getEquipment(_ context.Context, _ *mcp.CallToolRequest, in equipmentArgs) (*mcp.CallToolResult, scenario.EquipmentInfo, error) {
	info, err := s.wg.Equipment(in.Name)
	return nil, info, err
}

func (s *Server) getFactorTable(_ context.Context, _ *mcp.CallToolRequest, in factorTableArgs) (*mcp.CallToolResult, scenario.FactorTable, error) {
	t, err := s.wg.FactorTable(in.Name)
	return nil, t, err
}

func (s *Server) takeSnapshot(ctx context.Context, _ *mcp.CallToolRequest, in snapshotArgs) (*mcp.CallToolResult, snapshotTaken, error) {
	if in.Date == "" {
		return nil, snapshotTaken{}, errors.New("date is required")
	}
	if err := s.wg.Snapshot(ctx, in.Date, in.Locations); err != nil {
		return nil, snapshotTaken{}, err
	}
	return nil, snapshotTaken{Status: "success", Date: in.Date}, nil
}

func (s *Server) getSnapshots(_ context.Context, _ *mcp.CallToolRequest, in snapshotsArgs) (*mcp.CallToolResult, scenario.SnapshotView, error) {
	view, err := s.wg.Snapshots(in.Date)
	return nil, view, err
}
