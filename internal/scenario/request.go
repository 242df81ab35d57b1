package scenario

import (
	"errors"
	"fmt"

	"github.com/MrWong99/qjm/internal/battle"
)

// SortieRequest flies Sorties sorties of the aircraft with the given id.
type SortieRequest struct {
	ID      string `json:"id"`
	Sorties int    `json:"sorties"`
}

// BattleRequest is the wire form of one engagement. Category fields must be
// keys of the loaded lookup tables. A zero CEV means 1.
type BattleRequest struct {
	Terrain        string  `json:"terrain"`
	Weather        string  `json:"weather"`
	Season         string  `json:"season"`
	Posture        string  `json:"posture"`
	AirSuperiority string  `json:"airsuperiority"`
	Surprise       string  `json:"atksurprise"`
	SurpriseDays   int     `json:"atksurprisedays"`
	AtkCEV         float64 `json:"atkcev"`
	DefCEV         float64 `json:"defcev"`

	Attackers    []string        `json:"attackers"`
	Defenders    []string        `json:"defenders"`
	AirAttackers []SortieRequest `json:"air_attackers"`
	AirDefenders []SortieRequest `json:"air_defenders"`

	// Recursive includes subunits; nil means true.
	Recursive *bool `json:"recursive,omitempty"`
}

// UnitLocation places a formation for a snapshot.
type UnitLocation struct {
	ID          string    `json:"id"`
	Coordinates []float64 `json:"coordinates"`
}

// Placement is a formation location recorded in a snapshot.
type Placement struct {
	ID       string    `json:"id"`
	Location []float64 `json:"location"`
}

// SnapshotView lists the placed formations of one snapshot date.
type SnapshotView struct {
	Formations []Placement `json:"formations"`
}

// PersonnelCount is the non-recursive headcount of each side.
type PersonnelCount struct {
	Attackers int `json:"attackers"`
	Defenders int `json:"defenders"`
}

// FormationInfo summarises one formation node.
type FormationInfo struct {
	Name      string  `json:"name"`
	OLI       float64 `json:"oli"`
	Faction   string  `json:"faction"`
	Personnel int     `json:"personnel"`
	Vehicles  int     `json:"vehicles"`
	SIDC      string  `json:"sidc"`
	ShortName string  `json:"shortname"`
	UnitID    string  `json:"unit_id"`
}

// Node is one entry of the faction tree view.
type Node struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortname"`
	SIDC      string `json:"sidc"`
	Color     string `json:"color,omitempty"`
	Children  []Node `json:"children"`
}

// input resolves every id in req against sc.
func (req BattleRequest) input(sc *Scenario) (battle.Input, error) {
	in := battle.Input{
		Terrain:        req.Terrain,
		Weather:        req.Weather,
		Season:         req.Season,
		Posture:        req.Posture,
		AirSuperiority: req.AirSuperiority,
		Surprise:       req.Surprise,
		SurpriseDays:   req.SurpriseDays,
		AtkCEV:         orOne(req.AtkCEV),
		DefCEV:         orOne(req.DefCEV),
		Recursive:      req.Recursive == nil || *req.Recursive,
	}

	var errs []error
	for _, id := range req.Attackers {
		if f, ok := sc.Formation(id); ok {
			in.Attackers = append(in.Attackers, f)
		} else {
			errs = append(errs, fmt.Errorf("%w %q", battle.ErrUnknownFormation, id))
		}
	}
	for _, id := range req.Defenders {
		if f, ok := sc.Formation(id); ok {
			in.Defenders = append(in.Defenders, f)
		} else {
			errs = append(errs, fmt.Errorf("%w %q", battle.ErrUnknownFormation, id))
		}
	}
	sorties := func(reqs []SortieRequest) []battle.Sortie {
		var out []battle.Sortie
		for _, s := range reqs {
			a, ok := sc.Aircraft(s.ID)
			if !ok {
				errs = append(errs, fmt.Errorf("%w %q", battle.ErrUnknownAircraft, s.ID))
				continue
			}
			out = append(out, battle.Sortie{Vehicle: a.Vehicle, Sorties: s.Sorties})
		}
		return out
	}
	in.AirAttackers = sorties(req.AirAttackers)
	in.AirDefenders = sorties(req.AirDefenders)
	return in, errors.Join(errs...)
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
