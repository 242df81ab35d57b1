package scenario

import (
	"fmt"
	"strings"
)

// suggestions is the number of near matches offered for an unknown name.
const suggestions = 3

// EquipmentInfo describes one scored catalog entry.
type EquipmentInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Category    string   `json:"category"`
	Type        string   `json:"type,omitempty"`
	Crew        int      `json:"crew"`
	OLI         float64  `json:"oli"`
	Weapons     []string `json:"weapons,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UnknownEquipmentError reports a catalog miss with near-match hints. It
// matches [ErrNotFound].
type UnknownEquipmentError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownEquipmentError) Error() string {
	msg := fmt.Sprintf("%s: equipment %q", ErrNotFound, e.Name)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

func (e *UnknownEquipmentError) Is(target error) bool { return target == ErrNotFound }

// Equipment looks name up in the vehicle catalog, then the weapon catalog.
// It does not need a loaded scenario.
func (w *Wargame) Equipment(name string) (EquipmentInfo, error) {
	cat := w.lib.Load().deps.Catalog
	if v, ok := cat.Vehicle(name); ok {
		info := EquipmentInfo{
			Name:        v.Name,
			Kind:        "vehicle",
			Category:    v.Category.String(),
			Type:        v.Type.String(),
			Crew:        v.Crew,
			OLI:         v.OLI,
			Description: v.Description,
		}
		for _, wp := range v.Weapons {
			info.Weapons = append(info.Weapons, wp.Name)
		}
		return info, nil
	}
	if wp, ok := cat.Weapon(name); ok {
		return EquipmentInfo{
			Name:        wp.Name,
			Kind:        "weapon",
			Category:    wp.Category.String(),
			Crew:        wp.Crew,
			OLI:         wp.OLI,
			Description: wp.Description,
		}, nil
	}

	err := &UnknownEquipmentError{Name: name}
	if s, ok := cat.(interface{ Suggest(string, int) []string }); ok {
		err.Suggestions = s.Suggest(name, suggestions)
	}
	return EquipmentInfo{}, err
}
