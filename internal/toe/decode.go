package toe

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LINDef is one entry of a LIN file, keyed by code in the file's mapping.
type LINDef struct {
	Name  string   `yaml:"name"`
	Items []string `yaml:"items"`
}

// RoleDef is a personnel role written as a single-key mapping:
//
//	- Rifleman:
//	    rank: E3
//	    equipment: [RIFLE]
type RoleDef struct {
	Name      string
	Rank      string
	Equipment []string
}

type roleBody struct {
	Rank      string   `yaml:"rank"`
	Equipment []string `yaml:"equipment"`
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (r *RoleDef) UnmarshalYAML(n *yaml.Node) error {
	key, val, err := singleKey(n)
	if err != nil {
		return err
	}
	var body roleBody
	if err := val.Decode(&body); err != nil {
		return fmt.Errorf("role %q: %w", key, err)
	}
	*r = RoleDef{Name: key, Rank: body.Rank, Equipment: body.Equipment}
	return nil
}

// VehicleRoleDef is a vehicle slot written as a single-key mapping from the
// vehicle LIN to its crew roles.
type VehicleRoleDef struct {
	LIN  string
	Crew []RoleDef
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (v *VehicleRoleDef) UnmarshalYAML(n *yaml.Node) error {
	key, val, err := singleKey(n)
	if err != nil {
		return err
	}
	var crew []RoleDef
	if err := val.Decode(&crew); err != nil {
		return fmt.Errorf("vehicle %q: %w", key, err)
	}
	*v = VehicleRoleDef{LIN: key, Crew: crew}
	return nil
}

// TemplateDef is the on-disk form of one template.
type TemplateDef struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	Nation    string           `yaml:"nation"`
	SIDC      string           `yaml:"sidc"`
	Subunits  []string         `yaml:"subunits"`
	Personnel []RoleDef        `yaml:"personnel"`
	Vehicles  []VehicleRoleDef `yaml:"vehicles"`
}

// DecodeLINs parses a LIN file: a mapping from code to definition.
func DecodeLINs(r io.Reader) (map[string]LINDef, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out map[string]LINDef
	if err := dec.Decode(&out); err != nil {
		if err == io.EOF {
			return map[string]LINDef{}, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	for code, def := range out {
		if len(def.Items) == 0 {
			return nil, fmt.Errorf("lin %q has no items", code)
		}
	}
	return out, nil
}

// DecodeTemplate parses a single template file.
func DecodeTemplate(r io.Reader) (TemplateDef, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def TemplateDef
	if err := dec.Decode(&def); err != nil {
		return TemplateDef{}, fmt.Errorf("decode yaml: %w", err)
	}
	if def.ID == "" {
		return TemplateDef{}, fmt.Errorf("template has no id")
	}
	return def, nil
}

func singleKey(n *yaml.Node) (string, *yaml.Node, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return "", nil, fmt.Errorf("line %d: expected a single-key mapping", n.Line)
	}
	return n.Content[0].Value, n.Content[1], nil
}
