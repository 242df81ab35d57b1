package equipment

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeWeapon parses one weapon definition. Unknown keys and missing
// required keys are errors.
func DecodeWeapon(r io.Reader) (WeaponDef, error) {
	var def WeaponDef
	if err := decodeStrict(r, &def, weaponRequired); err != nil {
		return WeaponDef{}, err
	}
	return def, nil
}

// DecodeVehicle parses one vehicle definition. Unknown keys and missing
// required keys are errors.
func DecodeVehicle(r io.Reader) (VehicleDef, error) {
	var def VehicleDef
	if err := decodeStrict(r, &def, vehicleRequired); err != nil {
		return VehicleDef{}, err
	}
	return def, nil
}

func decodeFile[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	return decode(f)
}

func decodeStrict(r io.Reader, dst any, required []string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: definition is not a mapping", ErrMissingField)
	}
	present := make(map[string]bool)
	m := root.Content[0]
	for i := 0; i+1 < len(m.Content); i += 2 {
		present[m.Content[i].Value] = true
	}
	for _, k := range required {
		if !present[k] {
			return fmt.Errorf("%w: %s", ErrMissingField, k)
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}
