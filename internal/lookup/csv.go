package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadStandard parses a [Standard] table from CSV. The first header cell
// labels the category column and is ignored; the remaining header cells are
// the column names.
func ReadStandard(name string, r io.Reader) (*Standard, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("lookup: read %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("lookup: %s: header needs a category and at least one column", name)
	}
	columns := header[1:]
	rows := make(map[string]map[string]float64, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) != len(header) {
			return nil, fmt.Errorf("lookup: %s line %d: want %d fields, got %d", name, line, len(header), len(rec))
		}
		cat := rec[0]
		if _, dup := rows[cat]; dup {
			return nil, fmt.Errorf("%w: %s category %q", ErrDuplicateKey, name, cat)
		}
		row := make(map[string]float64, len(columns))
		for j, col := range columns {
			v, err := parseFloat(rec[j+1])
			if err != nil {
				return nil, fmt.Errorf("lookup: %s line %d column %q: %w", name, line, col, err)
			}
			row[col] = v
		}
		rows[cat] = row
	}
	return NewStandard(name, columns, rows)
}

// ReadInterpolating parses an [Interpolating] table from a two-column CSV
// with a header row.
func ReadInterpolating(name string, r io.Reader) (*Interpolating, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("lookup: read %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	points := make([]Point, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) < 2 {
			return nil, fmt.Errorf("lookup: %s line %d: want 2 fields, got %d", name, line, len(rec))
		}
		x, err := parseFloat(rec[0])
		if err != nil {
			return nil, fmt.Errorf("lookup: %s line %d: %w", name, line, err)
		}
		y, err := parseFloat(rec[1])
		if err != nil {
			return nil, fmt.Errorf("lookup: %s line %d: %w", name, line, err)
		}
		points = append(points, Point{X: x, Y: y})
	}
	return NewInterpolating(name, points)
}

// ReadAdvanceRate parses an [AdvanceRate] table. The header is
// "power_ratio,posture,<unit>,<unit>...".
func ReadAdvanceRate(name string, r io.Reader) (*AdvanceRate, error) {
	records, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("lookup: read %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, name)
	}
	header := records[0]
	if len(header) < 3 {
		return nil, fmt.Errorf("lookup: %s: header needs power ratio, posture and at least one unit type", name)
	}
	units := header[2:]
	rows := make([]AdvanceRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) != len(header) {
			return nil, fmt.Errorf("lookup: %s line %d: want %d fields, got %d", name, line, len(header), len(rec))
		}
		pr, err := parseFloat(rec[0])
		if err != nil {
			return nil, fmt.Errorf("lookup: %s line %d: %w", name, line, err)
		}
		posture, err := ParsePosture(rec[1])
		if err != nil {
			return nil, fmt.Errorf("lookup: %s line %d: %w", name, line, err)
		}
		rates := make(map[string]float64, len(units))
		for j, u := range units {
			v, err := parseFloat(rec[j+2])
			if err != nil {
				return nil, fmt.Errorf("lookup: %s line %d column %q: %w", name, line, u, err)
			}
			rates[u] = v
		}
		rows = append(rows, AdvanceRow{PowerRatio: pr, Posture: posture, Rates: rates})
	}
	return NewAdvanceRate(name, units, rows)
}

func readAll(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	var out [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		out = append(out, rec)
	}
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
