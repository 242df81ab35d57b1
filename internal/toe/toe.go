// Package toe loads organization templates (Tables of Organization and
// Equipment) and the equipment classes (LINs) they reference, and resolves
// them into an acyclic template graph.
//
// A [Database] is either fully built or not returned at all: duplicate
// identifiers, dangling references and subunit cycles abort the load.
package toe

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrDuplicateID is returned when two LINs or two templates share an id.
	ErrDuplicateID = errors.New("toe: duplicate id")

	// ErrRecursion is returned when a template references itself, directly or
	// through other templates, as a subunit.
	ErrRecursion = errors.New("toe: recursion detected")

	// ErrUnknownTemplate is returned for a subunit id with no template.
	ErrUnknownTemplate = errors.New("toe: unknown template")

	// ErrUnknownLIN is returned for an equipment reference with no LIN.
	ErrUnknownLIN = errors.New("toe: unknown lin")
)

// RecursionError reports the build chain that closed a cycle. The last
// element of Chain is the template that was re-entered.
type RecursionError struct {
	Chain []string
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRecursion, strings.Join(e.Chain, " -> "))
}

// Is lets errors.Is match [ErrRecursion].
func (e *RecursionError) Is(target error) bool { return target == ErrRecursion }

// LIN is an equipment class: an ordered list of interchangeable concrete
// items, highest priority first.
type LIN struct {
	Code  string
	Name  string
	Items []string
}

// Assign picks the concrete item for this class given the items a unit has
// available. The first available item in the caller's order that belongs
// to the class wins; with no match the class's first item is used.
func (l *LIN) Assign(available []string) string {
	for _, nsn := range available {
		if slices.Contains(l.Items, nsn) {
			return nsn
		}
	}
	return l.Items[0]
}

// Role is a personnel slot in a template.
type Role struct {
	Name      string
	Rank      string
	Equipment []*LIN
}

// VehicleRole is a vehicle slot and its crew.
type VehicleRole struct {
	Name string
	LIN  *LIN
	Crew []Role
}

// Template is a resolved organization template. A template with subunits
// is pure composition; a template without is a leaf carrying personnel and
// vehicles.
type Template struct {
	ID       string
	Name     string
	Nation   string
	SIDC     string
	Subunits []*Template

	Personnel []Role
	Vehicles  []VehicleRole

	def   TemplateDef
	built bool
}

// Leaf reports whether t has no subunits.
func (t *Template) Leaf() bool { return len(t.Subunits) == 0 }

func (t *Template) String() string {
	return fmt.Sprintf("TOE(%s: %s, %s)", t.ID, t.Name, t.Nation)
}
