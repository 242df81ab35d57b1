// Package sitrep renders a line-numbered situation report for a resolved
// battle. Strength and casualty figures are banded rather than exact, as an
// observer would report them.
package sitrep

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/qjm/internal/battle"
)

// DTGLayout is the date-time group layout of line 1.
const DTGLayout = "021504Z Jan 06"

// Strength bands a headcount.
func Strength(personnel int) string {
	switch {
	case personnel < 100:
		return "few"
	case personnel < 500:
		return "a moderate number of"
	default:
		return "many"
	}
}

// VehicleStrength bands a vehicle count.
func VehicleStrength(vehicles int) string {
	switch {
	case vehicles < 5:
		return "minimal"
	case vehicles < 15:
		return "moderate"
	default:
		return "substantial"
	}
}

// Casualties bands a casualty rate.
func Casualties(rate float64) string {
	switch {
	case rate < 0.1:
		return "light casualties"
	case rate < 0.25:
		return "moderate casualties"
	default:
		return "heavy casualties"
	}
}

// Effectiveness is "Effective" when the attacker has the upper hand.
func Effectiveness(powerRatio float64) string {
	if powerRatio > 1 {
		return "Effective"
	}
	return "Degraded"
}

// Build renders the report for in and its result res, dated now (UTC). The
// reporting unit is the first attacker; the enemy estimate is drawn from the
// first defender.
func Build(in battle.Input, res *battle.Result, now time.Time) string {
	reporting, enemyPers, enemyVeh, ownPers := "(unknown)", 0, 0, 0
	if len(in.Attackers) > 0 {
		a := in.Attackers[0]
		reporting = a.Name
		ownPers = a.CountPersonnel(true)
	}
	if len(in.Defenders) > 0 {
		d := in.Defenders[0]
		enemyPers = d.CountPersonnel(true)
		enemyVeh = d.CountVehicles(true)
	}

	lines := []string{
		"DATE AND TIME: " + strings.ToUpper(now.UTC().Format(DTGLayout)),
		"UNIT: " + reporting,
		"REFERENCE: SITREP, " + reporting,
		"ORIGINATOR: " + reporting,
		"REPORTED UNIT: " + reporting,
		"HOME LOCATION: (not reported)",
		"PRESENT LOCATION: (not reported)",
		fmt.Sprintf("ACTIVITY: Engaged in %s operations in %s terrain, %s weather.",
			strings.ToLower(in.Posture), strings.ToLower(in.Terrain), strings.ToLower(in.Weather)),
		"EFFECTIVE: " + Effectiveness(res.PowerRatio),
		fmt.Sprintf("OWN SITUATION DISPOSITION/STATUS: Power ratio %.2f against the opposing force.", res.PowerRatio),
		"LOCATION: (not reported)",
		fmt.Sprintf("SITUATION OVERVIEW: Air situation %s; surprise %s.",
			orNone(in.AirSuperiority), orNone(in.Surprise)),
		fmt.Sprintf("OPERATIONS: Offensive operations initiated against an estimated enemy force of %s personnel with %s vehicle support. "+
			"Enemy forces sustained %s and %s in armoured units.",
			Strength(enemyPers), VehicleStrength(enemyVeh),
			Casualties(res.DefPersCasualtyRate), Casualties(res.DefTankCasualtyRate)),
		"INTELLIGENCE/RECONNAISSANCE: " + advance(res.AdvanceRate),
		"LOGISTICS: No deficiencies reported.",
		"COMMUNICATIONS/CONNECTIVITY: No outages reported.",
		fmt.Sprintf("PERSONNEL: Estimated attacker personnel: %d. Own forces sustained %s. Enemy personnel have suffered %s.",
			ownPers, Casualties(res.AtkPersCasualtyRate), Casualties(res.DefPersCasualtyRate)),
	}

	var b strings.Builder
	b.WriteString("### Situation Report ###\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "LINE %d - %s\n", i+1, l)
	}
	return b.String()
}

func advance(rates map[string]float64) string {
	if len(rates) == 0 {
		return "No advance expected."
	}
	keys := slices.Sorted(maps.Keys(rates))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %.1f km/day", k, rates[k])
	}
	return "Expected advance: " + strings.Join(parts, ", ") + "."
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return strings.ToLower(s)
}
