package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/qjm/internal/resilience"
)

// ScenarioLoaded fails until loaded reports true.
func ScenarioLoaded(loaded func() bool) Checker {
	return Checker{
		Name: "scenario",
		Check: func(context.Context) error {
			if !loaded() {
				return errors.New("no scenario loaded")
			}
			return nil
		},
	}
}

// Breakers fails when every circuit breaker reported by states is open, i.e.
// no backend can currently serve requests. Individual open breakers are
// tolerated since the fallback chain routes around them.
func Breakers(name string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			if len(st) == 0 {
				return nil
			}
			var open []string
			for backend, s := range st {
				if s == resilience.StateOpen {
					open = append(open, backend)
				}
			}
			if len(open) < len(st) {
				return nil
			}
			slices.Sort(open)
			return fmt.Errorf("all backends open: %s", strings.Join(open, ", "))
		},
	}
}
