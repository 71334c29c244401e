// Package calc derives indicators from other indicators: it resolves
// dependency trees through the gateway and applies named transforms
// to the resolved values.
package calc

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sawpanic/macrorun/internal/indicator"
)

// Func computes a derived (current, previous) pair from dependencies
// resolved in descriptor order. Both sides are produced by the same
// formula so change and change percent stay internally consistent.
type Func func(deps []indicator.Value) (current, previous float64, err error)

func currentsOf(deps []indicator.Value) []float64 {
	return lo.Map(deps, func(v indicator.Value, _ int) float64 { return v.Current })
}

func previousesOf(deps []indicator.Value) []float64 {
	return lo.Map(deps, func(v indicator.Value, _ int) float64 { return v.Previous })
}

func needAtLeast(name string, deps []indicator.Value, n int) error {
	if len(deps) < n {
		return fmt.Errorf("transform %s needs at least %d dependencies, got %d", name, n, len(deps))
	}
	return nil
}

func needExactly(name string, deps []indicator.Value, n int) error {
	if len(deps) != n {
		return fmt.Errorf("transform %s needs exactly %d dependencies, got %d", name, n, len(deps))
	}
	return nil
}

// difference subtracts every later dependency from the first:
// a - b - c - ...
func difference(deps []indicator.Value) (float64, float64, error) {
	if err := needAtLeast(indicator.TransformDifference, deps, 1); err != nil {
		return 0, 0, err
	}
	cs, ps := currentsOf(deps), previousesOf(deps)
	return cs[0] - lo.Sum(cs[1:]), ps[0] - lo.Sum(ps[1:]), nil
}

func sum(deps []indicator.Value) (float64, float64, error) {
	if err := needAtLeast(indicator.TransformSum, deps, 1); err != nil {
		return 0, 0, err
	}
	return lo.Sum(currentsOf(deps)), lo.Sum(previousesOf(deps)), nil
}

// spread is the two-legged difference, a - b. Yield curves live here.
func spread(deps []indicator.Value) (float64, float64, error) {
	if err := needExactly(indicator.TransformSpread, deps, 2); err != nil {
		return 0, 0, err
	}
	return deps[0].Current - deps[1].Current, deps[0].Previous - deps[1].Previous, nil
}

// ratio divides the first dependency by the second. A zero current
// denominator fails the calculation; a zero previous denominator only
// zeroes the previous, since history gaps should not sink a live value.
func ratio(deps []indicator.Value) (float64, float64, error) {
	if err := needExactly(indicator.TransformRatio, deps, 2); err != nil {
		return 0, 0, err
	}
	if deps[1].Current == 0 {
		return 0, 0, fmt.Errorf("transform %s: zero denominator from %s", indicator.TransformRatio, deps[1].Symbol)
	}
	current := deps[0].Current / deps[1].Current
	previous := 0.0
	if deps[1].Previous != 0 {
		previous = deps[0].Previous / deps[1].Previous
	}
	return current, previous, nil
}

func mean(deps []indicator.Value) (float64, float64, error) {
	if err := needAtLeast(indicator.TransformMean, deps, 1); err != nil {
		return 0, 0, err
	}
	n := float64(len(deps))
	return lo.Sum(currentsOf(deps)) / n, lo.Sum(previousesOf(deps)) / n, nil
}

func minOf(deps []indicator.Value) (float64, float64, error) {
	if err := needAtLeast(indicator.TransformMin, deps, 1); err != nil {
		return 0, 0, err
	}
	return lo.Min(currentsOf(deps)), lo.Min(previousesOf(deps)), nil
}

func maxOf(deps []indicator.Value) (float64, float64, error) {
	if err := needAtLeast(indicator.TransformMax, deps, 1); err != nil {
		return 0, 0, err
	}
	return lo.Max(currentsOf(deps)), lo.Max(previousesOf(deps)), nil
}

// delta is the one-period change of a single dependency. There is no
// meaningful previous delta without deeper history, so it reports 0.
func delta(deps []indicator.Value) (float64, float64, error) {
	if err := needExactly(indicator.TransformDelta, deps, 1); err != nil {
		return 0, 0, err
	}
	return deps[0].Current - deps[0].Previous, 0, nil
}

func builtinTransforms() map[string]Func {
	return map[string]Func{
		indicator.TransformDifference: difference,
		indicator.TransformSum:        sum,
		indicator.TransformSpread:     spread,
		indicator.TransformRatio:      ratio,
		indicator.TransformMean:       mean,
		indicator.TransformMin:        minOf,
		indicator.TransformMax:        maxOf,
		indicator.TransformDelta:      delta,
	}
}
