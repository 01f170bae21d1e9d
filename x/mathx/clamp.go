// Package mathx holds the small numeric helpers the light math needs:
// generic clamping plus float interpolation on the unit interval.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UnitF clamps v to the unit interval [0..1].
func UnitF(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LerpF returns linear interpolation between a and b. t is clamped to
// [0..1], so the result is always in [min(a,b), max(a,b)].
func LerpF(a, b, t float64) float64 {
	return a + (b-a)*UnitF(t)
}
