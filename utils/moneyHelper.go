package utils

import "github.com/shopspring/decimal"

// epsilonNudge compensates for float-sourced amounts that sit a hair below a
// half boundary (e.g. 12.005 arriving as 12.004999...): without it half-up
// rounding truncates to 12.00 instead of 12.01.
var epsilonNudge = decimal.New(1, -9)

// RoundHalfUpEpsilon rounds to the given number of decimal places, half-up,
// after nudging the value away from zero by a machine epsilon.
func RoundHalfUpEpsilon(d decimal.Decimal, places int32) decimal.Decimal {
	if d.IsNegative() {
		return d.Sub(epsilonNudge).Round(places)
	}
	return d.Add(epsilonNudge).Round(places)
}
