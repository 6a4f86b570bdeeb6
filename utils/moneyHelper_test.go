package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUpEpsilon(t *testing.T) {
	cases := []struct {
		in       string
		places   int32
		expected string
	}{
		{"11.6725", 2, "11.67"},
		{"12.005", 2, "12.01"},
		{"12.004999999", 2, "12.01"}, // float residue just under the half
		{"12.004", 2, "12"},
		{"-12.005", 2, "-12.01"},
		{"1498.5", 0, "1499"},
		{"0.4", 0, "0"},
		{"0", 2, "0"},
	}
	for _, tc := range cases {
		got := RoundHalfUpEpsilon(decimal.RequireFromString(tc.in), tc.places)
		if got.String() != tc.expected {
			t.Fatalf("RoundHalfUpEpsilon(%s, %d): expected %s, got %s", tc.in, tc.places, tc.expected, got)
		}
	}
}

func TestRoundHalfUpEpsilon_FloatSourcedAmount(t *testing.T) {
	// 16.675 * 0.7 computed in float64 lands a hair under 11.6725
	fee := decimal.NewFromFloat(16.675)
	rate := decimal.NewFromFloat(0.7)
	got := RoundHalfUpEpsilon(fee.Mul(rate), 2)
	if got.String() != "11.67" {
		t.Fatalf("expected 11.67, got %s", got)
	}
}
