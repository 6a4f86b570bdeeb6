package models

import (
	"testing"

	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

func percentRule(zone string, event CommissionEventType, currency Currency, rate string) CommissionRule {
	return CommissionRule{
		Zone:      zone,
		EventType: event,
		Currency:  currency,
		Rate:      decimal.RequireFromString(rate),
		IsActive:  utils.NewTrue(),
	}
}

func TestResolveCommission_RateRounding(t *testing.T) {
	cases := []struct {
		fee      string
		rate     string
		currency Currency
		expected string
	}{
		// half-up at the cent, even when the product lands exactly on .xx5
		{"16.675", "0.7", CurrencyUSD, "11.67"},
		{"17.15", "0.7", CurrencyUSD, "12.01"},
		{"10", "0.5", CurrencyUSD, "5"},
		// KHR rounds to whole riel
		{"4500", "0.333", CurrencyKHR, "1499"},
	}
	for _, tc := range cases {
		rules := []CommissionRule{percentRule("", CommissionEventDelivery, tc.currency, tc.rate)}
		amount, ok := ResolveCommission(rules, "", CommissionEventDelivery,
			decimal.RequireFromString(tc.fee), tc.currency)
		if !ok {
			t.Fatalf("fee %s rate %s: unexpectedly suppressed", tc.fee, tc.rate)
		}
		if amount.String() != tc.expected {
			t.Fatalf("fee %s rate %s: expected %s, got %s", tc.fee, tc.rate, tc.expected, amount)
		}
	}
}

func TestResolveCommission_ZoneBeatsDefault(t *testing.T) {
	rules := []CommissionRule{
		percentRule("", CommissionEventDelivery, CurrencyUSD, "0.1"),
		percentRule("north", CommissionEventDelivery, CurrencyUSD, "0.2"),
	}
	amount, ok := ResolveCommission(rules, "north", CommissionEventDelivery,
		decimal.NewFromInt(100), CurrencyUSD)
	if !ok || amount.String() != "20" {
		t.Fatalf("expected zoned rate 20, got %s (ok=%v)", amount, ok)
	}
}

func TestResolveCommission_DefaultFallback(t *testing.T) {
	rules := []CommissionRule{
		percentRule("north", CommissionEventDelivery, CurrencyUSD, "0.2"),
		percentRule("", CommissionEventDelivery, CurrencyUSD, "0.1"),
	}
	amount, ok := ResolveCommission(rules, "south", CommissionEventDelivery,
		decimal.NewFromInt(100), CurrencyUSD)
	if !ok || amount.String() != "10" {
		t.Fatalf("expected default rate 10, got %s (ok=%v)", amount, ok)
	}
}

func TestResolveCommission_SuppressedCases(t *testing.T) {
	base := percentRule("", CommissionEventDelivery, CurrencyUSD, "0.1")

	cases := []struct {
		name  string
		rules []CommissionRule
		event CommissionEventType
		fee   decimal.Decimal
		curr  Currency
	}{
		{"no rules", nil, CommissionEventDelivery, decimal.NewFromInt(10), CurrencyUSD},
		{"no rule for event", []CommissionRule{base}, CommissionEventPickup, decimal.NewFromInt(10), CurrencyUSD},
		{"currency mismatch", []CommissionRule{base}, CommissionEventDelivery, decimal.NewFromInt(40000), CurrencyKHR},
		{"zero fee", []CommissionRule{base}, CommissionEventDelivery, decimal.Zero, CurrencyUSD},
		{"rounds to zero", []CommissionRule{percentRule("", CommissionEventDelivery, CurrencyKHR, "0.0001")}, CommissionEventDelivery, decimal.NewFromInt(1000), CurrencyKHR},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount, ok := ResolveCommission(tc.rules, "", tc.event, tc.fee, tc.curr)
			if ok {
				t.Fatalf("expected suppression, got %s", amount)
			}
		})
	}
}

func TestResolveCommission_InactiveRuleSkipped(t *testing.T) {
	inactive := percentRule("", CommissionEventDelivery, CurrencyUSD, "0.5")
	inactive.IsActive = utils.NewFalse()
	rules := []CommissionRule{
		inactive,
		percentRule("", CommissionEventDelivery, CurrencyUSD, "0.1"),
	}
	amount, ok := ResolveCommission(rules, "", CommissionEventDelivery,
		decimal.NewFromInt(100), CurrencyUSD)
	if !ok || amount.String() != "10" {
		t.Fatalf("expected active rule 10, got %s (ok=%v)", amount, ok)
	}
}

func TestResolveCommission_FixedAmount(t *testing.T) {
	rules := []CommissionRule{{
		EventType:   CommissionEventPickup,
		Currency:    CurrencyKHR,
		FixedAmount: decimal.NewFromInt(2000),
		IsActive:    utils.NewTrue(),
	}}
	amount, ok := ResolveCommission(rules, "", CommissionEventPickup,
		decimal.NewFromInt(8000), CurrencyKHR)
	if !ok || amount.String() != "2000" {
		t.Fatalf("expected fixed 2000, got %s (ok=%v)", amount, ok)
	}
}
