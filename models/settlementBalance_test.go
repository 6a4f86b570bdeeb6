package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateOutstanding_MixedCurrencies(t *testing.T) {
	items := []ParcelItem{
		codItem(1, "60.50", CurrencyUSD),
		codItem(2, "39.50", CurrencyUSD),
		codItem(3, "200000", CurrencyKHR),
		taxiCodItem(4, "25", CurrencyUSD, "5", CurrencyUSD),
	}

	balance := CalculateOutstanding(7, items)

	usd := balance.Breakdowns[CurrencyUSD]
	if usd.CodTotal.String() != "125" {
		t.Fatalf("USD cod total: expected 125, got %s", usd.CodTotal)
	}
	if usd.TaxiTotal.String() != "5" {
		t.Fatalf("USD taxi total: expected 5, got %s", usd.TaxiTotal)
	}
	if usd.Net.String() != "120" {
		t.Fatalf("USD net: expected 120, got %s", usd.Net)
	}
	if usd.ItemCount != 3 {
		t.Fatalf("USD item count: expected 3, got %d", usd.ItemCount)
	}

	khr := balance.Breakdowns[CurrencyKHR]
	if khr.CodTotal.String() != "200000" || khr.ItemCount != 1 {
		t.Fatalf("KHR breakdown: got total %s count %d", khr.CodTotal, khr.ItemCount)
	}
	if !khr.Net.Equal(khr.CodTotal) {
		t.Fatalf("KHR net should equal its cod total, got %s", khr.Net)
	}
}

func TestCalculateOutstanding_TaxiFeeCountsInItsOwnCurrency(t *testing.T) {
	// a USD parcel delivered by a taxi paid in riel
	items := []ParcelItem{taxiCodItem(1, "30", CurrencyUSD, "8000", CurrencyKHR)}

	balance := CalculateOutstanding(7, items)

	usd := balance.Breakdowns[CurrencyUSD]
	if usd.CodTotal.String() != "30" || !usd.TaxiTotal.IsZero() {
		t.Fatalf("USD: cod %s taxi %s", usd.CodTotal, usd.TaxiTotal)
	}
	khr := balance.Breakdowns[CurrencyKHR]
	if khr.TaxiTotal.String() != "8000" {
		t.Fatalf("KHR taxi total: expected 8000, got %s", khr.TaxiTotal)
	}
	if khr.Net.String() != "-8000" {
		t.Fatalf("KHR net: expected -8000, got %s", khr.Net)
	}
}

func TestCalculateOutstanding_OrderInvariance(t *testing.T) {
	items := []ParcelItem{
		codItem(1, "10.25", CurrencyUSD),
		codItem(2, "4000", CurrencyKHR),
		taxiCodItem(3, "7.75", CurrencyUSD, "2", CurrencyUSD),
	}
	reversed := []ParcelItem{items[2], items[1], items[0]}

	a := CalculateOutstanding(7, items)
	b := CalculateOutstanding(7, reversed)

	for _, currency := range AllCurrencies {
		ba, bb := a.Breakdowns[currency], b.Breakdowns[currency]
		if !ba.CodTotal.Equal(bb.CodTotal) || !ba.TaxiTotal.Equal(bb.TaxiTotal) ||
			!ba.Net.Equal(bb.Net) || ba.ItemCount != bb.ItemCount {
			t.Fatalf("%s breakdown differs with item order: %+v vs %+v", currency, ba, bb)
		}
	}
}

func TestCalculateOutstanding_EmptyBreakdownsPresent(t *testing.T) {
	balance := CalculateOutstanding(7, nil)
	for _, currency := range AllCurrencies {
		breakdown, ok := balance.Breakdowns[currency]
		if !ok {
			t.Fatalf("missing %s breakdown", currency)
		}
		if !breakdown.CodTotal.Equal(decimal.Zero) || breakdown.ItemCount != 0 {
			t.Fatalf("%s breakdown should be zero, got %+v", currency, breakdown)
		}
	}
}
