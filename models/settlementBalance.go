package models

import (
	"context"

	"github.com/shopspring/decimal"
)

// CurrencyBreakdown is what a driver owes in one currency. CodTotal is cash
// collected from recipients, TaxiTotal is what the driver advanced to
// third-party couriers out of pocket, and Net is what the driver actually
// hands over.
type CurrencyBreakdown struct {
	Currency  Currency        `json:"currency"`
	CodTotal  decimal.Decimal `json:"cod_total"`
	TaxiTotal decimal.Decimal `json:"taxi_total"`
	Net       decimal.Decimal `json:"net"`
	ItemCount int             `json:"item_count"`
}

// OutstandingBalance carries one breakdown per currency plus the items behind
// them, in the order they will be attached to a settlement.
type OutstandingBalance struct {
	DriverId   int                            `json:"driver_id"`
	Breakdowns map[Currency]CurrencyBreakdown `json:"breakdowns"`
	Items      []ParcelItem                   `json:"items"`
}

// ItemsForCurrency lists the items whose COD is denominated in the given
// currency.
func (balance *OutstandingBalance) ItemsForCurrency(currency Currency) []ParcelItem {
	var out []ParcelItem
	for i := range balance.Items {
		if balance.Items[i].CodCurrency == currency {
			out = append(out, balance.Items[i])
		}
	}
	return out
}

// TaxiItemsForCurrency lists items that carry a taxi advance in the given
// currency.
func (balance *OutstandingBalance) TaxiItemsForCurrency(currency Currency) []ParcelItem {
	var out []ParcelItem
	for i := range balance.Items {
		item := balance.Items[i]
		if item.IsTaxiDelivery != nil && *item.IsTaxiDelivery &&
			item.TaxiFeeCurrency == currency && !item.TaxiFee.IsZero() {
			out = append(out, item)
		}
	}
	return out
}

// CalculateOutstanding folds delivered, unsettled items into per-currency
// totals. COD counts in the item's codCurrency; the taxi advance counts in
// its own fee currency, which may differ from the COD's. The result does not
// depend on item order.
func CalculateOutstanding(driverId int, items []ParcelItem) OutstandingBalance {
	breakdowns := map[Currency]CurrencyBreakdown{}
	for _, currency := range AllCurrencies {
		breakdowns[currency] = CurrencyBreakdown{Currency: currency}
	}

	for i := range items {
		item := items[i]

		cod := breakdowns[item.CodCurrency]
		cod.CodTotal = cod.CodTotal.Add(item.CodAmount)
		cod.ItemCount++
		breakdowns[item.CodCurrency] = cod

		if item.IsTaxiDelivery != nil && *item.IsTaxiDelivery && !item.TaxiFee.IsZero() {
			taxi := breakdowns[item.TaxiFeeCurrency]
			taxi.TaxiTotal = taxi.TaxiTotal.Add(item.TaxiFee)
			breakdowns[item.TaxiFeeCurrency] = taxi
		}
	}

	for currency, breakdown := range breakdowns {
		breakdown.Net = breakdown.CodTotal.Sub(breakdown.TaxiTotal)
		breakdowns[currency] = breakdown
	}

	return OutstandingBalance{
		DriverId:   driverId,
		Breakdowns: breakdowns,
		Items:      items,
	}
}

// GetOutstandingBalance computes what a driver owes right now.
func GetOutstandingBalance(ctx context.Context, driverId int) (*OutstandingBalance, error) {
	items, err := GetUnsettledDeliveredItems(ctx, driverId)
	if err != nil {
		return nil, err
	}
	balance := CalculateOutstanding(driverId, items)
	return &balance, nil
}
