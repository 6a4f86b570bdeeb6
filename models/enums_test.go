package models

import "testing"

func TestCanTransitionParcelItem(t *testing.T) {
	allowed := []struct{ from, to ParcelItemStatus }{
		{ParcelItemStatusPending, ParcelItemStatusPickedUp},
		{ParcelItemStatusPickedUp, ParcelItemStatusInTransit},
		{ParcelItemStatusInTransit, ParcelItemStatusOutForDelivery},
		{ParcelItemStatusOutForDelivery, ParcelItemStatusDelivered},
		{ParcelItemStatusInTransit, ParcelItemStatusReturnToSender},
	}
	for _, tc := range allowed {
		if !CanTransitionParcelItem(tc.from, tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to ParcelItemStatus }{
		{ParcelItemStatusPending, ParcelItemStatusDelivered},
		{ParcelItemStatusDelivered, ParcelItemStatusOutForDelivery},
		{ParcelItemStatusDelivered, ParcelItemStatusDelivered},
		{ParcelItemStatusReturnToSender, ParcelItemStatusPickedUp},
	}
	for _, tc := range denied {
		if CanTransitionParcelItem(tc.from, tc.to) {
			t.Fatalf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestSettlementTolerance(t *testing.T) {
	if CurrencyUSD.SettlementTolerance().String() != "0.01" {
		t.Fatalf("USD tolerance: got %s", CurrencyUSD.SettlementTolerance())
	}
	if CurrencyKHR.SettlementTolerance().String() != "100" {
		t.Fatalf("KHR tolerance: got %s", CurrencyKHR.SettlementTolerance())
	}
}

func TestDischargesItems(t *testing.T) {
	if !WalletTransactionTypeSettlement.DischargesItems() || !WalletTransactionTypeDeposit.DischargesItems() {
		t.Fatalf("settlement and deposit discharge items")
	}
	for _, txType := range []WalletTransactionType{
		WalletTransactionTypeWithdrawal, WalletTransactionTypeEarning,
		WalletTransactionTypeRefund, WalletTransactionTypeTaxiFee,
	} {
		if txType.DischargesItems() {
			t.Fatalf("%s must not discharge items", txType)
		}
	}
}
