package models

import (
	"testing"
	"time"

	"github.com/dsadvance/parcel_backend/utils"
)

func TestSettlementTransactionNumber_DeterministicWithinBucket(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 3, 0, 0, time.UTC)
	retry := base.Add(4 * time.Minute) // same ten-minute bucket

	first := settlementTransactionNumber(7, CurrencyUSD, PaymentChannelBank, base)
	second := settlementTransactionNumber(7, CurrencyUSD, PaymentChannelBank, retry)
	if first != second {
		t.Fatalf("a retry inside the bucket must collide: %s vs %s", first, second)
	}

	later := settlementTransactionNumber(7, CurrencyUSD, PaymentChannelBank, base.Add(15*time.Minute))
	if later == first {
		t.Fatalf("a later bucket must produce a new number")
	}
}

func TestSettlementTransactionNumber_DisambiguatesSubTransactions(t *testing.T) {
	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for _, currency := range AllCurrencies {
		for _, channel := range []PaymentChannel{PaymentChannelBank, PaymentChannelCash} {
			n := settlementTransactionNumber(7, currency, channel, at)
			if seen[n] {
				t.Fatalf("duplicate number %s", n)
			}
			seen[n] = true
		}
		n := taxiTransactionNumber(7, currency, at)
		if seen[n] {
			t.Fatalf("taxi number collides with a settlement number: %s", n)
		}
		seen[n] = true
	}
}

func TestDischargedItemIds_MastersOnly(t *testing.T) {
	batch := []WalletTransaction{
		{
			Type: WalletTransactionTypeSettlement, IsMaster: utils.NewTrue(),
			Items: []WalletTransactionItem{{ParcelItemId: 1}, {ParcelItemId: 2}},
		},
		{
			Type: WalletTransactionTypeSettlement, IsMaster: utils.NewFalse(),
			Items: []WalletTransactionItem{{ParcelItemId: 3}},
		},
		{
			Type: WalletTransactionTypeTaxiFee, IsMaster: utils.NewFalse(),
			Items: []WalletTransactionItem{{ParcelItemId: 1}},
		},
	}

	ids := dischargedItemIds(batch)
	if len(ids) != 2 {
		t.Fatalf("expected items 1 and 2, got %v", ids)
	}
}

func TestDischargedItemIds_TaxiMasterDischarges(t *testing.T) {
	batch := []WalletTransaction{{
		Type: WalletTransactionTypeTaxiFee, IsMaster: utils.NewTrue(),
		Items: []WalletTransactionItem{{ParcelItemId: 9}},
	}}

	ids := dischargedItemIds(batch)
	if len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("a master taxi sub must discharge its items, got %v", ids)
	}
}

func TestJournalReferenceId_FirstMasterRegardlessOfEntryPoint(t *testing.T) {
	batch := []WalletTransaction{
		{ID: 41, Type: WalletTransactionTypeSettlement, IsMaster: utils.NewFalse()},
		{ID: 42, Type: WalletTransactionTypeSettlement, IsMaster: utils.NewTrue()},
		{ID: 43, Type: WalletTransactionTypeSettlement, IsMaster: utils.NewTrue()},
		{ID: 44, Type: WalletTransactionTypeTaxiFee, IsMaster: utils.NewFalse()},
	}

	// whichever sub id the approval came in through, the journal key is the
	// batch's first master
	for _, entry := range []int{41, 42, 43, 44} {
		if got := journalReferenceId(batch, entry); got != 42 {
			t.Fatalf("entry via %d: expected reference 42, got %d", entry, got)
		}
	}
}

func TestJournalReferenceId_FallsBackWithoutMaster(t *testing.T) {
	batch := []WalletTransaction{
		{ID: 7, Type: WalletTransactionTypeDeposit, IsMaster: utils.NewFalse()},
	}
	if got := journalReferenceId(batch, 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDischargedItemIds_SharedItemAcrossMasters(t *testing.T) {
	// COD in one currency, taxi advance in another: the item rides both
	// masters but is discharged once
	batch := []WalletTransaction{
		{
			Type: WalletTransactionTypeSettlement, IsMaster: utils.NewTrue(),
			Items: []WalletTransactionItem{{ParcelItemId: 5}},
		},
		{
			Type: WalletTransactionTypeTaxiFee, IsMaster: utils.NewTrue(),
			Items: []WalletTransactionItem{{ParcelItemId: 5}},
		},
	}

	ids := dischargedItemIds(batch)
	if len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("expected item 5 once, got %v", ids)
	}
}
