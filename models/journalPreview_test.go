package models

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func testSystemAccounts() map[string]int {
	return map[string]int{
		AccountCodeCashOnHand:        1,
		AccountCodeDriverCodHolding:  2,
		AccountCodeCustomerPayable:   3,
		AccountCodeDeliveryIncome:    4,
		AccountCodeTaxiExpense:       5,
		AccountCodeCommissionExpense: 6,
		AccountCodeWalletAdjustment:  7,
	}
}

func settlementSub(channel PaymentChannel, currency Currency, amount string, accountId int) WalletTransaction {
	return WalletTransaction{
		Type:      WalletTransactionTypeSettlement,
		Status:    WalletTransactionStatusPending,
		Role:      WalletRoleDriver,
		Channel:   channel,
		Currency:  currency,
		Amount:    decimal.RequireFromString(amount),
		AccountId: accountId,
	}
}

func taxiSub(currency Currency, amount string) WalletTransaction {
	return WalletTransaction{
		Type:     WalletTransactionTypeTaxiFee,
		Status:   WalletTransactionStatusPending,
		Role:     WalletRoleDriver,
		Channel:  PaymentChannelCash,
		Currency: currency,
		Amount:   decimal.RequireFromString(amount),
	}
}

func currencyTotals(preview *JournalPreview) map[Currency][2]decimal.Decimal {
	out := map[Currency][2]decimal.Decimal{}
	for _, line := range preview.Lines {
		totals := out[line.Currency]
		totals[0] = totals[0].Add(line.Debit)
		totals[1] = totals[1].Add(line.Credit)
		out[line.Currency] = totals
	}
	return out
}

func TestBuildJournalPreview_SettlementBalancedPerCurrency(t *testing.T) {
	input := JournalPreviewInput{
		Transactions: []WalletTransaction{
			settlementSub(PaymentChannelBank, CurrencyUSD, "60", 11),
			settlementSub(PaymentChannelCash, CurrencyUSD, "40", 13),
			settlementSub(PaymentChannelCash, CurrencyKHR, "200000", 14),
		},
		Items: []ParcelItem{
			codItem(1, "60", CurrencyUSD),
			codItem(2, "40", CurrencyUSD),
			codItem(3, "200000", CurrencyKHR),
		},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
		ExchangeRate:   decimal.NewFromInt(4000),
	}

	preview := BuildJournalPreview(input)
	if preview.HasConfigErrors() {
		t.Fatalf("unexpected config errors: %v", preview.ConfigErrors())
	}
	if !preview.IsBalanced() {
		t.Fatalf("preview must balance per currency: %+v", preview.Lines)
	}
	for currency, totals := range currencyTotals(preview) {
		if !totals[0].Equal(totals[1]) {
			t.Fatalf("%s: debit %s != credit %s", currency, totals[0], totals[1])
		}
	}
	// the USD group: two settlement debits plus the holding credit
	usdLines := 0
	for _, line := range preview.Lines {
		if line.Currency == CurrencyUSD {
			usdLines++
		}
	}
	if usdLines != 3 {
		t.Fatalf("expected 3 USD lines, got %d", usdLines)
	}
}

func TestBuildJournalPreview_ShortageDebitsWalletAdjustment(t *testing.T) {
	input := JournalPreviewInput{
		Transactions:   []WalletTransaction{settlementSub(PaymentChannelCash, CurrencyUSD, "80", 13)},
		Items:          []ParcelItem{codItem(1, "100", CurrencyUSD)},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if !preview.IsBalanced() {
		t.Fatalf("shortage preview must still balance: %+v", preview.Lines)
	}
	var shortage *JournalPreviewLine
	for i := range preview.Lines {
		if preview.Lines[i].AccountCode == AccountCodeWalletAdjustment {
			shortage = &preview.Lines[i]
		}
	}
	if shortage == nil {
		t.Fatalf("expected a wallet adjustment line")
	}
	if shortage.Debit.String() != "20" || !shortage.Credit.IsZero() {
		t.Fatalf("shortage should debit 20, got debit %s credit %s", shortage.Debit, shortage.Credit)
	}
}

func TestBuildJournalPreview_OverpaymentCreditsWalletAdjustment(t *testing.T) {
	input := JournalPreviewInput{
		Transactions:   []WalletTransaction{settlementSub(PaymentChannelCash, CurrencyUSD, "120", 13)},
		Items:          []ParcelItem{codItem(1, "100", CurrencyUSD)},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if !preview.IsBalanced() {
		t.Fatalf("overpayment preview must still balance: %+v", preview.Lines)
	}
	var carried *JournalPreviewLine
	for i := range preview.Lines {
		if preview.Lines[i].AccountCode == AccountCodeWalletAdjustment {
			carried = &preview.Lines[i]
		}
	}
	if carried == nil || carried.Credit.String() != "20" {
		t.Fatalf("overpayment should credit 20, got %+v", carried)
	}
}

func TestBuildJournalPreview_TaxiGroupBalances(t *testing.T) {
	input := JournalPreviewInput{
		Transactions: []WalletTransaction{
			settlementSub(PaymentChannelCash, CurrencyUSD, "45", 13),
			taxiSub(CurrencyUSD, "5"),
		},
		Items:          []ParcelItem{taxiCodItem(1, "50", CurrencyUSD, "5", CurrencyUSD)},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if preview.HasConfigErrors() {
		t.Fatalf("unexpected config errors: %v", preview.ConfigErrors())
	}
	if !preview.IsBalanced() {
		t.Fatalf("taxi preview must balance: %+v", preview.Lines)
	}
	var taxi *JournalPreviewLine
	for i := range preview.Lines {
		if preview.Lines[i].AccountCode == AccountCodeTaxiExpense {
			taxi = &preview.Lines[i]
		}
	}
	if taxi == nil || taxi.Debit.String() != "5" {
		t.Fatalf("expected taxi expense debit of 5, got %+v", taxi)
	}
	// paid 45 + taxi 5 covers cod 100%: no adjustment line
	for _, line := range preview.Lines {
		if line.AccountCode == AccountCodeWalletAdjustment {
			t.Fatalf("no adjustment line expected: %+v", line)
		}
	}
}

func TestBuildJournalPreview_Deterministic(t *testing.T) {
	input := JournalPreviewInput{
		Transactions: []WalletTransaction{
			settlementSub(PaymentChannelBank, CurrencyUSD, "60", 11),
			settlementSub(PaymentChannelCash, CurrencyKHR, "100000", 14),
		},
		Items: []ParcelItem{
			codItem(1, "60", CurrencyUSD),
			codItem(2, "100000", CurrencyKHR),
		},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
		ExchangeRate:   decimal.NewFromInt(4000),
	}

	first := BuildJournalPreview(input)
	second := BuildJournalPreview(input)
	if !reflect.DeepEqual(first.Lines, second.Lines) {
		t.Fatalf("same input produced different lines:\n%+v\n%+v", first.Lines, second.Lines)
	}
}

func TestBuildJournalPreview_MissingSystemAccountBlocks(t *testing.T) {
	accounts := testSystemAccounts()
	delete(accounts, AccountCodeDriverCodHolding)
	input := JournalPreviewInput{
		Transactions:   []WalletTransaction{settlementSub(PaymentChannelCash, CurrencyUSD, "100", 13)},
		Items:          []ParcelItem{codItem(1, "100", CurrencyUSD)},
		Resolver:       testResolver(),
		SystemAccounts: accounts,
	}

	preview := BuildJournalPreview(input)
	if !preview.HasConfigErrors() {
		t.Fatalf("expected a config error line, got %+v", preview.Lines)
	}
}

func TestBuildJournalPreview_MissingRateFlagsKHRLines(t *testing.T) {
	input := JournalPreviewInput{
		Transactions:   []WalletTransaction{settlementSub(PaymentChannelCash, CurrencyKHR, "200000", 14)},
		Items:          []ParcelItem{codItem(1, "200000", CurrencyKHR)},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
		ExchangeRate:   decimal.Zero,
	}

	preview := BuildJournalPreview(input)
	if !preview.HasConfigErrors() {
		t.Fatalf("a KHR line without a rate must carry a config error")
	}
}

func TestBuildJournalPreview_UnresolvedAccountIsLineNotPanic(t *testing.T) {
	empty := &AccountResolver{
		Overrides: map[WalletTransactionType]int{},
		Defaults:  map[settlementBucket]int{},
	}
	sub := settlementSub(PaymentChannelBank, CurrencyUSD, "50", 0)
	input := JournalPreviewInput{
		Transactions:   []WalletTransaction{sub},
		Items:          []ParcelItem{codItem(1, "50", CurrencyUSD)},
		Resolver:       empty,
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if !preview.HasConfigErrors() {
		t.Fatalf("unresolved settlement account must surface as a config error line")
	}
}

func TestBuildJournalPreview_EarningPair(t *testing.T) {
	input := JournalPreviewInput{
		Transactions: []WalletTransaction{{
			Type:     WalletTransactionTypeEarning,
			Status:   WalletTransactionStatusApproved,
			Role:     WalletRoleDriver,
			Currency: CurrencyUSD,
			Amount:   decimal.RequireFromString("2.50"),
		}},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if len(preview.Lines) != 2 {
		t.Fatalf("expected a two-line pair, got %d", len(preview.Lines))
	}
	if !preview.IsBalanced() {
		t.Fatalf("earning pair must balance")
	}
	if preview.Lines[0].AccountCode != AccountCodeCommissionExpense {
		t.Fatalf("expected commission expense debit first, got %+v", preview.Lines[0])
	}
}

func TestBuildJournalPreview_RefundPair(t *testing.T) {
	input := JournalPreviewInput{
		Transactions: []WalletTransaction{{
			Type:      WalletTransactionTypeRefund,
			Status:    WalletTransactionStatusPending,
			Role:      WalletRoleCustomer,
			Channel:   PaymentChannelCash,
			Currency:  CurrencyUSD,
			Amount:    decimal.NewFromInt(15),
			AccountId: 1,
		}},
		Resolver:       testResolver(),
		SystemAccounts: testSystemAccounts(),
	}

	preview := BuildJournalPreview(input)
	if len(preview.Lines) != 2 || !preview.IsBalanced() {
		t.Fatalf("expected balanced refund pair, got %+v", preview.Lines)
	}
	if preview.Lines[0].AccountCode != AccountCodeCustomerPayable || preview.Lines[0].Debit.String() != "15" {
		t.Fatalf("refund should debit the customer payable, got %+v", preview.Lines[0])
	}
}

func TestJournalPreview_IsBalancedChecksNativeAmounts(t *testing.T) {
	preview := &JournalPreview{Lines: []JournalPreviewLine{
		{Currency: CurrencyUSD, Debit: decimal.NewFromInt(10)},
		{Currency: CurrencyUSD, Credit: decimal.NewFromInt(10)},
		{Currency: CurrencyKHR, Debit: decimal.NewFromInt(4000)},
	}}
	if preview.IsBalanced() {
		t.Fatalf("an uncredited KHR debit must unbalance the preview")
	}
}
