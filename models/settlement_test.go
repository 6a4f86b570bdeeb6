package models

// NOTE: These tests are intentionally DB-free. BuildSettlementPlan is a pure
// function over a balance snapshot, so the splitter's semantics are validated
// here without MySQL. Full submit/approve paths need an environment that can
// run MySQL + Pub/Sub emulator.

import (
	"testing"

	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

func testResolver() *AccountResolver {
	return &AccountResolver{
		Overrides: map[WalletTransactionType]int{},
		Defaults: map[settlementBucket]int{
			{Role: WalletRoleDriver, Channel: PaymentChannelBank, Currency: CurrencyUSD}: 11,
			{Role: WalletRoleDriver, Channel: PaymentChannelBank, Currency: CurrencyKHR}: 12,
			{Role: WalletRoleDriver, Channel: PaymentChannelCash, Currency: CurrencyUSD}: 13,
			{Role: WalletRoleDriver, Channel: PaymentChannelCash, Currency: CurrencyKHR}: 14,
		},
		CashOnHand: 99,
	}
}

func codItem(id int, amount string, currency Currency) ParcelItem {
	return ParcelItem{
		ID:          id,
		Status:      ParcelItemStatusDelivered,
		CodAmount:   decimal.RequireFromString(amount),
		CodCurrency: currency,
	}
}

func taxiCodItem(id int, amount string, currency Currency, taxiFee string, taxiCurrency Currency) ParcelItem {
	item := codItem(id, amount, currency)
	item.IsTaxiDelivery = utils.NewTrue()
	item.TaxiFee = decimal.RequireFromString(taxiFee)
	item.TaxiFeeCurrency = taxiCurrency
	return item
}

func planItemIds(plan *SettlementPlan) map[int]int {
	counts := map[int]int{}
	for _, sub := range plan.Subs {
		if sub.Type == WalletTransactionTypeTaxiFee {
			continue
		}
		for _, item := range sub.Items {
			counts[item.ID]++
		}
	}
	return counts
}

func TestBuildSettlementPlan_RejectsNegativeBucket(t *testing.T) {
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "50", CurrencyUSD)})
	req := SettlementRequest{DriverId: 1, CashUSD: decimal.NewFromInt(-10)}

	_, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildSettlementPlan_NothingToSettle(t *testing.T) {
	balance := CalculateOutstanding(1, nil)
	req := SettlementRequest{DriverId: 1}

	_, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildSettlementPlan_StrictCurrencyRule(t *testing.T) {
	cases := []struct {
		name  string
		items []ParcelItem
		req   SettlementRequest
	}{
		{
			name:  "KHR payment against USD-only debt",
			items: []ParcelItem{codItem(1, "50", CurrencyUSD)},
			req:   SettlementRequest{DriverId: 1, CashKHR: decimal.NewFromInt(100000)},
		},
		{
			name:  "USD payment against KHR-only debt",
			items: []ParcelItem{codItem(2, "200000", CurrencyKHR)},
			req:   SettlementRequest{DriverId: 1, CashUSD: decimal.NewFromInt(50)},
		},
		{
			name:  "USD payment against sub-tolerance USD debt",
			items: []ParcelItem{codItem(3, "0.01", CurrencyUSD)},
			req:   SettlementRequest{DriverId: 1, CashUSD: decimal.NewFromInt(5)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			balance := CalculateOutstanding(1, tc.items)
			_, err := BuildSettlementPlan(&balance, tc.req, testResolver(), decimal.NewFromInt(4000), false)
			if !utils.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildSettlementPlan_BankRequiresProof(t *testing.T) {
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "50", CurrencyUSD)})
	req := SettlementRequest{DriverId: 1, BankUSD: decimal.NewFromInt(50)}

	_, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, true); err != nil {
		t.Fatalf("with proof: %v", err)
	}
}

func TestBuildSettlementPlan_ValidationBeforeConfiguration(t *testing.T) {
	// broken resolver AND a strict-currency violation: the user error wins
	empty := &AccountResolver{
		Overrides: map[WalletTransactionType]int{},
		Defaults:  map[settlementBucket]int{},
	}
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "50", CurrencyUSD)})
	req := SettlementRequest{DriverId: 1, BankKHR: decimal.NewFromInt(100000)}

	_, err := BuildSettlementPlan(&balance, req, empty, decimal.Zero, true)
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error first, got %v", err)
	}
}

func TestBuildSettlementPlan_MissingBankAccountIsConfigurationError(t *testing.T) {
	// cash falls back to cash-on-hand; bank never does
	resolver := &AccountResolver{
		Overrides:  map[WalletTransactionType]int{},
		Defaults:   map[settlementBucket]int{},
		CashOnHand: 99,
	}
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "50", CurrencyUSD)})

	req := SettlementRequest{DriverId: 1, BankUSD: decimal.NewFromInt(50)}
	_, err := BuildSettlementPlan(&balance, req, resolver, decimal.Zero, true)
	if !utils.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	req = SettlementRequest{DriverId: 1, CashUSD: decimal.NewFromInt(50)}
	plan, err := BuildSettlementPlan(&balance, req, resolver, decimal.Zero, false)
	if err != nil {
		t.Fatalf("cash fallback: %v", err)
	}
	if plan.Subs[0].AccountId != 99 {
		t.Fatalf("expected cash-on-hand fallback account 99, got %d", plan.Subs[0].AccountId)
	}
}

func TestBuildSettlementPlan_MissingExchangeRate(t *testing.T) {
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "200000", CurrencyKHR)})
	req := SettlementRequest{DriverId: 1, CashKHR: decimal.NewFromInt(200000)}

	_, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if !utils.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildSettlementPlan_ExactDualCurrency(t *testing.T) {
	items := []ParcelItem{
		codItem(1, "60", CurrencyUSD),
		codItem(2, "40", CurrencyUSD),
		codItem(3, "200000", CurrencyKHR),
	}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{
		DriverId: 7,
		BankUSD:  decimal.NewFromInt(100),
		CashKHR:  decimal.NewFromInt(200000),
	}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.NewFromInt(4000), true)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 2 {
		t.Fatalf("expected 2 sub-transactions, got %d", len(plan.Subs))
	}
	if !plan.IsBalanced {
		t.Fatalf("expected balanced plan, difference %s", plan.Difference)
	}
	if !plan.Difference.IsZero() {
		t.Fatalf("expected zero difference, got %s", plan.Difference)
	}

	usd := plan.Subs[0]
	if usd.Currency != CurrencyUSD || usd.Channel != PaymentChannelBank || !usd.IsMaster {
		t.Fatalf("expected USD bank master first, got %+v", usd)
	}
	if len(usd.Items) != 2 {
		t.Fatalf("USD master should carry both USD items, got %d", len(usd.Items))
	}
	khr := plan.Subs[1]
	if khr.Currency != CurrencyKHR || !khr.IsMaster || len(khr.Items) != 1 {
		t.Fatalf("expected KHR master with 1 item, got %+v", khr)
	}

	// every item rides on exactly one settlement sub
	counts := planItemIds(plan)
	for _, item := range items {
		if counts[item.ID] != 1 {
			t.Fatalf("item %d attached %d times", item.ID, counts[item.ID])
		}
	}
}

func TestBuildSettlementPlan_BankMasterCarriesAllCurrencyItems(t *testing.T) {
	items := []ParcelItem{codItem(1, "60", CurrencyUSD), codItem(2, "40", CurrencyUSD)}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{
		DriverId: 7,
		BankUSD:  decimal.NewFromInt(60),
		CashUSD:  decimal.NewFromInt(40),
	}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, true)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 2 {
		t.Fatalf("expected 2 subs, got %d", len(plan.Subs))
	}
	bank, cash := plan.Subs[0], plan.Subs[1]
	if !bank.IsMaster || len(bank.Items) != 2 {
		t.Fatalf("bank sub should be master with all items, got %+v", bank)
	}
	if cash.IsMaster || len(cash.Items) != 0 {
		t.Fatalf("cash sub should carry nothing, got %+v", cash)
	}
}

func TestBuildSettlementPlan_ShortageCarried(t *testing.T) {
	balance := CalculateOutstanding(7, []ParcelItem{codItem(1, "100", CurrencyUSD)})
	req := SettlementRequest{DriverId: 7, CashUSD: decimal.NewFromInt(80)}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("a shortfall must not be rejected: %v", err)
	}
	if plan.IsBalanced || !plan.IsShortage() {
		t.Fatalf("expected shortage, got balanced=%v difference=%s", plan.IsBalanced, plan.Difference)
	}
	if plan.Difference.String() != "-20" {
		t.Fatalf("expected difference -20, got %s", plan.Difference)
	}
}

func TestBuildSettlementPlan_OverpaymentCarried(t *testing.T) {
	balance := CalculateOutstanding(7, []ParcelItem{codItem(1, "100", CurrencyUSD)})
	req := SettlementRequest{DriverId: 7, CashUSD: decimal.NewFromInt(120)}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("an overpayment must not be rejected: %v", err)
	}
	if plan.IsBalanced || !plan.IsOverpayment() {
		t.Fatalf("expected overpayment, got balanced=%v difference=%s", plan.IsBalanced, plan.Difference)
	}
	if plan.Difference.String() != "20" {
		t.Fatalf("expected difference 20, got %s", plan.Difference)
	}
}

func TestBuildSettlementPlan_SmallResidueIsBalanced(t *testing.T) {
	balance := CalculateOutstanding(7, []ParcelItem{codItem(1, "100", CurrencyUSD)})
	req := SettlementRequest{DriverId: 7, CashUSD: decimal.RequireFromString("99.96")}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if !plan.IsBalanced {
		t.Fatalf("a 0.04 residue sits inside the 0.05 window, got difference %s", plan.Difference)
	}
}

func TestBuildSettlementPlan_TaxiSubRidesWithSettlement(t *testing.T) {
	items := []ParcelItem{taxiCodItem(1, "50", CurrencyUSD, "5", CurrencyUSD)}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{DriverId: 7, CashUSD: decimal.NewFromInt(45)}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 2 {
		t.Fatalf("expected settlement + taxi subs, got %d", len(plan.Subs))
	}
	settlement, taxi := plan.Subs[0], plan.Subs[1]
	if !settlement.IsMaster || settlement.Type != WalletTransactionTypeSettlement {
		t.Fatalf("settlement sub should be master, got %+v", settlement)
	}
	if taxi.Type != WalletTransactionTypeTaxiFee || taxi.IsMaster {
		t.Fatalf("taxi sub must not be master when a settlement sub exists, got %+v", taxi)
	}
	if taxi.Amount.String() != "5" {
		t.Fatalf("taxi sub amount should be 5, got %s", taxi.Amount)
	}
	// provided 45 vs net debt 50-5=45
	if !plan.IsBalanced {
		t.Fatalf("expected balanced, difference %s", plan.Difference)
	}
}

func TestBuildSettlementPlan_TaxiOnlySubBecomesMaster(t *testing.T) {
	// zero-COD taxi item: nothing to pay, but the advance must still be
	// reimbursable and the item dischargeable
	items := []ParcelItem{taxiCodItem(1, "0", CurrencyUSD, "5", CurrencyUSD)}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{DriverId: 7}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 1 {
		t.Fatalf("expected single taxi sub, got %d", len(plan.Subs))
	}
	taxi := plan.Subs[0]
	if taxi.Type != WalletTransactionTypeTaxiFee || !taxi.IsMaster {
		t.Fatalf("taxi sub should take over as master, got %+v", taxi)
	}
	if len(taxi.Items) != 1 {
		t.Fatalf("taxi master should carry its item, got %d", len(taxi.Items))
	}
}

func TestBuildSettlementPlan_TaxiMasterLeavesCodDebtOutstanding(t *testing.T) {
	// a taxi item still owing COD must not be dischargeable for free: with no
	// money offered there is no settlement sub, and the taxi sub may not pick
	// the item up
	items := []ParcelItem{taxiCodItem(1, "50", CurrencyUSD, "5", CurrencyUSD)}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{DriverId: 7}

	_, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if !utils.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildSettlementPlan_TaxiMasterCarriesOnlyCodFreeItems(t *testing.T) {
	items := []ParcelItem{
		taxiCodItem(1, "0", CurrencyUSD, "5", CurrencyUSD),
		taxiCodItem(2, "50", CurrencyUSD, "3", CurrencyUSD),
	}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{DriverId: 7}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.Zero, false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 1 {
		t.Fatalf("expected single taxi sub, got %d", len(plan.Subs))
	}
	taxi := plan.Subs[0]
	if !taxi.IsMaster || len(taxi.Items) != 1 || taxi.Items[0].ID != 1 {
		t.Fatalf("taxi master should carry only the COD-free item, got %+v", taxi)
	}
	if taxi.Amount.String() != "5" {
		t.Fatalf("taxi amount should cover only the discharged item, got %s", taxi.Amount)
	}
}

func TestBuildSettlementPlan_CrossCurrencyTaxiCreditedWithCod(t *testing.T) {
	// COD in USD, taxi advance in KHR: paying the USD discharges the item and
	// the KHR advance is credited in the same batch
	items := []ParcelItem{taxiCodItem(1, "50", CurrencyUSD, "8000", CurrencyKHR)}
	balance := CalculateOutstanding(7, items)
	req := SettlementRequest{DriverId: 7, CashUSD: decimal.NewFromInt(48)}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.NewFromInt(4000), false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	if len(plan.Subs) != 2 {
		t.Fatalf("expected settlement + taxi subs, got %d", len(plan.Subs))
	}
	settlement, taxi := plan.Subs[0], plan.Subs[1]
	if !settlement.IsMaster || settlement.Currency != CurrencyUSD {
		t.Fatalf("expected USD settlement master, got %+v", settlement)
	}
	if taxi.Currency != CurrencyKHR || taxi.Amount.String() != "8000" || len(taxi.Items) != 1 {
		t.Fatalf("expected KHR taxi sub crediting 8000, got %+v", taxi)
	}
	// provided 48 vs debt 50 - 8000/4000
	if !plan.IsBalanced {
		t.Fatalf("expected balanced, difference %s", plan.Difference)
	}
}

func TestBuildSettlementPlan_ConfigurationBeforeProof(t *testing.T) {
	// an unresolvable bank account surfaces before the missing proof: the
	// operator gap blocks the submission whatever the driver attaches
	resolver := &AccountResolver{
		Overrides:  map[WalletTransactionType]int{},
		Defaults:   map[settlementBucket]int{},
		CashOnHand: 99,
	}
	balance := CalculateOutstanding(1, []ParcelItem{codItem(1, "50", CurrencyUSD)})
	req := SettlementRequest{DriverId: 1, BankUSD: decimal.NewFromInt(50)}

	_, err := BuildSettlementPlan(&balance, req, resolver, decimal.Zero, false)
	if !utils.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildSettlementPlan_CrossCurrencyDifference(t *testing.T) {
	// USD debt 100, paid entirely in USD plus KHR change 20,000 at 4,000/USD
	balance := CalculateOutstanding(7, []ParcelItem{
		codItem(1, "100", CurrencyUSD),
		codItem(2, "200000", CurrencyKHR),
	})
	req := SettlementRequest{
		DriverId: 7,
		CashUSD:  decimal.NewFromInt(100),
		CashKHR:  decimal.NewFromInt(180000),
	}

	plan, err := BuildSettlementPlan(&balance, req, testResolver(), decimal.NewFromInt(4000), false)
	if err != nil {
		t.Fatalf("BuildSettlementPlan: %v", err)
	}
	// (100 + 45) - (100 + 50) = -5 USD
	if plan.Difference.String() != "-5" {
		t.Fatalf("expected -5 difference in base, got %s", plan.Difference)
	}
	if !plan.IsShortage() {
		t.Fatalf("expected shortage")
	}
}
