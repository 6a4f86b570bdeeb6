package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

// JournalPreviewLine is one proposed posting. A line whose account could not
// be resolved carries ConfigError instead of being silently dropped; such a
// line blocks approval of the whole transaction.
type JournalPreviewLine struct {
	AccountId   int             `json:"account_id"`
	AccountCode string          `json:"account_code"`
	Description string          `json:"description"`
	Currency    Currency        `json:"currency"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	BaseDebit   decimal.Decimal `json:"base_debit"`
	BaseCredit  decimal.Decimal `json:"base_credit"`
	ConfigError string          `json:"config_error,omitempty"`
}

// JournalPreview is the proposed, not-yet-posted set of lines for a wallet
// transaction batch. Building it has no side effects; the same input always
// yields the same lines in the same order.
type JournalPreview struct {
	Details      string               `json:"details"`
	Lines        []JournalPreviewLine `json:"lines"`
	ExchangeRate decimal.Decimal      `json:"exchange_rate"`
}

func (preview *JournalPreview) HasConfigErrors() bool {
	for i := range preview.Lines {
		if preview.Lines[i].ConfigError != "" {
			return true
		}
	}
	return false
}

func (preview *JournalPreview) ConfigErrors() []string {
	var out []string
	for i := range preview.Lines {
		if preview.Lines[i].ConfigError != "" {
			out = append(out, preview.Lines[i].ConfigError)
		}
	}
	return out
}

// IsBalanced checks sum(debit) == sum(credit) per currency in native
// amounts. Base amounts are informational and may carry rounding residue.
func (preview *JournalPreview) IsBalanced() bool {
	totals := map[Currency]decimal.Decimal{}
	for i := range preview.Lines {
		line := preview.Lines[i]
		totals[line.Currency] = totals[line.Currency].Add(line.Debit).Sub(line.Credit)
	}
	for _, net := range totals {
		if !net.IsZero() {
			return false
		}
	}
	return true
}

// JournalPreviewInput is everything the builder reads. All fields are plain
// data snapshots; the builder itself performs no I/O.
type JournalPreviewInput struct {
	Transactions   []WalletTransaction
	Items          []ParcelItem
	Resolver       *AccountResolver
	SystemAccounts map[string]int
	ExchangeRate   decimal.Decimal
}

type previewBuilder struct {
	input JournalPreviewInput
	lines []JournalPreviewLine
}

func (b *previewBuilder) toBase(amount decimal.Decimal, currency Currency) (decimal.Decimal, string) {
	if currency == CurrencyUSD {
		return amount, ""
	}
	if !b.input.ExchangeRate.IsPositive() {
		return decimal.Zero, "exchange rate"
	}
	return utils.RoundHalfUpEpsilon(amount.Div(b.input.ExchangeRate), 2), ""
}

func (b *previewBuilder) systemAccount(code string) (int, string) {
	id, ok := b.input.SystemAccounts[code]
	if !ok || id == 0 {
		return 0, fmt.Sprintf("system account %s is not configured", code)
	}
	return id, ""
}

func (b *previewBuilder) debit(accountId int, code, description string, currency Currency, amount decimal.Decimal, configError string) {
	line := JournalPreviewLine{
		AccountId:   accountId,
		AccountCode: code,
		Description: description,
		Currency:    currency,
		ConfigError: configError,
	}
	if configError == "" {
		line.Debit = amount
		base, baseErr := b.toBase(amount, currency)
		if baseErr != "" {
			line.ConfigError = baseErr
		} else {
			line.BaseDebit = base
		}
	}
	b.lines = append(b.lines, line)
}

func (b *previewBuilder) credit(accountId int, code, description string, currency Currency, amount decimal.Decimal, configError string) {
	line := JournalPreviewLine{
		AccountId:   accountId,
		AccountCode: code,
		Description: description,
		Currency:    currency,
		ConfigError: configError,
	}
	if configError == "" {
		line.Credit = amount
		base, baseErr := b.toBase(amount, currency)
		if baseErr != "" {
			line.ConfigError = baseErr
		} else {
			line.BaseCredit = base
		}
	}
	b.lines = append(b.lines, line)
}

func (b *previewBuilder) settlementAccount(record *WalletTransaction) (int, string) {
	if record.AccountId > 0 {
		return record.AccountId, ""
	}
	id, ok := b.input.Resolver.Resolve(record.Type, record.Role, record.Channel, record.Currency)
	if !ok {
		return 0, fmt.Sprintf("no account configured for %s/%s/%s/%s",
			record.Type, record.Role, record.Channel, record.Currency)
	}
	return id, ""
}

// codTotalFor sums the COD of the batch's discharged items in one currency.
func (b *previewBuilder) codTotalFor(currency Currency) decimal.Decimal {
	total := decimal.Zero
	for i := range b.input.Items {
		if b.input.Items[i].CodCurrency == currency {
			total = total.Add(b.input.Items[i].CodAmount)
		}
	}
	return total
}

func (b *previewBuilder) buildSettlementGroup(currency Currency, subs []*WalletTransaction, taxi *WalletTransaction) {
	paid := decimal.Zero
	for _, sub := range subs {
		accountId, configErr := b.settlementAccount(sub)
		label := "Cash settlement"
		if sub.Channel == PaymentChannelBank {
			label = "Bank settlement"
		}
		b.debit(accountId, "", fmt.Sprintf("%s %s", label, currency), currency, sub.Amount, configErr)
		paid = paid.Add(sub.Amount)
	}

	taxiAmount := decimal.Zero
	if taxi != nil {
		accountId, configErr := b.systemAccount(AccountCodeTaxiExpense)
		b.debit(accountId, AccountCodeTaxiExpense, "Taxi advance reimbursement", currency, taxi.Amount, configErr)
		taxiAmount = taxi.Amount
	}

	codTotal := b.codTotalFor(currency)
	diff := codTotal.Sub(paid).Sub(taxiAmount)
	if diff.IsPositive() {
		accountId, configErr := b.systemAccount(AccountCodeWalletAdjustment)
		b.debit(accountId, AccountCodeWalletAdjustment, "Settlement shortage carried", currency, diff, configErr)
	} else if diff.IsNegative() {
		accountId, configErr := b.systemAccount(AccountCodeWalletAdjustment)
		b.credit(accountId, AccountCodeWalletAdjustment, "Settlement overpayment carried", currency, diff.Neg(), configErr)
	}

	if !codTotal.IsZero() {
		accountId, configErr := b.systemAccount(AccountCodeDriverCodHolding)
		b.credit(accountId, AccountCodeDriverCodHolding, "Driver COD holding cleared", currency, codTotal, configErr)
	}
}

func (b *previewBuilder) buildSimple(record *WalletTransaction) {
	currency := record.Currency
	switch record.Type {
	case WalletTransactionTypeEarning:
		expenseId, expenseErr := b.systemAccount(AccountCodeCommissionExpense)
		walletId, walletErr := b.systemAccount(AccountCodeWalletAdjustment)
		b.debit(expenseId, AccountCodeCommissionExpense, "Driver commission", currency, record.Amount, expenseErr)
		b.credit(walletId, AccountCodeWalletAdjustment, "Commission payable to driver", currency, record.Amount, walletErr)
	case WalletTransactionTypeDeposit:
		accountId, configErr := b.settlementAccount(record)
		walletId, walletErr := b.systemAccount(AccountCodeWalletAdjustment)
		b.debit(accountId, "", fmt.Sprintf("Deposit %s", currency), currency, record.Amount, configErr)
		b.credit(walletId, AccountCodeWalletAdjustment, "Wallet credit", currency, record.Amount, walletErr)
	case WalletTransactionTypeWithdrawal:
		walletId, walletErr := b.systemAccount(AccountCodeWalletAdjustment)
		accountId, configErr := b.settlementAccount(record)
		b.debit(walletId, AccountCodeWalletAdjustment, "Wallet debit", currency, record.Amount, walletErr)
		b.credit(accountId, "", fmt.Sprintf("Withdrawal %s", currency), currency, record.Amount, configErr)
	case WalletTransactionTypeRefund:
		payableId, payableErr := b.systemAccount(AccountCodeCustomerPayable)
		accountId, configErr := b.settlementAccount(record)
		b.debit(payableId, AccountCodeCustomerPayable, "COD refund to sender", currency, record.Amount, payableErr)
		b.credit(accountId, "", fmt.Sprintf("Refund paid %s", currency), currency, record.Amount, configErr)
	}
}

// BuildJournalPreview turns a wallet transaction batch into proposed journal
// lines. Settlement and taxi sub-transactions are grouped per currency so
// each currency's lines balance on their own; other types post a simple
// two-line pair.
func BuildJournalPreview(input JournalPreviewInput) *JournalPreview {
	b := &previewBuilder{input: input}

	settlementSubs := map[Currency][]*WalletTransaction{}
	taxiSubs := map[Currency]*WalletTransaction{}
	var simple []*WalletTransaction
	for i := range input.Transactions {
		record := &input.Transactions[i]
		switch record.Type {
		case WalletTransactionTypeSettlement:
			settlementSubs[record.Currency] = append(settlementSubs[record.Currency], record)
		case WalletTransactionTypeTaxiFee:
			taxiSubs[record.Currency] = record
		default:
			simple = append(simple, record)
		}
	}

	for _, currency := range AllCurrencies {
		subs := settlementSubs[currency]
		taxi := taxiSubs[currency]
		if len(subs) == 0 && taxi == nil {
			continue
		}
		b.buildSettlementGroup(currency, subs, taxi)
	}
	for _, record := range simple {
		b.buildSimple(record)
	}

	details := ""
	if len(input.Transactions) > 0 {
		details = fmt.Sprintf("%s batch of %d transaction(s)",
			input.Transactions[0].Type, len(input.Transactions))
	}
	return &JournalPreview{
		Details:      details,
		Lines:        b.lines,
		ExchangeRate: input.ExchangeRate,
	}
}

// buildPreviewForBatch snapshots everything the builder needs and runs it.
func buildPreviewForBatch(ctx context.Context, businessId string, batch []WalletTransaction) (*JournalPreview, error) {
	systemAccounts, err := GetSystemAccounts(businessId)
	if err != nil {
		return nil, err
	}
	resolver, err := LoadAccountResolver(ctx)
	if err != nil {
		return nil, err
	}

	var itemIds []int
	khrInvolved := false
	for i := range batch {
		if batch[i].Currency == CurrencyKHR {
			khrInvolved = true
		}
		if batch[i].IsMaster != nil && *batch[i].IsMaster {
			for _, join := range batch[i].Items {
				itemIds = append(itemIds, join.ParcelItemId)
			}
		}
	}

	var items []ParcelItem
	if len(itemIds) > 0 {
		db := config.GetDB()
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(itemIds)).
			Find(&items).Error
		if err != nil {
			return nil, err
		}
	}

	rate := decimal.Zero
	if khrInvolved {
		rate, err = GetExchangeRateAt(ctx, time.Now().UTC())
		if err != nil && !utils.IsConfigurationError(err) {
			return nil, err
		}
	}

	return BuildJournalPreview(JournalPreviewInput{
		Transactions:   batch,
		Items:          items,
		Resolver:       resolver,
		SystemAccounts: systemAccounts,
		ExchangeRate:   rate,
	}), nil
}

// GetJournalPreview builds the preview for a pending transaction without
// posting anything.
func GetJournalPreview(ctx context.Context, walletTransactionId int) (*JournalPreview, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	root, err := utils.FetchModel[WalletTransaction](ctx, businessId, walletTransactionId, "Items")
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	batch, err := getTransactionBatch(ctx, db, businessId, root)
	if err != nil {
		return nil, err
	}
	return buildPreviewForBatch(ctx, businessId, batch)
}
