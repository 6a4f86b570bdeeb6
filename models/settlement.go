package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// balancedThresholdUSD is the cross-currency reconciliation window, in USD
// base. A settlement whose provided-vs-debt difference stays inside it is
// balanced; outside it the difference is carried as wallet credit or debt,
// never rejected.
var balancedThresholdUSD = decimal.NewFromFloat(0.05)

// SettlementRequest is the immutable four-bucket request a driver submits.
// Each bucket is independent; a bucket left at zero is simply not offered.
type SettlementRequest struct {
	DriverId        int             `json:"driver_id" binding:"required"`
	BankUSD         decimal.Decimal `json:"bank_usd"`
	BankKHR         decimal.Decimal `json:"bank_khr"`
	CashUSD         decimal.Decimal `json:"cash_usd"`
	CashKHR         decimal.Decimal `json:"cash_khr"`
	ProofImageData  string          `json:"proof_image_data"`
	Notes           string          `json:"notes"`
}

func (req *SettlementRequest) bucket(channel PaymentChannel, currency Currency) decimal.Decimal {
	switch {
	case channel == PaymentChannelBank && currency == CurrencyUSD:
		return req.BankUSD
	case channel == PaymentChannelBank && currency == CurrencyKHR:
		return req.BankKHR
	case channel == PaymentChannelCash && currency == CurrencyUSD:
		return req.CashUSD
	default:
		return req.CashKHR
	}
}

func (req *SettlementRequest) hasBankPortion() bool {
	return req.BankUSD.IsPositive() || req.BankKHR.IsPositive()
}

func (req *SettlementRequest) providedFor(currency Currency) decimal.Decimal {
	return req.bucket(PaymentChannelBank, currency).Add(req.bucket(PaymentChannelCash, currency))
}

// PlannedSubTransaction is one sub-transaction the splitter decided to emit.
// The master for a currency carries every outstanding item of that currency.
type PlannedSubTransaction struct {
	Type     WalletTransactionType
	Channel  PaymentChannel
	Currency Currency
	Amount   decimal.Decimal
	IsMaster bool
	// AccountId is the resolved settlement account the money lands in.
	AccountId int
	Items     []ParcelItem
}

// SettlementPlan is the splitter's full decision: the sub-transactions to
// create plus the cross-currency reconciliation verdict.
type SettlementPlan struct {
	DriverId         int
	Subs             []PlannedSubTransaction
	ExchangeRate     decimal.Decimal
	TotalProvidedUSD decimal.Decimal
	TotalDebtUSD     decimal.Decimal
	Difference       decimal.Decimal
	IsBalanced       bool
}

func (plan *SettlementPlan) IsShortage() bool {
	return !plan.IsBalanced && plan.Difference.IsNegative()
}

func (plan *SettlementPlan) IsOverpayment() bool {
	return !plan.IsBalanced && plan.Difference.IsPositive()
}

// BuildSettlementPlan validates a request against the outstanding balance
// and splits it into sub-transactions. Validation order: strict currency
// matching, then account resolution, then the proof requirement, then the
// exchange rate. rate is KHR per USD and may be zero when no KHR amount is
// involved.
func BuildSettlementPlan(balance *OutstandingBalance, req SettlementRequest, resolver *AccountResolver, rate decimal.Decimal, hasProof bool) (*SettlementPlan, error) {
	for _, bucket := range []struct {
		name   string
		amount decimal.Decimal
	}{
		{"bank_usd", req.BankUSD}, {"bank_khr", req.BankKHR},
		{"cash_usd", req.CashUSD}, {"cash_khr", req.CashKHR},
	} {
		if bucket.amount.IsNegative() {
			return nil, utils.NewValidationError(bucket.name, "must not be negative")
		}
	}
	if req.providedFor(CurrencyUSD).IsZero() && req.providedFor(CurrencyKHR).IsZero() && len(balance.Items) == 0 {
		return nil, utils.NewValidationError("amount", "nothing to settle")
	}

	// strict currency rule: money in currency X only clears debt in X
	for _, currency := range AllCurrencies {
		provided := req.providedFor(currency)
		if provided.IsPositive() && balance.Breakdowns[currency].CodTotal.LessThanOrEqual(currency.SettlementTolerance()) {
			return nil, utils.NewValidationError(
				strings.ToLower(string(currency)),
				fmt.Sprintf("no outstanding %s debt to settle against", currency))
		}
	}

	var missing []string
	var subs []PlannedSubTransaction
	khrInvolved := false
	hasSettlementSub := map[Currency]bool{}
	discharged := map[int]bool{}

	for _, currency := range AllCurrencies {
		bank := req.bucket(PaymentChannelBank, currency)
		cash := req.bucket(PaymentChannelCash, currency)
		items := balance.ItemsForCurrency(currency)

		if bank.IsZero() && cash.IsZero() && len(items) == 0 && len(balance.TaxiItemsForCurrency(currency)) == 0 {
			continue
		}
		if currency == CurrencyKHR {
			khrInvolved = true
		}

		var currencySubs []PlannedSubTransaction
		if bank.IsPositive() {
			accountId, ok := resolver.Resolve(WalletTransactionTypeSettlement, WalletRoleDriver, PaymentChannelBank, currency)
			if !ok {
				missing = append(missing, fmt.Sprintf("settlement account for DRIVER/BANK/%s", currency))
			}
			currencySubs = append(currencySubs, PlannedSubTransaction{
				Type: WalletTransactionTypeSettlement, Channel: PaymentChannelBank,
				Currency: currency, Amount: bank, AccountId: accountId,
			})
		}
		if cash.IsPositive() {
			accountId, ok := resolver.Resolve(WalletTransactionTypeSettlement, WalletRoleDriver, PaymentChannelCash, currency)
			if !ok {
				missing = append(missing, fmt.Sprintf("settlement account for DRIVER/CASH/%s", currency))
			}
			currencySubs = append(currencySubs, PlannedSubTransaction{
				Type: WalletTransactionTypeSettlement, Channel: PaymentChannelCash,
				Currency: currency, Amount: cash, AccountId: accountId,
			})
		}

		// the bank sub is master when present; every outstanding item of
		// this currency rides on exactly one sub-transaction
		if len(currencySubs) > 0 && len(items) > 0 {
			currencySubs[0].IsMaster = true
			currencySubs[0].Items = items
			for i := range items {
				discharged[items[i].ID] = true
			}
		}
		subs = append(subs, currencySubs...)
		hasSettlementSub[currency] = len(currencySubs) > 0
	}

	if len(missing) > 0 {
		return nil, utils.NewConfigurationError(missing...)
	}
	if req.hasBankPortion() && !hasProof {
		return nil, utils.NewValidationError("proof_image_data", "proof of transfer is required for bank payments")
	}

	// Taxi advances are credited only for items this batch actually settles.
	// A currency with no settlement sub cannot discharge COD debt, so its
	// taxi sub takes over as master for the items that carry no COD; an item
	// still owing COD stays outstanding, advance and all, no matter what the
	// taxi-fee currency is.
	for _, currency := range AllCurrencies {
		taxiItems := balance.TaxiItemsForCurrency(currency)
		if len(taxiItems) == 0 {
			continue
		}
		sub := PlannedSubTransaction{
			Type:     WalletTransactionTypeTaxiFee,
			Channel:  PaymentChannelCash,
			Currency: currency,
		}
		if !hasSettlementSub[currency] {
			sub.IsMaster = true
			for i := range taxiItems {
				if taxiItems[i].CodAmount.LessThanOrEqual(taxiItems[i].CodCurrency.SettlementTolerance()) {
					discharged[taxiItems[i].ID] = true
				}
			}
		}
		amount := decimal.Zero
		var carried []ParcelItem
		for i := range taxiItems {
			if !discharged[taxiItems[i].ID] {
				continue
			}
			carried = append(carried, taxiItems[i])
			amount = amount.Add(taxiItems[i].TaxiFee)
		}
		if len(carried) == 0 {
			continue
		}
		sub.Items = carried
		sub.Amount = amount
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		return nil, utils.NewValidationError("amount", "nothing to settle")
	}
	if khrInvolved && !rate.IsPositive() {
		return nil, utils.NewConfigurationError("exchange rate")
	}

	providedUSD := req.providedFor(CurrencyUSD)
	debtUSD := balance.Breakdowns[CurrencyUSD].Net
	if khrInvolved {
		providedUSD = providedUSD.Add(req.providedFor(CurrencyKHR).Div(rate))
		debtUSD = debtUSD.Add(balance.Breakdowns[CurrencyKHR].Net.Div(rate))
	}
	difference := providedUSD.Sub(debtUSD)

	return &SettlementPlan{
		DriverId:         req.DriverId,
		Subs:             subs,
		ExchangeRate:     rate,
		TotalProvidedUSD: utils.RoundHalfUpEpsilon(providedUSD, 2),
		TotalDebtUSD:     utils.RoundHalfUpEpsilon(debtUSD, 2),
		Difference:       utils.RoundHalfUpEpsilon(difference, 2),
		IsBalanced:       difference.Abs().LessThan(balancedThresholdUSD),
	}, nil
}

// SettlementResult is what a submit returns to the caller.
type SettlementResult struct {
	BatchId        string          `json:"batch_id"`
	TransactionIds []int           `json:"transaction_ids"`
	IsBalanced     bool            `json:"is_balanced"`
	Difference     decimal.Decimal `json:"difference"`
	AlreadyExists  bool            `json:"already_exists"`
}

// SubmitSettlement runs the splitter against the driver's live balance and
// writes the whole batch atomically. Creating the transactions and tagging
// their items is one commit; a concurrent submit for the same items loses on
// the deterministic transaction number and gets the existing batch back.
func SubmitSettlement(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Driver](ctx, businessId, req.DriverId); err != nil {
		return nil, utils.NewValidationError("driver_id", "driver not found")
	}

	balance, err := GetOutstandingBalance(ctx, req.DriverId)
	if err != nil {
		return nil, err
	}
	resolver, err := LoadAccountResolver(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rate := decimal.Zero
	if req.providedFor(CurrencyKHR).IsPositive() || !balance.Breakdowns[CurrencyKHR].CodTotal.IsZero() {
		rate, err = GetExchangeRateAt(ctx, now)
		if err != nil && !utils.IsConfigurationError(err) {
			return nil, err
		}
	}

	plan, err := BuildSettlementPlan(balance, req, resolver, rate, req.ProofImageData != "")
	if err != nil {
		return nil, err
	}

	proofURL := ""
	if req.hasBankPortion() {
		objectName := fmt.Sprintf("%s/settlements/%s.jpg", businessId, utils.GenerateUniqueFilename())
		proofURL, err = utils.SaveProofToGCS(ctx, objectName, req.ProofImageData)
		if err != nil {
			return nil, err
		}
	}

	batchId := uuid.NewString()
	records := make([]WalletTransaction, 0, len(plan.Subs))
	for _, sub := range plan.Subs {
		record := WalletTransaction{
			BusinessId:          businessId,
			BatchId:             batchId,
			Type:                sub.Type,
			Status:              WalletTransactionStatusPending,
			Role:                WalletRoleDriver,
			DriverId:            req.DriverId,
			Channel:             sub.Channel,
			Currency:            sub.Currency,
			Amount:              sub.Amount,
			ExchangeRate:        plan.ExchangeRate,
			AccountId:           sub.AccountId,
			Notes:               req.Notes,
			TransactionDateTime: now,
		}
		if sub.Type == WalletTransactionTypeTaxiFee {
			record.TransactionNumber = taxiTransactionNumber(req.DriverId, sub.Currency, now)
		} else {
			record.TransactionNumber = settlementTransactionNumber(req.DriverId, sub.Currency, sub.Channel, now)
		}
		if sub.IsMaster {
			record.IsMaster = utils.NewTrue()
		} else {
			record.IsMaster = utils.NewFalse()
		}
		if sub.Channel == PaymentChannelBank {
			record.ProofURL = proofURL
		}
		for i := range sub.Items {
			record.Items = append(record.Items, WalletTransactionItem{
				BusinessId:   businessId,
				BookingId:    sub.Items[i].BookingId,
				ParcelItemId: sub.Items[i].ID,
			})
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, utils.NewValidationError("amount", "nothing to settle")
	}

	db := config.GetDB()
	tx := db.Begin()
	for i := range records {
		if err := tx.WithContext(ctx).Create(&records[i]).Error; err != nil {
			tx.Rollback()
			if isDuplicateKeyErr(err) {
				return findExistingSettlementBatch(ctx, businessId, records)
			}
			return nil, err
		}
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := enqueueWalletEvent(ctx, tx, businessId, records[0].ID, PubSubMessageActionCreate, nil, &records, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	result := SettlementResult{
		BatchId:    batchId,
		IsBalanced: plan.IsBalanced,
		Difference: plan.Difference,
	}
	for i := range records {
		result.TransactionIds = append(result.TransactionIds, records[i].ID)
	}
	return &result, nil
}

// findExistingSettlementBatch resolves an idempotent retry: the transaction
// numbers already exist, so return the batch they belong to.
func findExistingSettlementBatch(ctx context.Context, businessId string, attempted []WalletTransaction) (*SettlementResult, error) {
	numbers := make([]string, 0, len(attempted))
	for i := range attempted {
		numbers = append(numbers, attempted[i].TransactionNumber)
	}
	db := config.GetDB()
	var existing []WalletTransaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND transaction_number IN ?", businessId, numbers).
		Order("id").Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, utils.NewConsistencyError("settlement conflicts with an existing transaction")
	}
	result := SettlementResult{BatchId: existing[0].BatchId, AlreadyExists: true}
	for i := range existing {
		result.TransactionIds = append(result.TransactionIds, existing[i].ID)
	}
	return &result, nil
}
