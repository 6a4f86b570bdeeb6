package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

// LedgerItem is one normalized, signed, dated entry in a subject's wallet
// ledger. IsCredit is from the subject's point of view: a credit is money
// the company owes them (or debt of theirs reduced).
type LedgerItem struct {
	Date           time.Time         `json:"date"`
	Description    string            `json:"description"`
	Type           string            `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       Currency          `json:"currency"`
	Status         LedgerEntryStatus `json:"status"`
	IsCredit       bool              `json:"is_credit"`
	RunningBalance decimal.Decimal   `json:"running_balance"`
	ReferenceId    int               `json:"reference_id,omitempty"`

	skipsBalance bool
}

// WalletLedger is the merged, chronological view with per-currency running
// balances. Balance carries the final balance per currency.
type WalletLedger struct {
	Role    WalletRole                   `json:"role"`
	Balance map[Currency]decimal.Decimal `json:"balance"`
	Items   []LedgerItem                 `json:"items"`
}

// ledgerStatusFor maps a wallet transaction to its ledger display status.
func ledgerStatusFor(record *WalletTransaction) LedgerEntryStatus {
	switch record.Status {
	case WalletTransactionStatusPending:
		return LedgerEntryStatusPending
	case WalletTransactionStatusRejected:
		return LedgerEntryStatusRejected
	}
	switch record.Type {
	case WalletTransactionTypeEarning:
		return LedgerEntryStatusEarned
	case WalletTransactionTypeDeposit, WalletTransactionTypeWithdrawal, WalletTransactionTypeRefund:
		return LedgerEntryStatusApplied
	default:
		return LedgerEntryStatusApproved
	}
}

func transactionIsCredit(role WalletRole, txType WalletTransactionType) bool {
	if role == WalletRoleDriver {
		switch txType {
		case WalletTransactionTypeEarning, WalletTransactionTypeDeposit,
			WalletTransactionTypeSettlement, WalletTransactionTypeTaxiFee:
			return true
		default:
			return false
		}
	}
	// customer: money paid out to them is a debit against their payable
	return txType == WalletTransactionTypeDeposit
}

// clearsCountedDebt reports transaction types whose effect is already in the
// ledger through the items they discharge. Adding their own amount to the
// running balance would subtract the same debt twice.
func clearsCountedDebt(role WalletRole, txType WalletTransactionType) bool {
	if role != WalletRoleDriver {
		return false
	}
	return txType == WalletTransactionTypeSettlement || txType == WalletTransactionTypeTaxiFee
}

func transactionLedgerItem(role WalletRole, record *WalletTransaction) LedgerItem {
	description := record.Notes
	if description == "" {
		description = fmt.Sprintf("%s %s", record.Type, record.TransactionNumber)
	}
	return LedgerItem{
		Date:        record.TransactionDateTime,
		Description: description,
		Type:        string(record.Type),
		Amount:      record.Amount,
		Currency:    record.Currency,
		Status:      ledgerStatusFor(record),
		IsCredit:    transactionIsCredit(role, record.Type),
		ReferenceId: record.ID,
	}
}

// deriveItemEntries turns delivered items into implicit ledger events. For a
// driver each delivered item is cash held (a debit) plus, when taxi-advanced,
// a reimbursement credit. For a customer it is COD collected on their behalf
// (a credit) less the delivery fee and any taxi fee (debits).
func deriveItemEntries(role WalletRole, bookings []ParcelBooking) []LedgerItem {
	var out []LedgerItem
	for bi := range bookings {
		booking := &bookings[bi]
		for ii := range booking.Items {
			item := &booking.Items[ii]
			if item.Status != ParcelItemStatusDelivered || item.DeliveredAt == nil {
				continue
			}
			date := *item.DeliveredAt

			if role == WalletRoleDriver {
				if item.CodAmount.IsPositive() {
					out = append(out, LedgerItem{
						Date:        date,
						Description: fmt.Sprintf("COD held for item #%d (%s)", item.ID, booking.BookingNumber),
						Type:        "COD_HELD",
						Amount:      item.CodAmount,
						Currency:    item.CodCurrency,
						Status:      LedgerEntryStatusCollected,
						IsCredit:    false,
						ReferenceId: item.ID,
					})
				}
				if item.IsTaxiDelivery != nil && *item.IsTaxiDelivery && item.TaxiFee.IsPositive() {
					out = append(out, LedgerItem{
						Date:        date,
						Description: fmt.Sprintf("Taxi advance for item #%d", item.ID),
						Type:        "TAXI_ADVANCE",
						Amount:      item.TaxiFee,
						Currency:    item.TaxiFeeCurrency,
						Status:      LedgerEntryStatusHeld,
						IsCredit:    true,
						ReferenceId: item.ID,
					})
				}
				continue
			}

			if item.CodAmount.IsPositive() {
				out = append(out, LedgerItem{
					Date:        date,
					Description: fmt.Sprintf("COD collected for item #%d (%s)", item.ID, booking.BookingNumber),
					Type:        "COD_COLLECTED",
					Amount:      item.CodAmount,
					Currency:    item.CodCurrency,
					Status:      LedgerEntryStatusCollected,
					IsCredit:    true,
					ReferenceId: item.ID,
				})
			}
			if fee := item.DeliveryFee(item.CodCurrency); fee.IsPositive() {
				out = append(out, LedgerItem{
					Date:        date,
					Description: fmt.Sprintf("Delivery fee for item #%d", item.ID),
					Type:        "DELIVERY_FEE",
					Amount:      fee,
					Currency:    item.CodCurrency,
					Status:      LedgerEntryStatusApplied,
					IsCredit:    false,
					ReferenceId: item.ID,
				})
			}
			if item.IsTaxiDelivery != nil && *item.IsTaxiDelivery && item.TaxiFee.IsPositive() {
				out = append(out, LedgerItem{
					Date:        date,
					Description: fmt.Sprintf("Taxi fee for item #%d", item.ID),
					Type:        "TAXI_FEE",
					Amount:      item.TaxiFee,
					Currency:    item.TaxiFeeCurrency,
					Status:      LedgerEntryStatusApplied,
					IsCredit:    false,
					ReferenceId: item.ID,
				})
			}
		}
	}
	return out
}

// BuildLedger merges persisted transactions with delivery-derived events into
// one chronological ledger with per-currency running balances. Pure over its
// inputs; the same data always yields the same ledger.
func BuildLedger(role WalletRole, transactions []WalletTransaction, bookings []ParcelBooking) *WalletLedger {
	items := deriveItemEntries(role, bookings)
	for i := range transactions {
		record := &transactions[i]
		entry := transactionLedgerItem(role, record)
		entry.skipsBalance = clearsCountedDebt(role, record.Type)
		items = append(items, entry)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].ReferenceId < items[j].ReferenceId
	})

	balance := map[Currency]decimal.Decimal{}
	for _, currency := range AllCurrencies {
		balance[currency] = decimal.Zero
	}
	for i := range items {
		entry := &items[i]
		if entry.Status.CountsTowardBalance() && !entry.skipsBalance {
			if entry.IsCredit {
				balance[entry.Currency] = balance[entry.Currency].Add(entry.Amount)
			} else {
				balance[entry.Currency] = balance[entry.Currency].Sub(entry.Amount)
			}
		}
		entry.RunningBalance = balance[entry.Currency]
	}

	return &WalletLedger{Role: role, Balance: balance, Items: items}
}

// getBookingsForLedger loads the bookings whose items can produce ledger
// events for the subject.
func getBookingsForLedger(ctx context.Context, businessId string, role WalletRole, subjectId int) ([]ParcelBooking, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Items").Where("business_id = ?", businessId)
	if role == WalletRoleCustomer {
		query = query.Where("sender_id = ?", subjectId)
	} else {
		query = query.Where(
			"pickup_driver_id = ? OR id IN (?)",
			subjectId,
			db.Model(&ParcelItem{}).Select("booking_id").
				Where("business_id = ? AND (driver_id = ? OR deliverer_id = ?)", businessId, subjectId, subjectId),
		)
	}
	var bookings []ParcelBooking
	if err := query.Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

// GetWalletLedger is the read endpoint's workhorse: fetch, merge, aggregate.
// since limits the lookback window; currencyFilter narrows the ledger to one
// currency when set.
func GetWalletLedger(ctx context.Context, role WalletRole, subjectId int, since time.Time, currencyFilter Currency) (*WalletLedger, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if role != WalletRoleDriver && role != WalletRoleCustomer {
		return nil, utils.NewValidationError("role", "unknown role")
	}

	transactions, err := GetWalletTransactions(ctx, role, subjectId, since)
	if err != nil {
		return nil, err
	}
	bookings, err := getBookingsForLedger(ctx, businessId, role, subjectId)
	if err != nil {
		return nil, err
	}

	ledger := BuildLedger(role, transactions, bookings)

	if !since.IsZero() || currencyFilter != "" {
		filtered := ledger.Items[:0:0]
		for _, entry := range ledger.Items {
			if !since.IsZero() && entry.Date.Before(since) {
				continue
			}
			if currencyFilter != "" && entry.Currency != currencyFilter {
				continue
			}
			filtered = append(filtered, entry)
		}
		ledger.Items = filtered
	}
	return ledger, nil
}
