package models

import "github.com/shopspring/decimal"

// Currency is one of the two settlement currencies. USD is the hard currency
// and the base for cross-currency reconciliation; KHR floats against it.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyKHR Currency = "KHR"
)

func (c Currency) IsValid() bool {
	return c == CurrencyUSD || c == CurrencyKHR
}

var AllCurrencies = []Currency{CurrencyUSD, CurrencyKHR}

// DecimalPlaces is the display and rounding precision: cents for USD, whole
// riel for KHR.
func (c Currency) DecimalPlaces() int32 {
	if c == CurrencyKHR {
		return 0
	}
	return 2
}

// SettlementTolerance is the strict per-currency matching tolerance for
// declared settlement amounts.
func (c Currency) SettlementTolerance() decimal.Decimal {
	if c == CurrencyKHR {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromFloat(0.01)
}

type ParcelItemStatus string

const (
	ParcelItemStatusPending        ParcelItemStatus = "PENDING"
	ParcelItemStatusPickedUp       ParcelItemStatus = "PICKED_UP"
	ParcelItemStatusAtWarehouse    ParcelItemStatus = "AT_WAREHOUSE"
	ParcelItemStatusInTransit      ParcelItemStatus = "IN_TRANSIT"
	ParcelItemStatusOutForDelivery ParcelItemStatus = "OUT_FOR_DELIVERY"
	ParcelItemStatusDelivered      ParcelItemStatus = "DELIVERED"
	ParcelItemStatusReturnToSender ParcelItemStatus = "RETURN_TO_SENDER"
)

func (s ParcelItemStatus) IsValid() bool {
	switch s {
	case ParcelItemStatusPending, ParcelItemStatusPickedUp, ParcelItemStatusAtWarehouse,
		ParcelItemStatusInTransit, ParcelItemStatusOutForDelivery,
		ParcelItemStatusDelivered, ParcelItemStatusReturnToSender:
		return true
	}
	return false
}

// parcelItemTransitions is the forward edge set of the delivery state machine.
// RETURN_TO_SENDER is reachable from any in-flight state.
var parcelItemTransitions = map[ParcelItemStatus][]ParcelItemStatus{
	ParcelItemStatusPending:        {ParcelItemStatusPickedUp, ParcelItemStatusReturnToSender},
	ParcelItemStatusPickedUp:       {ParcelItemStatusAtWarehouse, ParcelItemStatusInTransit, ParcelItemStatusReturnToSender},
	ParcelItemStatusAtWarehouse:    {ParcelItemStatusInTransit, ParcelItemStatusOutForDelivery, ParcelItemStatusReturnToSender},
	ParcelItemStatusInTransit:      {ParcelItemStatusAtWarehouse, ParcelItemStatusOutForDelivery, ParcelItemStatusReturnToSender},
	ParcelItemStatusOutForDelivery: {ParcelItemStatusDelivered, ParcelItemStatusReturnToSender},
}

func CanTransitionParcelItem(from, to ParcelItemStatus) bool {
	for _, next := range parcelItemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SettlementStatus string

const (
	SettlementStatusUnsettled SettlementStatus = "UNSETTLED"
	SettlementStatusSettled   SettlementStatus = "SETTLED"
)

type WalletTransactionType string

const (
	WalletTransactionTypeDeposit    WalletTransactionType = "DEPOSIT"
	WalletTransactionTypeWithdrawal WalletTransactionType = "WITHDRAWAL"
	WalletTransactionTypeSettlement WalletTransactionType = "SETTLEMENT"
	WalletTransactionTypeEarning    WalletTransactionType = "EARNING"
	WalletTransactionTypeRefund     WalletTransactionType = "REFUND"
	WalletTransactionTypeTaxiFee    WalletTransactionType = "TAXI_FEE"
)

func (t WalletTransactionType) IsValid() bool {
	switch t {
	case WalletTransactionTypeDeposit, WalletTransactionTypeWithdrawal,
		WalletTransactionTypeSettlement, WalletTransactionTypeEarning,
		WalletTransactionTypeRefund, WalletTransactionTypeTaxiFee:
		return true
	}
	return false
}

// settlingTransactionTypes are the types whose approval discharges items.
// An item may belong to at most one APPROVED transaction of these types.
func (t WalletTransactionType) DischargesItems() bool {
	return t == WalletTransactionTypeSettlement || t == WalletTransactionTypeDeposit
}

type WalletTransactionStatus string

const (
	WalletTransactionStatusPending  WalletTransactionStatus = "PENDING"
	WalletTransactionStatusApproved WalletTransactionStatus = "APPROVED"
	WalletTransactionStatusRejected WalletTransactionStatus = "REJECTED"
)

type PaymentChannel string

const (
	PaymentChannelBank PaymentChannel = "BANK"
	PaymentChannelCash PaymentChannel = "CASH"
)

type CommissionEventType string

const (
	CommissionEventPickup   CommissionEventType = "PICKUP"
	CommissionEventDelivery CommissionEventType = "DELIVERY"
)

// WalletRole decides how booking-derived ledger events are signed: a driver
// holds collected cash (debit), a customer is owed it (credit).
type WalletRole string

const (
	WalletRoleDriver   WalletRole = "DRIVER"
	WalletRoleCustomer WalletRole = "CUSTOMER"
)

// LedgerEntryStatus marks whether a derived ledger entry counts toward the
// running balance. Pending and rejected entries are displayed but excluded.
type LedgerEntryStatus string

const (
	LedgerEntryStatusApproved  LedgerEntryStatus = "APPROVED"
	LedgerEntryStatusApplied   LedgerEntryStatus = "APPLIED"
	LedgerEntryStatusCollected LedgerEntryStatus = "COLLECTED"
	LedgerEntryStatusEarned    LedgerEntryStatus = "EARNED"
	LedgerEntryStatusHeld      LedgerEntryStatus = "HELD"
	LedgerEntryStatusPending   LedgerEntryStatus = "PENDING"
	LedgerEntryStatusRejected  LedgerEntryStatus = "REJECTED"
)

func (s LedgerEntryStatus) CountsTowardBalance() bool {
	switch s {
	case LedgerEntryStatusApproved, LedgerEntryStatusApplied, LedgerEntryStatusCollected,
		LedgerEntryStatusEarned, LedgerEntryStatusHeld:
		return true
	}
	return false
}

type AccountMainType string

const (
	AccountMainTypeAsset     AccountMainType = "Asset"
	AccountMainTypeLiability AccountMainType = "Liability"
	AccountMainTypeEquity    AccountMainType = "Equity"
	AccountMainTypeIncome    AccountMainType = "Income"
	AccountMainTypeExpense   AccountMainType = "Expense"
)

type AccountDetailType string

const (
	AccountDetailTypeCash                  AccountDetailType = "Cash"
	AccountDetailTypeBank                  AccountDetailType = "Bank"
	AccountDetailTypeOtherCurrentAsset     AccountDetailType = "OtherCurrentAsset"
	AccountDetailTypeAccountsReceivable    AccountDetailType = "AccountsReceivable"
	AccountDetailTypeOtherCurrentLiability AccountDetailType = "OtherCurrentLiability"
	AccountDetailTypeIncome                AccountDetailType = "Income"
	AccountDetailTypeExpense               AccountDetailType = "Expense"
)

// System default account codes. Seeded once per business; referenced by the
// journal preview's resolution chain.
const (
	AccountCodeCashOnHand        = "COH" // shared cash fallback
	AccountCodeDriverCodHolding  = "DCH" // cash a driver holds on the company's behalf
	AccountCodeCustomerPayable   = "CWP" // COD collected, owed to the sending customer
	AccountCodeDeliveryIncome    = "DIN" // delivery fees earned
	AccountCodeTaxiExpense       = "TXE" // third-party courier fees advanced by drivers
	AccountCodeCommissionExpense = "CME" // driver commissions
	AccountCodeWalletAdjustment  = "WAJ" // settlement shortage / overpayment carry
)

type AccountReferenceType string

const (
	AccountReferenceTypeWalletTransaction AccountReferenceType = "WT"
	AccountReferenceTypeManualJournal     AccountReferenceType = "JN"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

const (
	IdempotencyStatusStarted   = "STARTED"
	IdempotencyStatusSucceeded = "SUCCEEDED"
	IdempotencyStatusFailed    = "FAILED"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "Admin"
	UserRoleOperator UserRole = "Operator"
	UserRoleDriver   UserRole = "Driver"
	UserRoleCustomer UserRole = "Customer"
)
