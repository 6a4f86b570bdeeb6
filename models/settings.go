package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
)

// SettlementAccountSetting maps a role/channel/currency bucket to the account
// settlement money lands on. Missing rows fall through the resolution chain
// in AccountResolver.
type SettlementAccountSetting struct {
	ID         int            `gorm:"primary_key" json:"id"`
	BusinessId string         `gorm:"index;not null;uniqueIndex:idx_sas_bucket,priority:1" json:"business_id"`
	Role       WalletRole     `gorm:"type:enum('DRIVER','CUSTOMER');size:10;not null;uniqueIndex:idx_sas_bucket,priority:2" json:"role"`
	Channel    PaymentChannel `gorm:"type:enum('BANK','CASH');size:6;not null;uniqueIndex:idx_sas_bucket,priority:3" json:"channel"`
	Currency   Currency       `gorm:"type:enum('USD','KHR');size:3;not null;uniqueIndex:idx_sas_bucket,priority:4" json:"currency"`
	AccountId  int            `gorm:"not null" json:"account_id" binding:"required"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TransactionTypeAccountRule is an explicit transaction-type-to-account
// override. It wins over role defaults when present.
type TransactionTypeAccountRule struct {
	ID              int                   `gorm:"primary_key" json:"id"`
	BusinessId      string                `gorm:"index;not null;uniqueIndex:idx_ttar,priority:1" json:"business_id"`
	TransactionType WalletTransactionType `gorm:"size:20;not null;uniqueIndex:idx_ttar,priority:2" json:"transaction_type"`
	AccountId       int                   `gorm:"not null" json:"account_id" binding:"required"`
	CreatedAt       time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s SettlementAccountSetting) GetBusinessId() string   { return s.BusinessId }
func (r TransactionTypeAccountRule) GetBusinessId() string { return r.BusinessId }

type settlementBucket struct {
	Role     WalletRole
	Channel  PaymentChannel
	Currency Currency
}

// AccountResolver is a plain snapshot of the account configuration, so the
// preview builder stays a pure function over it.
type AccountResolver struct {
	Overrides  map[WalletTransactionType]int
	Defaults   map[settlementBucket]int
	CashOnHand int
}

// Resolve walks the chain: explicit type override, role/channel/currency
// default, shared cash-on-hand. ok is false when nothing resolves, which the
// caller must surface as a configuration error, never default silently.
func (r *AccountResolver) Resolve(txType WalletTransactionType, role WalletRole, channel PaymentChannel, currency Currency) (int, bool) {
	if id, ok := r.Overrides[txType]; ok && id > 0 {
		return id, true
	}
	if id, ok := r.Defaults[settlementBucket{Role: role, Channel: channel, Currency: currency}]; ok && id > 0 {
		return id, true
	}
	// Bank buckets never fall back to cash-on-hand: money said to be in a
	// bank must map to a configured bank account.
	if channel == PaymentChannelBank {
		return 0, false
	}
	if r.CashOnHand > 0 {
		return r.CashOnHand, true
	}
	return 0, false
}

// LoadAccountResolver snapshots the settlement account configuration.
func LoadAccountResolver(ctx context.Context) (*AccountResolver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()

	var settings []SettlementAccountSetting
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&settings).Error; err != nil {
		return nil, err
	}
	var rules []TransactionTypeAccountRule
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&rules).Error; err != nil {
		return nil, err
	}
	sysAccounts, err := GetSystemAccounts(businessId)
	if err != nil {
		return nil, err
	}

	resolver := &AccountResolver{
		Overrides:  make(map[WalletTransactionType]int, len(rules)),
		Defaults:   make(map[settlementBucket]int, len(settings)),
		CashOnHand: sysAccounts[AccountCodeCashOnHand],
	}
	for _, rule := range rules {
		resolver.Overrides[rule.TransactionType] = rule.AccountId
	}
	for _, s := range settings {
		resolver.Defaults[settlementBucket{Role: s.Role, Channel: s.Channel, Currency: s.Currency}] = s.AccountId
	}
	return resolver, nil
}

type NewSettlementAccountSetting struct {
	Role      WalletRole     `json:"role" binding:"required"`
	Channel   PaymentChannel `json:"channel" binding:"required"`
	Currency  Currency       `json:"currency" binding:"required"`
	AccountId int            `json:"account_id" binding:"required"`
}

func UpsertSettlementAccountSetting(ctx context.Context, input *NewSettlementAccountSetting) (*SettlementAccountSetting, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.Currency.IsValid() {
		return nil, utils.NewValidationError("currency", "unknown currency")
	}
	if err := utils.ValidateResourceId[Account](ctx, businessId, input.AccountId); err != nil {
		return nil, errors.New("account not found")
	}

	db := config.GetDB()
	var setting SettlementAccountSetting
	err := db.WithContext(ctx).
		Where("business_id = ? AND role = ? AND channel = ? AND currency = ?",
			businessId, input.Role, input.Channel, input.Currency).
		First(&setting).Error
	if err == nil {
		if err := db.WithContext(ctx).Model(&setting).Update("AccountId", input.AccountId).Error; err != nil {
			return nil, err
		}
		return &setting, nil
	}

	setting = SettlementAccountSetting{
		BusinessId: businessId,
		Role:       input.Role,
		Channel:    input.Channel,
		Currency:   input.Currency,
		AccountId:  input.AccountId,
	}
	if err := db.WithContext(ctx).Create(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}
