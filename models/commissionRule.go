package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionRule pays a driver for a pickup or delivery event. A rule with an
// empty zone is the business-wide default for its event type; zoned rules win
// over it. Rate and FixedAmount are mutually exclusive: a non-zero rate is a
// fraction of the item's delivery fee, otherwise FixedAmount is paid as-is.
type CommissionRule struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"index;not null" json:"business_id"`
	Zone        string              `gorm:"size:100;index" json:"zone"`
	EventType   CommissionEventType `gorm:"type:enum('PICKUP','DELIVERY');size:10;not null" json:"event_type"`
	Currency    Currency            `gorm:"type:enum('USD','KHR');size:3;not null" json:"currency"`
	Rate        decimal.Decimal     `gorm:"type:decimal(10,4);default:0" json:"rate"`
	FixedAmount decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"fixed_amount"`
	IsActive    *bool               `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (rule CommissionRule) GetBusinessId() string { return rule.BusinessId }

type NewCommissionRule struct {
	Zone        string              `json:"zone"`
	EventType   CommissionEventType `json:"event_type" binding:"required"`
	Currency    Currency            `json:"currency" binding:"required"`
	Rate        decimal.Decimal     `json:"rate"`
	FixedAmount decimal.Decimal     `json:"fixed_amount"`
}

func CreateCommissionRule(ctx context.Context, input NewCommissionRule) (*CommissionRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.EventType != CommissionEventPickup && input.EventType != CommissionEventDelivery {
		return nil, utils.NewValidationError("event_type", "unknown event type")
	}
	if !input.Currency.IsValid() {
		return nil, utils.NewValidationError("currency", "unknown currency")
	}
	if input.Rate.IsNegative() || input.FixedAmount.IsNegative() {
		return nil, utils.NewValidationError("rate", "must not be negative")
	}
	if !input.Rate.IsZero() && !input.FixedAmount.IsZero() {
		return nil, utils.NewValidationError("rate", "set either a rate or a fixed amount, not both")
	}

	rule := CommissionRule{
		BusinessId:  businessId,
		Zone:        input.Zone,
		EventType:   input.EventType,
		Currency:    input.Currency,
		Rate:        input.Rate,
		FixedAmount: input.FixedAmount,
		IsActive:    utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func GetCommissionRules(ctx context.Context) ([]CommissionRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var rules []CommissionRule
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = true", businessId).
		Order("id").Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// ResolveCommission picks the rule for an event and computes the payout.
// Selection order is first active rule whose zone matches, then the default
// (empty-zone) rule. The result is suppressed, returned as (zero, false),
// when no rule applies, when the rule's currency differs from the fee's, or
// when the computed amount rounds to zero.
func ResolveCommission(rules []CommissionRule, zone string, event CommissionEventType, fee decimal.Decimal, feeCurrency Currency) (decimal.Decimal, bool) {
	var matched *CommissionRule
	for i := range rules {
		rule := &rules[i]
		if rule.EventType != event {
			continue
		}
		if rule.IsActive != nil && !*rule.IsActive {
			continue
		}
		if rule.Zone == zone && zone != "" {
			matched = rule
			break
		}
		if rule.Zone == "" && matched == nil {
			matched = rule
		}
	}
	if matched == nil {
		return decimal.Zero, false
	}
	if matched.Currency != feeCurrency {
		return decimal.Zero, false
	}

	var amount decimal.Decimal
	if !matched.Rate.IsZero() {
		amount = utils.RoundHalfUpEpsilon(fee.Mul(matched.Rate), feeCurrency.DecimalPlaces())
	} else {
		amount = utils.RoundHalfUpEpsilon(matched.FixedAmount, feeCurrency.DecimalPlaces())
	}
	if amount.IsZero() {
		return decimal.Zero, false
	}
	return amount, true
}

// writeCommissionEarnings records EARNING wallet transactions for the pickup
// and delivery actors of a just-delivered item, inside the caller's
// transaction. A suppressed commission writes nothing.
func writeCommissionEarnings(ctx context.Context, tx *gorm.DB, businessId string, item *ParcelItem, at time.Time) error {
	var rules []CommissionRule
	err := tx.WithContext(ctx).
		Where("business_id = ? AND is_active = true", businessId).
		Order("id").Find(&rules).Error
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	fee := item.DeliveryFee(item.CodCurrency)

	type earning struct {
		driverId int
		event    CommissionEventType
	}
	events := []earning{}
	if item.DriverId > 0 {
		events = append(events, earning{item.DriverId, CommissionEventPickup})
	}
	if deliverer := item.SettlementActor(); deliverer > 0 {
		events = append(events, earning{deliverer, CommissionEventDelivery})
	}

	for _, ev := range events {
		zone := ""
		var driver Driver
		if err := tx.WithContext(ctx).Where("business_id = ?", businessId).
			First(&driver, ev.driverId).Error; err == nil {
			zone = driver.Zone
		}
		amount, ok := ResolveCommission(rules, zone, ev.event, fee, item.CodCurrency)
		if !ok {
			continue
		}
		if err := createEarningTransaction(ctx, tx, businessId, ev.driverId, item, ev.event, amount, at); err != nil {
			return err
		}
	}
	return nil
}
