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

// CurrencyExchange is the floating KHR-per-USD rate, one row per effective
// date. The most recent row on or before a given date wins.
type CurrencyExchange struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id" binding:"required"`
	ExchangeDate time.Time       `gorm:"index;not null" json:"exchange_date" binding:"required"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"exchange_rate"`
	Notes        string          `gorm:"size:255" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCurrencyExchange struct {
	ExchangeDate time.Time       `json:"exchange_date" binding:"required"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" binding:"required"`
	Notes        string          `json:"notes"`
}

func (ce CurrencyExchange) GetBusinessId() string { return ce.BusinessId }

func CreateCurrencyExchange(ctx context.Context, input *NewCurrencyExchange) (*CurrencyExchange, error) {

	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if !input.ExchangeRate.IsPositive() {
		return nil, utils.NewValidationError("exchange_rate", "must be positive")
	}

	exchange := CurrencyExchange{
		BusinessId:   businessId,
		ExchangeDate: input.ExchangeDate,
		ExchangeRate: input.ExchangeRate,
		Notes:        input.Notes,
	}

	err := db.WithContext(ctx).Create(&exchange).Error
	if err != nil {
		return nil, err
	}
	return &exchange, nil
}

func UpdateCurrencyExchange(ctx context.Context, id int, input *NewCurrencyExchange) (*CurrencyExchange, error) {

	db := config.GetDB()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.ExchangeRate.IsPositive() {
		return nil, utils.NewValidationError("exchange_rate", "must be positive")
	}

	exchange, err := utils.FetchModel[CurrencyExchange](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Model(&exchange).Updates(map[string]interface{}{
		"ExchangeDate": input.ExchangeDate,
		"ExchangeRate": input.ExchangeRate,
		"Notes":        input.Notes,
	}).Error
	if err != nil {
		return nil, err
	}
	return exchange, nil
}

// GetExchangeRateAt returns the KHR-per-USD rate effective at the given time.
func GetExchangeRateAt(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, errors.New("business id is required")
	}

	db := config.GetDB()
	var exchange CurrencyExchange
	err := db.WithContext(ctx).
		Where("business_id = ? AND exchange_date <= ?", businessId, at).
		Order("exchange_date DESC").
		First(&exchange).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, utils.NewConfigurationError("exchange rate")
		}
		return decimal.Zero, err
	}
	if !exchange.ExchangeRate.IsPositive() {
		return decimal.Zero, utils.NewConfigurationError("exchange rate")
	}
	return exchange.ExchangeRate, nil
}

// GetCurrentExchangeRate is GetExchangeRateAt(now).
func GetCurrentExchangeRate(ctx context.Context) (decimal.Decimal, error) {
	return GetExchangeRateAt(ctx, time.Now().UTC())
}
