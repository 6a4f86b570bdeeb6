package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/google/uuid"
)

// Business is the delivery operator (tenant). All records are scoped by it.
type Business struct {
	ID        uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255" json:"email"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Timezone  string    `gorm:"size:100;default:'Asia/Phnom_Penh'" json:"timezone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Timezone string `json:"timezone"`
}

func (b Business) GetBusinessId() string { return b.ID.String() }

// CreateBusiness creates the tenant row and seeds its system chart of
// accounts in one transaction.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, utils.NewValidationError("email", "invalid email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone); err != nil {
			return nil, utils.NewValidationError("phone", "invalid phone number")
		}
	}

	business := Business{
		ID:       uuid.New(),
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Timezone: input.Timezone,
	}
	if business.Timezone == "" {
		business.Timezone = "Asia/Phnom_Penh"
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&business).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := seedSystemAccounts(ctx, tx, business.ID.String()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return GetBusinessById(ctx, businessId)
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	var business *Business
	exists, err := config.GetRedisObject("Business:"+businessId, &business)
	if err != nil {
		return nil, err
	}
	if exists {
		return business, nil
	}

	db := config.GetDB()
	business = &Business{}
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := config.SetRedisObject("Business:"+businessId, business, 0); err != nil {
		return nil, err
	}
	return business, nil
}
