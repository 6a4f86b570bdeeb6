package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
)

type Driver struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"index;size:255;not null" json:"name" binding:"required"`
	Phone      string    `gorm:"size:50" json:"phone"`
	Zone       string    `gorm:"index;size:100" json:"zone"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDriver struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
	Zone  string `json:"zone"`
}

func (d Driver) GetBusinessId() string { return d.BusinessId }

func CreateDriver(ctx context.Context, input *NewDriver) (*Driver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone); err != nil {
			return nil, utils.NewValidationError("phone", "invalid phone number")
		}
	}

	driver := Driver{
		BusinessId: businessId,
		Name:       input.Name,
		Phone:      input.Phone,
		Zone:       input.Zone,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&driver).Error; err != nil {
		return nil, err
	}
	return &driver, nil
}

func GetDriver(ctx context.Context, id int) (*Driver, error) {
	return GetResource[Driver](ctx, id)
}

func GetDrivers(ctx context.Context, zone *string) ([]*Driver, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if zone != nil && *zone != "" {
		dbCtx = dbCtx.Where("zone = ?", *zone)
	}
	var results []*Driver
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
