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

// ParcelItem is one shippable unit. codCurrency is required on every monetary
// field; there is no "default to USD" fallback anywhere. The delivery fee is
// precomputed in both currencies at booking time so later display and
// commission math never re-convert.
type ParcelItem struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BusinessId     string           `gorm:"index;not null" json:"business_id"`
	BookingId      int              `gorm:"index;not null" json:"booking_id"`
	Description    string           `gorm:"size:255" json:"description"`
	Status         ParcelItemStatus `gorm:"type:enum('PENDING','PICKED_UP','AT_WAREHOUSE','IN_TRANSIT','OUT_FOR_DELIVERY','DELIVERED','RETURN_TO_SENDER');default:'PENDING';index;size:20;not null" json:"status"`
	CodAmount      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"cod_amount"`
	CodCurrency    Currency         `gorm:"type:enum('USD','KHR');size:3;not null" json:"cod_currency"`
	DeliveryFeeUSD decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"delivery_fee_usd"`
	DeliveryFeeKHR decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"delivery_fee_khr"`

	IsTaxiDelivery  *bool           `gorm:"not null;default:false" json:"is_taxi_delivery"`
	TaxiFee         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"taxi_fee"`
	TaxiFeeCurrency Currency        `gorm:"type:enum('USD','KHR');default:'USD';size:3" json:"taxi_fee_currency"`

	DriverId    int `gorm:"index" json:"driver_id"`    // pickup actor
	DelivererId int `gorm:"index" json:"deliverer_id"` // delivery actor, may differ

	SettlementStatus SettlementStatus `gorm:"type:enum('UNSETTLED','SETTLED');default:'UNSETTLED';index;size:10;not null" json:"settlement_status"`
	DeliveredAt      *time.Time       `gorm:"index" json:"delivered_at"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewParcelItem struct {
	Description     string          `json:"description"`
	CodAmount       decimal.Decimal `json:"cod_amount"`
	CodCurrency     Currency        `json:"cod_currency" binding:"required"`
	DeliveryFeeUSD  decimal.Decimal `json:"delivery_fee_usd"`
	DeliveryFeeKHR  decimal.Decimal `json:"delivery_fee_khr"`
	IsTaxiDelivery  *bool           `json:"is_taxi_delivery"`
	TaxiFee         decimal.Decimal `json:"taxi_fee"`
	TaxiFeeCurrency Currency        `json:"taxi_fee_currency"`
}

func (item ParcelItem) GetBusinessId() string { return item.BusinessId }

// DeliveryFee returns the fee in the requested currency from the precomputed
// pair.
func (item *ParcelItem) DeliveryFee(currency Currency) decimal.Decimal {
	if currency == CurrencyKHR {
		return item.DeliveryFeeKHR
	}
	return item.DeliveryFeeUSD
}

// SettlementActor is the driver this item's cash sits with: the deliverer
// when one is assigned, otherwise the pickup driver.
func (item *ParcelItem) SettlementActor() int {
	if item.DelivererId > 0 {
		return item.DelivererId
	}
	return item.DriverId
}

func (input *NewParcelItem) validate() error {
	if !input.CodCurrency.IsValid() {
		return utils.NewValidationError("cod_currency", "unknown currency")
	}
	if input.CodAmount.IsNegative() {
		return utils.NewValidationError("cod_amount", "must not be negative")
	}
	if input.TaxiFee.IsNegative() {
		return utils.NewValidationError("taxi_fee", "must not be negative")
	}
	if input.IsTaxiDelivery != nil && *input.IsTaxiDelivery {
		if !input.TaxiFeeCurrency.IsValid() {
			return utils.NewValidationError("taxi_fee_currency", "unknown currency")
		}
	}
	return nil
}

// UpdateParcelItemStatus advances an item through the delivery state machine.
// A delivered item cannot be delivered again: there is no forward edge out of
// DELIVERED.
func UpdateParcelItemStatus(ctx context.Context, itemId int, status ParcelItemStatus, actorDriverId int) (*ParcelItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !status.IsValid() {
		return nil, utils.NewValidationError("status", "unknown status")
	}
	if status == ParcelItemStatusDelivered {
		return MarkParcelItemDelivered(ctx, itemId, actorDriverId)
	}

	item, err := utils.FetchModel[ParcelItem](ctx, businessId, itemId)
	if err != nil {
		return nil, err
	}
	if !CanTransitionParcelItem(item.Status, status) {
		return nil, utils.NewValidationError("status", "cannot move item from "+string(item.Status)+" to "+string(status))
	}

	updates := map[string]interface{}{"Status": status}
	if status == ParcelItemStatusPickedUp && actorDriverId > 0 {
		updates["DriverId"] = actorDriverId
	}
	if status == ParcelItemStatusOutForDelivery && actorDriverId > 0 {
		updates["DelivererId"] = actorDriverId
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&item).Updates(updates).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// MarkParcelItemDelivered records the delivery and, in the same transaction,
// writes the pickup and delivery commission earnings for the acting drivers.
// The status flip re-checks the pre-read status in the same write, so two
// concurrent deliver calls cannot both succeed.
func MarkParcelItemDelivered(ctx context.Context, itemId int, delivererId int) (*ParcelItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	item, err := utils.FetchModel[ParcelItem](ctx, businessId, itemId)
	if err != nil {
		return nil, err
	}
	if item.Status == ParcelItemStatusDelivered {
		return nil, utils.NewConsistencyError("item is already delivered")
	}
	if !CanTransitionParcelItem(item.Status, ParcelItemStatusDelivered) {
		return nil, utils.NewValidationError("status", "cannot deliver item in status "+string(item.Status))
	}

	now := time.Now().UTC()
	db := config.GetDB()
	tx := db.Begin()

	updates := map[string]interface{}{
		"Status":      ParcelItemStatusDelivered,
		"DeliveredAt": &now,
	}
	if delivererId > 0 {
		updates["DelivererId"] = delivererId
	}
	result := tx.WithContext(ctx).Model(&item).
		Where("status = ?", item.Status).
		Updates(updates)
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, utils.NewConsistencyError("item was updated concurrently")
	}

	if err := writeCommissionEarnings(ctx, tx, businessId, item, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

// markItemsSettled flips items to SETTLED inside the caller's transaction,
// re-checking settlement status in the same write so a concurrent settlement
// cannot discharge the same item twice.
func markItemsSettled(ctx context.Context, tx *gorm.DB, businessId string, itemIds []int) error {
	if len(itemIds) == 0 {
		return nil
	}
	unqIds := utils.UniqueSlice(itemIds)
	result := tx.WithContext(ctx).Model(&ParcelItem{}).
		Where("business_id = ? AND id IN ?", businessId, unqIds).
		Where("settlement_status = ?", SettlementStatusUnsettled).
		Update("SettlementStatus", SettlementStatusSettled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(unqIds)) {
		return utils.NewConsistencyError("one or more items are already settled")
	}
	return nil
}

// GetUnsettledDeliveredItems fetches the items whose cash the given driver
// currently holds.
func GetUnsettledDeliveredItems(ctx context.Context, driverId int) ([]ParcelItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var items []ParcelItem
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("status = ?", ParcelItemStatusDelivered).
		Where("settlement_status = ?", SettlementStatusUnsettled).
		Where("deliverer_id = ? OR (deliverer_id = 0 AND driver_id = ?)", driverId, driverId).
		Order("delivered_at, id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
