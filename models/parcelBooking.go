package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

// ParcelBooking groups the items a sender handed over in one go. The fee
// total is stored in the booking's own currency and is always derived from
// the items' precomputed fee pair, never entered directly.
type ParcelBooking struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null" json:"business_id"`
	BookingNumber    string          `gorm:"size:50;index;not null" json:"booking_number"`
	SequenceNo       int             `json:"sequence_no"`
	SenderId         int             `gorm:"index;not null" json:"sender_id"`
	Sender           *Customer       `gorm:"foreignKey:SenderId" json:"sender,omitempty"`
	PickupDriverId   int             `gorm:"index" json:"pickup_driver_id"`
	FeeCurrency      Currency        `gorm:"type:enum('USD','KHR');size:3;not null" json:"fee_currency"`
	TotalDeliveryFee decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_delivery_fee"`
	Notes            string          `gorm:"size:500" json:"notes"`
	Items            []ParcelItem    `gorm:"foreignKey:BookingId" json:"items"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewParcelBooking struct {
	SenderId       int             `json:"sender_id" binding:"required"`
	PickupDriverId int             `json:"pickup_driver_id"`
	FeeCurrency    Currency        `json:"fee_currency" binding:"required"`
	Notes          string          `json:"notes"`
	Items          []NewParcelItem `json:"items" binding:"required"`
}

type UpdateParcelItemInput struct {
	Description     *string          `json:"description"`
	CodAmount       *decimal.Decimal `json:"cod_amount"`
	CodCurrency     *Currency        `json:"cod_currency"`
	DeliveryFeeUSD  *decimal.Decimal `json:"delivery_fee_usd"`
	DeliveryFeeKHR  *decimal.Decimal `json:"delivery_fee_khr"`
	IsTaxiDelivery  *bool            `json:"is_taxi_delivery"`
	TaxiFee         *decimal.Decimal `json:"taxi_fee"`
	TaxiFeeCurrency *Currency        `json:"taxi_fee_currency"`
}

func (booking ParcelBooking) GetBusinessId() string { return booking.BusinessId }

func totalDeliveryFee(items []ParcelItem, currency Currency) decimal.Decimal {
	total := decimal.Zero
	for i := range items {
		total = total.Add(items[i].DeliveryFee(currency))
	}
	return total
}

func CreateParcelBooking(ctx context.Context, input NewParcelBooking) (*ParcelBooking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.FeeCurrency.IsValid() {
		return nil, utils.NewValidationError("fee_currency", "unknown currency")
	}
	if len(input.Items) == 0 {
		return nil, utils.NewValidationError("items", "a booking needs at least one item")
	}
	for i := range input.Items {
		if err := input.Items[i].validate(); err != nil {
			return nil, err
		}
	}
	if err := utils.ValidateResourceId[Customer](ctx, businessId, input.SenderId); err != nil {
		return nil, utils.NewValidationError("sender_id", "sender not found")
	}
	if input.PickupDriverId > 0 {
		if err := utils.ValidateResourceId[Driver](ctx, businessId, input.PickupDriverId); err != nil {
			return nil, utils.NewValidationError("pickup_driver_id", "driver not found")
		}
	}

	seq, err := utils.GetSequence[ParcelBooking](ctx, businessId)
	if err != nil {
		return nil, err
	}

	booking := ParcelBooking{
		BusinessId:     businessId,
		BookingNumber:  fmt.Sprintf("PB-%06d", seq),
		SequenceNo:     int(seq),
		SenderId:       input.SenderId,
		PickupDriverId: input.PickupDriverId,
		FeeCurrency:    input.FeeCurrency,
		Notes:          input.Notes,
	}
	for _, in := range input.Items {
		item := ParcelItem{
			BusinessId:      businessId,
			Description:     in.Description,
			Status:          ParcelItemStatusPending,
			CodAmount:       in.CodAmount,
			CodCurrency:     in.CodCurrency,
			DeliveryFeeUSD:  in.DeliveryFeeUSD,
			DeliveryFeeKHR:  in.DeliveryFeeKHR,
			TaxiFee:         in.TaxiFee,
			TaxiFeeCurrency: in.TaxiFeeCurrency,
			DriverId:        input.PickupDriverId,
		}
		if in.IsTaxiDelivery != nil {
			item.IsTaxiDelivery = in.IsTaxiDelivery
		} else {
			item.IsTaxiDelivery = utils.NewFalse()
		}
		booking.Items = append(booking.Items, item)
	}
	booking.TotalDeliveryFee = totalDeliveryFee(booking.Items, booking.FeeCurrency)

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&booking).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateParcelItem edits an item's monetary fields before settlement.
// Switching codCurrency also switches which fee of the precomputed pair the
// booking total reads, so the total is recomputed here in the same write.
func UpdateParcelItem(ctx context.Context, itemId int, input UpdateParcelItemInput) (*ParcelItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	item, err := utils.FetchModel[ParcelItem](ctx, businessId, itemId)
	if err != nil {
		return nil, err
	}
	if item.SettlementStatus == SettlementStatusSettled {
		return nil, utils.NewValidationError("item", "a settled item cannot be edited")
	}

	updates := map[string]interface{}{}
	if input.Description != nil {
		updates["Description"] = *input.Description
	}
	if input.CodAmount != nil {
		if input.CodAmount.IsNegative() {
			return nil, utils.NewValidationError("cod_amount", "must not be negative")
		}
		updates["CodAmount"] = *input.CodAmount
	}
	if input.CodCurrency != nil {
		if !input.CodCurrency.IsValid() {
			return nil, utils.NewValidationError("cod_currency", "unknown currency")
		}
		updates["CodCurrency"] = *input.CodCurrency
	}
	if input.DeliveryFeeUSD != nil {
		updates["DeliveryFeeUSD"] = *input.DeliveryFeeUSD
	}
	if input.DeliveryFeeKHR != nil {
		updates["DeliveryFeeKHR"] = *input.DeliveryFeeKHR
	}
	if input.IsTaxiDelivery != nil {
		updates["IsTaxiDelivery"] = *input.IsTaxiDelivery
	}
	if input.TaxiFee != nil {
		if input.TaxiFee.IsNegative() {
			return nil, utils.NewValidationError("taxi_fee", "must not be negative")
		}
		updates["TaxiFee"] = *input.TaxiFee
	}
	if input.TaxiFeeCurrency != nil {
		if !input.TaxiFeeCurrency.IsValid() {
			return nil, utils.NewValidationError("taxi_fee_currency", "unknown currency")
		}
		updates["TaxiFeeCurrency"] = *input.TaxiFeeCurrency
	}
	if len(updates) == 0 {
		return item, nil
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&item).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	var booking ParcelBooking
	if err := tx.WithContext(ctx).Preload("Items").
		Where("business_id = ?", businessId).First(&booking, item.BookingId).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	newTotal := totalDeliveryFee(booking.Items, booking.FeeCurrency)
	if err := tx.WithContext(ctx).Model(&booking).
		Update("TotalDeliveryFee", newTotal).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return item, nil
}

func GetParcelBooking(ctx context.Context, id int) (*ParcelBooking, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ParcelBooking](ctx, businessId, id, "Items", "Sender")
}

const defaultBookingPageSize = 50

// paginateBookings trims an over-fetched page (limit+1 rows) down to the
// page and derives its cursors.
func paginateBookings(bookings []ParcelBooking, limit int) ([]ParcelBooking, *PageInfo) {
	pageInfo := &PageInfo{HasNextPage: utils.NewFalse()}
	if len(bookings) > limit {
		bookings = bookings[:limit]
		pageInfo.HasNextPage = utils.NewTrue()
	}
	if len(bookings) > 0 {
		pageInfo.StartCursor = EncodeCursor(strconv.Itoa(bookings[0].ID))
		pageInfo.EndCursor = EncodeCursor(strconv.Itoa(bookings[len(bookings)-1].ID))
	}
	return bookings, pageInfo
}

// GetParcelBookings lists bookings newest first, cursor-paged. The cursor is
// opaque to callers and points at the last booking of the previous page.
func GetParcelBookings(ctx context.Context, senderId int, cursor *string, limit int) ([]ParcelBooking, *PageInfo, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = defaultBookingPageSize
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Items").
		Where("business_id = ?", businessId)
	if senderId > 0 {
		query = query.Where("sender_id = ?", senderId)
	}
	decoded, err := DecodeCursor(cursor)
	if err != nil {
		return nil, nil, utils.NewValidationError("cursor", "malformed cursor")
	}
	if decoded != "" {
		lastId, err := strconv.Atoi(decoded)
		if err != nil {
			return nil, nil, utils.NewValidationError("cursor", "malformed cursor")
		}
		query = query.Where("id < ?", lastId)
	}

	var bookings []ParcelBooking
	if err := query.Order("id desc").Limit(limit + 1).Find(&bookings).Error; err != nil {
		return nil, nil, err
	}
	bookings, pageInfo := paginateBookings(bookings, limit)
	return bookings, pageInfo, nil
}
