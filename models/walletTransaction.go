package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletTransaction is a single-currency financial record. A settlement that
// spans channels or currencies is a batch of these sharing one BatchId, and
// per currency exactly one of them is the master that carries the discharged
// items. Approved records are immutable.
type WalletTransaction struct {
	ID                  int                     `gorm:"primary_key" json:"id"`
	BusinessId          string                  `gorm:"index;not null;index:idx_wt_biz_number,priority:1,unique" json:"business_id"`
	TransactionNumber   string                  `gorm:"size:100;not null;index:idx_wt_biz_number,priority:2,unique" json:"transaction_number"`
	SequenceNo          int                     `json:"sequence_no"`
	BatchId             string                  `gorm:"size:64;index" json:"batch_id"`
	Type                WalletTransactionType   `gorm:"type:enum('DEPOSIT','WITHDRAWAL','SETTLEMENT','EARNING','REFUND','TAXI_FEE');size:15;not null;index" json:"type"`
	Status              WalletTransactionStatus `gorm:"type:enum('PENDING','APPROVED','REJECTED');default:'PENDING';size:10;not null;index" json:"status"`
	Role                WalletRole              `gorm:"type:enum('DRIVER','CUSTOMER');size:10;not null" json:"role"`
	DriverId            int                     `gorm:"index" json:"driver_id"`
	CustomerId          int                     `gorm:"index" json:"customer_id"`
	Channel             PaymentChannel          `gorm:"type:enum('BANK','CASH');default:'CASH';size:5" json:"channel"`
	Currency            Currency                `gorm:"type:enum('USD','KHR');size:3;not null" json:"currency"`
	Amount              decimal.Decimal         `gorm:"type:decimal(20,4);default:0" json:"amount"`
	ExchangeRate        decimal.Decimal         `gorm:"type:decimal(20,4);default:0" json:"exchange_rate"`
	IsMaster            *bool                   `gorm:"not null;default:false" json:"is_master"`
	AccountId           int                     `gorm:"index" json:"account_id"`
	ProofURL            string                  `gorm:"size:500" json:"proof_url"`
	Notes               string                  `gorm:"size:500" json:"notes"`
	TransactionDateTime time.Time               `gorm:"index;not null" json:"transaction_date_time"`
	ApprovedAt          *time.Time              `json:"approved_at"`
	ApprovedBy          string                  `gorm:"size:100" json:"approved_by"`
	RejectedReason      string                  `gorm:"size:500" json:"rejected_reason"`
	Items               []WalletTransactionItem `gorm:"foreignKey:WalletTransactionId" json:"items"`
	CreatedAt           time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

// WalletTransactionItem ties a discharged parcel item to the transaction that
// owns it.
type WalletTransactionItem struct {
	ID                  int    `gorm:"primary_key" json:"id"`
	BusinessId          string `gorm:"index;not null" json:"business_id"`
	WalletTransactionId int    `gorm:"index;not null;index:idx_wti_tx_item,priority:1,unique" json:"wallet_transaction_id"`
	BookingId           int    `gorm:"index" json:"booking_id"`
	ParcelItemId        int    `gorm:"index;not null;index:idx_wti_tx_item,priority:2,unique" json:"parcel_item_id"`
}

func (tx WalletTransaction) GetBusinessId() string { return tx.BusinessId }

// isDuplicateKeyErr reports a MySQL unique index violation (error 1062).
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// settlementTransactionNumber is deterministic over driver, currency, channel
// and a ten-minute submission bucket, so a retried submit collides on the
// unique index instead of creating a second settlement.
func settlementTransactionNumber(driverId int, currency Currency, channel PaymentChannel, at time.Time) string {
	bucket := at.UTC().Truncate(10 * time.Minute).Format("200601021504")
	return fmt.Sprintf("ST-%d-%s-%s-%s", driverId, currency, channel, bucket)
}

func taxiTransactionNumber(driverId int, currency Currency, at time.Time) string {
	bucket := at.UTC().Truncate(10 * time.Minute).Format("200601021504")
	return fmt.Sprintf("TX-%d-%s-%s", driverId, currency, bucket)
}

// createEarningTransaction writes an APPROVED commission earning inside the
// caller's transaction. Earnings need no separate approval step; the delivery
// that triggers them is itself the authorized event.
func createEarningTransaction(ctx context.Context, tx *gorm.DB, businessId string, driverId int, item *ParcelItem, event CommissionEventType, amount decimal.Decimal, at time.Time) error {
	now := at.UTC()
	record := WalletTransaction{
		BusinessId:          businessId,
		TransactionNumber:   fmt.Sprintf("EA-%d-%d-%s", driverId, item.ID, event),
		Type:                WalletTransactionTypeEarning,
		Status:              WalletTransactionStatusApproved,
		Role:                WalletRoleDriver,
		DriverId:            driverId,
		Currency:            item.CodCurrency,
		Amount:              amount,
		IsMaster:            utils.NewFalse(),
		Notes:               fmt.Sprintf("%s commission for item #%d", event, item.ID),
		TransactionDateTime: now,
		ApprovedAt:          &now,
		Items: []WalletTransactionItem{{
			BusinessId:   businessId,
			BookingId:    item.BookingId,
			ParcelItemId: item.ID,
		}},
	}
	err := tx.WithContext(ctx).Create(&record).Error
	if isDuplicateKeyErr(err) {
		// delivery retried; the earning is already recorded
		return nil
	}
	return err
}

type NewManualWalletTransaction struct {
	Type       WalletTransactionType `json:"type" binding:"required"`
	Role       WalletRole            `json:"role" binding:"required"`
	DriverId   int                   `json:"driver_id"`
	CustomerId int                   `json:"customer_id"`
	Channel    PaymentChannel        `json:"channel"`
	Currency   Currency              `json:"currency" binding:"required"`
	Amount     decimal.Decimal       `json:"amount" binding:"required"`
	Notes      string                `json:"notes"`
}

// CreateManualWalletTransaction records a deposit, withdrawal or refund
// outside the settlement flow. It is created PENDING and approved separately.
func CreateManualWalletTransaction(ctx context.Context, input NewManualWalletTransaction) (*WalletTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	switch input.Type {
	case WalletTransactionTypeDeposit, WalletTransactionTypeWithdrawal, WalletTransactionTypeRefund:
	default:
		return nil, utils.NewValidationError("type", "only DEPOSIT, WITHDRAWAL and REFUND can be created manually")
	}
	if !input.Currency.IsValid() {
		return nil, utils.NewValidationError("currency", "unknown currency")
	}
	if !input.Amount.IsPositive() {
		return nil, utils.NewValidationError("amount", "must be positive")
	}
	if input.Role == WalletRoleDriver && input.DriverId == 0 {
		return nil, utils.NewValidationError("driver_id", "required for a driver transaction")
	}
	if input.Role == WalletRoleCustomer && input.CustomerId == 0 {
		return nil, utils.NewValidationError("customer_id", "required for a customer transaction")
	}
	channel := input.Channel
	if channel == "" {
		channel = PaymentChannelCash
	}

	seq, err := utils.GetSequence[WalletTransaction](ctx, businessId)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	record := WalletTransaction{
		BusinessId:          businessId,
		TransactionNumber:   fmt.Sprintf("WT-%06d", seq),
		SequenceNo:          int(seq),
		Type:                input.Type,
		Status:              WalletTransactionStatusPending,
		Role:                input.Role,
		DriverId:            input.DriverId,
		CustomerId:          input.CustomerId,
		Channel:             channel,
		Currency:            input.Currency,
		Amount:              input.Amount,
		IsMaster:            utils.NewFalse(),
		Notes:               input.Notes,
		TransactionDateTime: now,
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := enqueueWalletEvent(ctx, tx, businessId, record.ID, PubSubMessageActionCreate, nil, &record, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func GetWalletTransaction(ctx context.Context, id int) (*WalletTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[WalletTransaction](ctx, businessId, id, "Items")
}

// getTransactionBatch loads every transaction the approval covers: the whole
// batch for a settlement, just the one record otherwise.
func getTransactionBatch(ctx context.Context, db *gorm.DB, businessId string, root *WalletTransaction) ([]WalletTransaction, error) {
	if root.BatchId == "" {
		return []WalletTransaction{*root}, nil
	}
	var batch []WalletTransaction
	err := db.WithContext(ctx).Preload("Items").
		Where("business_id = ? AND batch_id = ?", businessId, root.BatchId).
		Order("id").Find(&batch).Error
	return batch, err
}

// ApproveWalletTransaction finalizes a pending transaction and, for a
// settlement, its whole batch. In one database transaction it re-checks that
// every discharged item is still unsettled, marks them SETTLED, posts the
// journal built from the preview, and queues the notification. A preview
// with configuration errors blocks the approval.
func ApproveWalletTransaction(ctx context.Context, id int, note string) (*AccountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	root, err := utils.FetchModel[WalletTransaction](ctx, businessId, id, "Items")
	if err != nil {
		return nil, err
	}
	if root.Status != WalletTransactionStatusPending {
		return nil, utils.NewConsistencyError("transaction is not pending")
	}

	db := config.GetDB()
	batch, err := getTransactionBatch(ctx, db, businessId, root)
	if err != nil {
		return nil, err
	}
	for i := range batch {
		if batch[i].Status != WalletTransactionStatusPending {
			return nil, utils.NewConsistencyError("settlement batch contains a non-pending transaction")
		}
	}

	preview, err := buildPreviewForBatch(ctx, businessId, batch)
	if err != nil {
		return nil, err
	}
	if preview.HasConfigErrors() {
		return nil, utils.NewConfigurationError(preview.ConfigErrors()...)
	}

	now := time.Now().UTC()
	approvedBy, _ := utils.GetUsernameFromContext(ctx)

	tx := db.Begin()

	dischargedIds := dischargedItemIds(batch)
	if err := markItemsSettled(ctx, tx, businessId, dischargedIds); err != nil {
		tx.Rollback()
		return nil, err
	}

	for i := range batch {
		updates := map[string]interface{}{
			"Status":     WalletTransactionStatusApproved,
			"ApprovedAt": &now,
			"ApprovedBy": approvedBy,
		}
		if note != "" {
			updates["Notes"] = note
		}
		if err := tx.WithContext(ctx).Model(&batch[i]).Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	journal, err := postJournal(ctx, tx, businessId, preview, journalReferenceId(batch, root.ID), now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := enqueueWalletEvent(ctx, tx, businessId, root.ID, PubSubMessageActionUpdate, root, &batch, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return journal, nil
}

// journalReferenceId picks the transaction id the batch's journal is keyed
// on: the first master by id, so the key does not depend on which sub id the
// approval was invoked with. fallback covers batches without a master
// (manual deposits, withdrawals, refunds).
func journalReferenceId(batch []WalletTransaction, fallback int) int {
	ref := 0
	for i := range batch {
		if batch[i].IsMaster == nil || !*batch[i].IsMaster {
			continue
		}
		if ref == 0 || batch[i].ID < ref {
			ref = batch[i].ID
		}
	}
	if ref == 0 {
		return fallback
	}
	return ref
}

// dischargedItemIds collects the items whose settlement the batch finalizes:
// items on master settlement or deposit transactions, plus taxi-only items
// with no COD to clear. The same item may ride a settlement master and a
// taxi master (COD and advance in different currencies); the merge dedupes.
func dischargedItemIds(batch []WalletTransaction) []int {
	var ids []int
	for i := range batch {
		record := &batch[i]
		discharges := record.Type.DischargesItems() && record.IsMaster != nil && *record.IsMaster
		taxiOnly := record.Type == WalletTransactionTypeTaxiFee && record.IsMaster != nil && *record.IsMaster
		if !discharges && !taxiOnly {
			continue
		}
		recordIds := make([]int, 0, len(record.Items))
		for _, item := range record.Items {
			recordIds = append(recordIds, item.ParcelItemId)
		}
		ids = utils.MergeIntSlices(ids, recordIds)
	}
	return ids
}

// RejectWalletTransaction terminates a pending transaction (and its batch).
// Items stay UNSETTLED; there is nothing to undo.
func RejectWalletTransaction(ctx context.Context, id int, reason string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	root, err := utils.FetchModel[WalletTransaction](ctx, businessId, id)
	if err != nil {
		return err
	}
	if root.Status != WalletTransactionStatusPending {
		return utils.NewConsistencyError("transaction is not pending")
	}

	db := config.GetDB()
	batch, err := getTransactionBatch(ctx, db, businessId, root)
	if err != nil {
		return err
	}

	tx := db.Begin()
	for i := range batch {
		err := tx.WithContext(ctx).Model(&batch[i]).Updates(map[string]interface{}{
			"Status":         WalletTransactionStatusRejected,
			"RejectedReason": reason,
		}).Error
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := enqueueWalletEvent(ctx, tx, businessId, root.ID, PubSubMessageActionUpdate, root, &batch, correlationId); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// GetWalletTransactions lists a subject's transactions newest first.
func GetWalletTransactions(ctx context.Context, role WalletRole, subjectId int, since time.Time) ([]WalletTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Items").
		Where("business_id = ?", businessId)
	if role == WalletRoleDriver {
		query = query.Where("role = ? AND driver_id = ?", WalletRoleDriver, subjectId)
	} else {
		query = query.Where("role = ? AND customer_id = ?", WalletRoleCustomer, subjectId)
	}
	if !since.IsZero() {
		query = query.Where("transaction_date_time >= ?", since)
	}
	var records []WalletTransaction
	if err := query.Order("transaction_date_time desc, id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
