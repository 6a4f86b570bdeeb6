package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"gorm.io/gorm"
)

// WalletEventRecord is the transactional outbox row for wallet notifications.
// It is written in the same commit as the financial change and published
// after commit by the dispatcher. Publishing is at-least-once; consumers must
// be idempotent, and the consumer never mutates financial state.
type WalletEventRecord struct {
	ID                  int                  `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId          string               `gorm:"size:64;not null;index" json:"business_id"`
	TransactionDateTime time.Time            `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                  `json:"reference_id"`
	ReferenceType       AccountReferenceType `gorm:"type:enum('WT','JN');size:3" json:"reference_type"`
	Action              PubSubMessageAction  `gorm:"type:enum('C','U','D')" json:"action"`
	OldObj              []byte               `gorm:"type:blob" json:"old_obj"`
	NewObj              []byte               `gorm:"type:blob" json:"new_obj"`

	PublishStatus   string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt     *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt   *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt        *time.Time `gorm:"index" json:"locked_at"`
	LockedBy        *string    `gorm:"size:100" json:"locked_by"`
	LastError       *string    `gorm:"type:text" json:"last_error"`
	CorrelationId   string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConvertToPubSubMessage maps an outbox row to the published wire message.
func ConvertToPubSubMessage(record WalletEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  record.ID,
		BusinessId:          record.BusinessId,
		TransactionDateTime: record.TransactionDateTime,
		ReferenceId:         record.ReferenceId,
		ReferenceType:       string(record.ReferenceType),
		Action:              string(record.Action),
		OldObj:              record.OldObj,
		NewObj:              record.NewObj,
		CorrelationId:       record.CorrelationId,
	}
}

// enqueueWalletEvent writes an outbox row inside the caller's transaction.
func enqueueWalletEvent(ctx context.Context, tx *gorm.DB, businessId string, referenceId int, action PubSubMessageAction, oldObj, newObj interface{}, correlationId string) error {
	record := WalletEventRecord{
		BusinessId:          businessId,
		TransactionDateTime: time.Now().UTC(),
		ReferenceId:         referenceId,
		ReferenceType:       AccountReferenceTypeWalletTransaction,
		Action:              action,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       correlationId,
	}
	if oldObj != nil {
		data, err := json.Marshal(oldObj)
		if err != nil {
			return err
		}
		record.OldObj = data
	}
	if newObj != nil {
		data, err := json.Marshal(newObj)
		if err != nil {
			return err
		}
		record.NewObj = data
	}
	return tx.WithContext(ctx).Create(&record).Error
}

// RequeueDeadWalletEvents puts DEAD rows back to PENDING for a manual replay.
func RequeueDeadWalletEvents(ctx context.Context, db *gorm.DB, businessId string) (int64, error) {
	result := db.WithContext(ctx).Model(&WalletEventRecord{}).
		Where("business_id = ? AND publish_status = ?", businessId, OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"PublishStatus":   OutboxPublishStatusPending,
			"PublishAttempts": 0,
			"NextAttemptAt":   nil,
			"LastError":       nil,
		})
	return result.RowsAffected, result.Error
}
