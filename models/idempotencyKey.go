package models

import "time"

// IdempotencyKey guards at-least-once message handlers. One row per
// (handler, message); a handler that finds SUCCEEDED skips its work.
type IdempotencyKey struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"size:64;not null;index:uniq_idem,unique" json:"business_id"`
	HandlerName string    `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string    `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	Status      string    `gorm:"size:20;not null;index" json:"status"`
	LastError   *string   `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
