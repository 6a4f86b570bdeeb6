package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const walletNotificationHandler = "wallet_notification"

// Notifier delivers a human-facing message about a wallet change. Delivery
// transports (push, SMS, chat) plug in here; the default just logs.
type Notifier interface {
	Notify(ctx context.Context, businessId string, subject string, body string) error
}

type logNotifier struct {
	logger *logrus.Logger
}

func (n *logNotifier) Notify(ctx context.Context, businessId, subject, body string) error {
	n.logger.WithFields(logrus.Fields{
		"field":       "Notifier",
		"business_id": businessId,
		"subject":     subject,
	}).Info(body)
	return nil
}

func NewLogNotifier(logger *logrus.Logger) Notifier {
	return &logNotifier{logger: logger}
}

// HandleWalletEvent consumes one published wallet event. Pub/Sub delivers
// at least once, so the handler is guarded by an idempotency key and does
// nothing but read state and notify. It must never mutate wallet, item or
// journal records; financial writes happen only in the request path.
func HandleWalletEvent(ctx context.Context, db *gorm.DB, notifier Notifier, msg config.PubSubMessage) error {
	messageId := fmt.Sprintf("%d-%s", msg.ID, msg.Action)

	skip, err := BeginIdempotency(db, msg.BusinessId, walletNotificationHandler, messageId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if err := notifyWalletChange(ctx, db, notifier, msg); err != nil {
		_ = MarkIdempotencyFailed(db, msg.BusinessId, walletNotificationHandler, messageId, err)
		return err
	}
	return MarkIdempotencySucceeded(db, msg.BusinessId, walletNotificationHandler, messageId)
}

func notifyWalletChange(ctx context.Context, db *gorm.DB, notifier Notifier, msg config.PubSubMessage) error {
	if msg.ReferenceType != string(models.AccountReferenceTypeWalletTransaction) {
		return nil
	}

	var record models.WalletTransaction
	err := db.WithContext(ctx).
		Where("business_id = ?", msg.BusinessId).
		First(&record, msg.ReferenceId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// record vanished between publish and consume; nothing to tell anyone
		return nil
	}
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("wallet transaction %s", record.TransactionNumber)
	var body string
	switch record.Status {
	case models.WalletTransactionStatusApproved:
		body = fmt.Sprintf("%s of %s %s was approved", record.Type, record.Amount, record.Currency)
	case models.WalletTransactionStatusRejected:
		body = fmt.Sprintf("%s of %s %s was rejected: %s", record.Type, record.Amount, record.Currency, record.RejectedReason)
	default:
		body = fmt.Sprintf("%s of %s %s is pending approval", record.Type, record.Amount, record.Currency)
	}
	return notifier.Notify(ctx, msg.BusinessId, subject, body)
}
