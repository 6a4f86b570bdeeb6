package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountJournal is a posted, immutable double-entry record. Journals are
// never deleted or edited; a wrong posting is corrected with a new journal.
type AccountJournal struct {
	ID                  int                  `gorm:"primary_key" json:"id"`
	BusinessId          string               `gorm:"index;not null;index:idx_aj_biz_ref,priority:1" json:"business_id"`
	TransactionDateTime time.Time            `gorm:"index;not null" json:"transaction_date_time"`
	TransactionNumber   string               `gorm:"size:100" json:"transaction_number"`
	TransactionDetails  string               `gorm:"type:text" json:"transaction_details"`
	ReferenceId         int                  `gorm:"index:idx_aj_biz_ref,priority:3" json:"reference_id"`
	ReferenceType       AccountReferenceType `gorm:"type:enum('WT','JN');size:3;index:idx_aj_biz_ref,priority:2" json:"reference_type"`
	AccountTransactions []AccountTransaction `gorm:"foreignKey:JournalId" json:"account_transactions"`
	CreatedAt           time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// AccountTransaction is one journal line. Debit and Credit are in the line's
// own currency; BaseDebit and BaseCredit are the USD expression at the
// journal's exchange rate.
type AccountTransaction struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	BusinessId          string          `gorm:"index;not null" json:"business_id"`
	JournalId           int             `gorm:"index;not null" json:"journal_id"`
	AccountId           int             `gorm:"index;not null" json:"account_id"`
	TransactionDateTime time.Time       `gorm:"index;not null" json:"transaction_date_time"`
	Description         string          `gorm:"size:255" json:"description"`
	Currency            Currency        `gorm:"type:enum('USD','KHR');size:3;not null" json:"currency"`
	Debit               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
	BaseDebit           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_debit"`
	BaseCredit          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_credit"`
	ExchangeRate        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"exchange_rate"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (journal AccountJournal) GetBusinessId() string { return journal.BusinessId }

// postJournal writes the previewed lines as a posted journal inside the
// caller's transaction. The caller must have verified the preview carries no
// configuration errors.
func postJournal(ctx context.Context, tx *gorm.DB, businessId string, preview *JournalPreview, referenceId int, at time.Time) (*AccountJournal, error) {
	if preview.HasConfigErrors() {
		return nil, utils.NewConfigurationError(preview.ConfigErrors()...)
	}
	if !preview.IsBalanced() {
		return nil, utils.NewConsistencyError("journal lines do not balance")
	}

	journal := AccountJournal{
		BusinessId:          businessId,
		TransactionDateTime: at,
		TransactionNumber:   fmt.Sprintf("JN-WT-%d", referenceId),
		TransactionDetails:  preview.Details,
		ReferenceId:         referenceId,
		ReferenceType:       AccountReferenceTypeWalletTransaction,
	}
	for _, line := range preview.Lines {
		journal.AccountTransactions = append(journal.AccountTransactions, AccountTransaction{
			BusinessId:          businessId,
			AccountId:           line.AccountId,
			TransactionDateTime: at,
			Description:         line.Description,
			Currency:            line.Currency,
			Debit:               line.Debit,
			Credit:              line.Credit,
			BaseDebit:           line.BaseDebit,
			BaseCredit:          line.BaseCredit,
			ExchangeRate:        preview.ExchangeRate,
		})
	}
	if err := tx.WithContext(ctx).Create(&journal).Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

// GetJournalForTransaction returns the posted journal of an approved wallet
// transaction, if any. The journal is keyed on the batch's master, so the
// lookup resolves through the batch and works for any sub id.
func GetJournalForTransaction(ctx context.Context, walletTransactionId int) (*AccountJournal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	root, err := utils.FetchModel[WalletTransaction](ctx, businessId, walletTransactionId)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	batch, err := getTransactionBatch(ctx, db, businessId, root)
	if err != nil {
		return nil, err
	}
	referenceIds := make([]int, 0, len(batch))
	for i := range batch {
		referenceIds = append(referenceIds, batch[i].ID)
	}

	var journal AccountJournal
	err = db.WithContext(ctx).Preload("AccountTransactions").
		Where("business_id = ? AND reference_type = ? AND reference_id IN ?",
			businessId, AccountReferenceTypeWalletTransaction, referenceIds).
		First(&journal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &journal, nil
}
