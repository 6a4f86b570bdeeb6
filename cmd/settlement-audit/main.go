// Command settlement-audit scans a business for settlement-state
// inconsistencies: settled parcel items with no approving transaction,
// parcel items claimed by more than one approved settlement, approved
// settlements with no posted journal, and posted journals whose lines do
// not balance per currency. It reads only and exits non-zero when it
// finds anything.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type auditFinding struct {
	Check   string
	Subject string
	Detail  string
}

func main() {
	businessId := flag.String("business", "", "business id to audit (required)")
	flag.Parse()
	if *businessId == "" {
		fmt.Fprintln(os.Stderr, "usage: settlement-audit -business <business_id>")
		os.Exit(2)
	}

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	var findings []auditFinding
	checks := []func(*gorm.DB, string) ([]auditFinding, error){
		checkOrphanSettledItems,
		checkDoubleSettledItems,
		checkMissingJournals,
		checkUnbalancedJournals,
	}
	for _, check := range checks {
		found, err := check(db, *businessId)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":       "settlement-audit",
				"business_id": *businessId,
			}).Fatal("audit check failed: " + err.Error())
		}
		findings = append(findings, found...)
	}

	if len(findings) == 0 {
		logger.WithFields(logrus.Fields{
			"field":       "settlement-audit",
			"business_id": *businessId,
		}).Info("audit clean")
		return
	}
	for _, f := range findings {
		logger.WithFields(logrus.Fields{
			"field":       "settlement-audit",
			"business_id": *businessId,
			"check":       f.Check,
			"subject":     f.Subject,
		}).Error(f.Detail)
	}
	os.Exit(1)
}

// checkOrphanSettledItems finds parcel items marked SETTLED that no
// approved discharging transaction references.
func checkOrphanSettledItems(db *gorm.DB, businessId string) ([]auditFinding, error) {
	var itemIds []int
	err := db.Model(&models.ParcelItem{}).
		Where("business_id = ? AND settlement_status = ?", businessId, models.SettlementStatusSettled).
		Where(`id NOT IN (
			SELECT wti.parcel_item_id
			FROM wallet_transaction_items wti
			JOIN wallet_transactions wt ON wt.id = wti.wallet_transaction_id
			WHERE wt.business_id = ? AND wt.status = ?)`,
			businessId, models.WalletTransactionStatusApproved).
		Pluck("id", &itemIds).Error
	if err != nil {
		return nil, err
	}
	var findings []auditFinding
	for _, id := range itemIds {
		findings = append(findings, auditFinding{
			Check:   "orphan_settled_item",
			Subject: fmt.Sprintf("parcel_item:%d", id),
			Detail:  "item is SETTLED but no approved transaction references it",
		})
	}
	return findings, nil
}

// checkDoubleSettledItems finds parcel items referenced by more than one
// approved transaction batch.
func checkDoubleSettledItems(db *gorm.DB, businessId string) ([]auditFinding, error) {
	type row struct {
		ParcelItemId int
		Batches      int
	}
	var rows []row
	err := db.Raw(`
		SELECT wti.parcel_item_id AS parcel_item_id, COUNT(DISTINCT wt.batch_id) AS batches
		FROM wallet_transaction_items wti
		JOIN wallet_transactions wt ON wt.id = wti.wallet_transaction_id
		WHERE wt.business_id = ? AND wt.status = ?
		GROUP BY wti.parcel_item_id
		HAVING COUNT(DISTINCT wt.batch_id) > 1`,
		businessId, models.WalletTransactionStatusApproved).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	var findings []auditFinding
	for _, r := range rows {
		findings = append(findings, auditFinding{
			Check:   "double_settled_item",
			Subject: fmt.Sprintf("parcel_item:%d", r.ParcelItemId),
			Detail:  fmt.Sprintf("item is claimed by %d approved batches", r.Batches),
		})
	}
	return findings, nil
}

// checkMissingJournals finds approved batches with no posted journal. Every
// approval posts one journal per batch, keyed on the batch's master, so the
// check walks batches rather than individual sub-transactions. Manual
// transactions carry no batch and are keyed on their own id.
func checkMissingJournals(db *gorm.DB, businessId string) ([]auditFinding, error) {
	var batchIds []string
	err := db.Raw(`
		SELECT DISTINCT wt.batch_id
		FROM wallet_transactions wt
		WHERE wt.business_id = ? AND wt.status = ? AND wt.batch_id <> ''
		  AND wt.type <> ?
		  AND wt.batch_id NOT IN (
			SELECT wt2.batch_id
			FROM wallet_transactions wt2
			JOIN account_journals aj
			  ON aj.business_id = wt2.business_id
			 AND aj.reference_type = ?
			 AND aj.reference_id = wt2.id
			WHERE wt2.business_id = ? AND wt2.batch_id <> '')`,
		businessId, models.WalletTransactionStatusApproved,
		models.WalletTransactionTypeEarning,
		models.AccountReferenceTypeWalletTransaction, businessId).
		Scan(&batchIds).Error
	if err != nil {
		return nil, err
	}
	var findings []auditFinding
	for _, id := range batchIds {
		findings = append(findings, auditFinding{
			Check:   "missing_journal",
			Subject: fmt.Sprintf("batch:%s", id),
			Detail:  "approved settlement batch has no posted journal",
		})
	}

	var txIds []int
	err = db.Model(&models.WalletTransaction{}).
		Where("business_id = ? AND status = ? AND batch_id = ''", businessId, models.WalletTransactionStatusApproved).
		Where("type <> ?", models.WalletTransactionTypeEarning).
		Where(`id NOT IN (
			SELECT aj.reference_id FROM account_journals aj
			WHERE aj.business_id = ? AND aj.reference_type = ?)`,
			businessId, models.AccountReferenceTypeWalletTransaction).
		Pluck("id", &txIds).Error
	if err != nil {
		return nil, err
	}
	for _, id := range txIds {
		findings = append(findings, auditFinding{
			Check:   "missing_journal",
			Subject: fmt.Sprintf("wallet_transaction:%d", id),
			Detail:  "approved transaction has no posted journal",
		})
	}
	return findings, nil
}

// checkUnbalancedJournals recomputes each posted journal's per-currency
// totals.
func checkUnbalancedJournals(db *gorm.DB, businessId string) ([]auditFinding, error) {
	type row struct {
		JournalId int
		Currency  models.Currency
		Debit     decimal.Decimal
		Credit    decimal.Decimal
	}
	var rows []row
	err := db.Raw(`
		SELECT journal_id, currency, SUM(debit) AS debit, SUM(credit) AS credit
		FROM account_transactions
		WHERE business_id = ?
		GROUP BY journal_id, currency`,
		businessId).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	var findings []auditFinding
	for _, r := range rows {
		if r.Debit.Equal(r.Credit) {
			continue
		}
		findings = append(findings, auditFinding{
			Check:   "unbalanced_journal",
			Subject: fmt.Sprintf("account_journal:%d", r.JournalId),
			Detail: fmt.Sprintf("journal is out of balance in %s: debit %s, credit %s",
				r.Currency, r.Debit.String(), r.Credit.String()),
		})
	}
	return findings, nil
}
