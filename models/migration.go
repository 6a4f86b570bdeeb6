package models

import (
	"log"

	"github.com/dsadvance/parcel_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Account{}, &AccountJournal{}, &AccountTransaction{},
		&SettlementAccountSetting{}, &TransactionTypeAccountRule{},
		&CurrencyExchange{},
		&Driver{}, &Customer{},
		&ParcelBooking{}, &ParcelItem{},
		&CommissionRule{},
		&WalletTransaction{}, &WalletTransactionItem{},
		&WalletEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
