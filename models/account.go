package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
	"gorm.io/gorm"
)

type Account struct {
	ID                int               `gorm:"primary_key" json:"id"`
	BusinessId        string            `gorm:"index;not null" json:"business_id"`
	MainType          AccountMainType   `gorm:"type:enum('Asset','Liability','Equity','Income','Expense');default:'Expense';index;size:10;not null" json:"mainType" binding:"required"`
	DetailType        AccountDetailType `gorm:"type:enum('Cash','Bank','OtherCurrentAsset','AccountsReceivable','OtherCurrentLiability','Income','Expense');default:'Expense';index;size:50;not null" json:"detailType" binding:"required"`
	Name              string            `gorm:"index;size:100;not null" json:"name" binding:"required"`
	AccountNumber     string            `gorm:"index;size:100" json:"account_number"`
	Currency          Currency          `gorm:"type:enum('USD','KHR');default:'USD';size:3;not null" json:"currency"`
	Description       string            `gorm:"type:text" json:"description"`
	IsActive          *bool             `gorm:"not null;default:true" json:"is_active"`
	IsSystemDefault   *bool             `gorm:"not null;default:false" json:"is_system_default"`
	SystemDefaultCode string            `gorm:"index;size:3" json:"system_default_code"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	MainType      AccountMainType   `json:"mainType" binding:"required"`
	DetailType    AccountDetailType `json:"detailType" binding:"required"`
	Name          string            `json:"name" binding:"required"`
	AccountNumber string            `json:"account_number"`
	Currency      Currency          `json:"currency"`
	Description   string            `json:"description"`
}

func (a Account) GetBusinessId() string { return a.BusinessId }

// validate input for both create & update. (id = 0 for create)
func (input *NewAccount) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Account](ctx, businessId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Account](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Currency != "" && !input.Currency.IsValid() {
		return utils.NewValidationError("currency", "unknown currency")
	}
	return nil
}

func CreateAccount(ctx context.Context, input *NewAccount) (*Account, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	account := Account{
		BusinessId:      businessId,
		MainType:        input.MainType,
		DetailType:      input.DetailType,
		Name:            input.Name,
		AccountNumber:   input.AccountNumber,
		Currency:        input.Currency,
		Description:     input.Description,
		IsActive:        utils.NewTrue(),
		IsSystemDefault: utils.NewFalse(),
	}
	if account.Currency == "" {
		account.Currency = CurrencyUSD
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func UpdateAccount(ctx context.Context, id int, input *NewAccount) (*Account, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	account, err := utils.FetchModel[Account](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if input.Currency != "" && input.Currency != account.Currency {
		var count int64
		if err := db.WithContext(ctx).Model(&AccountTransaction{}).Where("account_id = ?", account.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.New("not allowed to change account currency when account transactions exist")
		}
	}

	updates := map[string]interface{}{
		"Name":        input.Name,
		"Description": input.Description,
	}
	if !*account.IsSystemDefault {
		updates["AccountNumber"] = input.AccountNumber
		updates["MainType"] = input.MainType
		updates["DetailType"] = input.DetailType
		if input.Currency != "" {
			updates["Currency"] = input.Currency
		}
	}

	if err := db.WithContext(ctx).Model(&account).Updates(updates).Error; err != nil {
		return nil, err
	}
	return account, nil
}

func DeleteAccount(ctx context.Context, id int) (*Account, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()

	result, err := utils.FetchModel[Account](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	if result.IsSystemDefault != nil && *result.IsSystemDefault {
		return nil, errors.New("cannot delete system-default account")
	}

	var count int64
	if err := db.WithContext(ctx).Model(&AccountTransaction{}).
		Where("account_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("this account has transactions")
	}

	if err := db.WithContext(ctx).Delete(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func GetAccount(ctx context.Context, id int) (*Account, error) {
	return GetResource[Account](ctx, id)
}

func GetAccounts(ctx context.Context, name *string) ([]*Account, error) {

	db := config.GetDB()
	var results []*Account

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetSystemAccounts maps system default codes to account ids, cached in redis.
func GetSystemAccounts(businessId string) (map[string]int, error) {
	var sysAccounts map[string]int

	exists, err := config.GetRedisObject("SystemAccounts:"+businessId, &sysAccounts)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		var accounts []*Account
		if err := db.Select("id", "system_default_code").
			Where("business_id = ?", businessId).
			Where("is_system_default = ?", true).
			Find(&accounts).Error; err != nil {
			return nil, err
		}
		sysAccounts = make(map[string]int)
		for _, acc := range accounts {
			sysAccounts[acc.SystemDefaultCode] = acc.ID
		}
		if err := config.SetRedisObject("SystemAccounts:"+businessId, &sysAccounts, 0); err != nil {
			return nil, err
		}
	}
	return sysAccounts, nil
}

// seedSystemAccounts creates the system-default chart for a new business.
func seedSystemAccounts(ctx context.Context, tx *gorm.DB, businessId string) error {
	seeds := []Account{
		{Name: "Cash on Hand", MainType: AccountMainTypeAsset, DetailType: AccountDetailTypeCash, SystemDefaultCode: AccountCodeCashOnHand},
		{Name: "Driver COD Holding", MainType: AccountMainTypeAsset, DetailType: AccountDetailTypeAccountsReceivable, SystemDefaultCode: AccountCodeDriverCodHolding},
		{Name: "Customer COD Payable", MainType: AccountMainTypeLiability, DetailType: AccountDetailTypeOtherCurrentLiability, SystemDefaultCode: AccountCodeCustomerPayable},
		{Name: "Delivery Income", MainType: AccountMainTypeIncome, DetailType: AccountDetailTypeIncome, SystemDefaultCode: AccountCodeDeliveryIncome},
		{Name: "Taxi Delivery Expense", MainType: AccountMainTypeExpense, DetailType: AccountDetailTypeExpense, SystemDefaultCode: AccountCodeTaxiExpense},
		{Name: "Driver Commission Expense", MainType: AccountMainTypeExpense, DetailType: AccountDetailTypeExpense, SystemDefaultCode: AccountCodeCommissionExpense},
		{Name: "Wallet Adjustment", MainType: AccountMainTypeLiability, DetailType: AccountDetailTypeOtherCurrentLiability, SystemDefaultCode: AccountCodeWalletAdjustment},
	}
	for i := range seeds {
		seeds[i].BusinessId = businessId
		seeds[i].Currency = CurrencyUSD
		seeds[i].IsActive = utils.NewTrue()
		seeds[i].IsSystemDefault = utils.NewTrue()
	}
	if err := tx.WithContext(ctx).Create(&seeds).Error; err != nil {
		return err
	}
	return config.DeleteRedisObject("SystemAccounts:" + businessId)
}
