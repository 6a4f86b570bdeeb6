// Command seed-admin bootstraps a fresh deployment: it creates the first
// business (with its system chart of accounts) when none exists, then creates
// or resets the admin console user.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	REDIS_ADDRESS=... go run ./cmd/seed-admin -business "Parcel Express"
//
// The admin password defaults to a development value; set ADMIN_PASSWORD for
// anything that is not a local run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/dsadvance/parcel_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "parcelAdmin"
	adminName     = "Parcel Admin"

	defaultAdminPassword = "P@rcelAdmin1"
)

func main() {
	businessName := flag.String("business", "Parcel Express", "business name to create when no business exists")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var biz models.Business
	err := db.WithContext(ctx).Model(&models.Business{}).Select("id").First(&biz).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created, createErr := models.CreateBusiness(ctx, &models.NewBusiness{Name: *businessName})
		if createErr != nil {
			fmt.Fprintf(os.Stderr, "failed to create business: %v\n", createErr)
			os.Exit(1)
		}
		biz = *created
		fmt.Printf("Created business %q (id=%s) with its system accounts\n", created.Name, created.ID)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
		os.Exit(1)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = defaultAdminPassword
	}

	var existing models.User
	err = db.WithContext(ctx).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		if _, err := models.CreateUser(ctx, &models.NewUser{
			Username: adminUsername,
			Password: password,
			Name:     adminName,
			Role:     models.UserRoleAdmin,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q\n", adminUsername)
		return
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]interface{}{
		"password":    string(hashed),
		"name":        adminName,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = config.DeleteRedisObject("User:" + adminUsername)
	fmt.Printf("Updated admin user: username=%q\n", adminUsername)
}
