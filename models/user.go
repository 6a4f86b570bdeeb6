package models

import (
	"context"
	"errors"
	"time"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Username   string    `gorm:"uniqueIndex;size:100;not null" json:"username" binding:"required"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Name       string    `gorm:"size:255" json:"name"`
	Role       UserRole  `gorm:"type:enum('Admin','Operator','Driver','Customer');default:'Operator';size:20;not null" json:"role"`
	DriverId   int       `gorm:"index" json:"driver_id"`
	CustomerId int       `gorm:"index" json:"customer_id"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username   string   `json:"username" binding:"required"`
	Password   string   `json:"password" binding:"required,min=8"`
	Name       string   `json:"name"`
	Role       UserRole `json:"role"`
	DriverId   int      `json:"driver_id"`
	CustomerId int      `json:"customer_id"`
}

func (u User) GetBusinessId() string { return u.BusinessId }

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[User](ctx, "", "username", input.Username, 0); err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: businessId,
		Username:   input.Username,
		Password:   string(hashed),
		Name:       input.Name,
		Role:       input.Role,
		DriverId:   input.DriverId,
		CustomerId: input.CustomerId,
		IsActive:   utils.NewTrue(),
	}
	if user.Role == "" {
		user.Role = UserRoleOperator
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername is the session middleware's lookup; cached in redis.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := config.SetRedisObject("User:"+username, &user, 0); err != nil {
		return nil, err
	}
	return &user, nil
}

func VerifyUserPassword(ctx context.Context, username, password string) (*User, error) {
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is inactive")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, errors.New("invalid credentials")
	}
	return user, nil
}
