package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AdminUser is an administrative API principal. Admin users never
// authenticate over RADIUS; they log in to the HTTP API with a password
// and an optional TOTP second factor.
type AdminUser struct {
	ID         uint   `gorm:"column:id;primaryKey" json:"id"`
	Username   string `gorm:"column:username;size:64;uniqueIndex;not null" json:"username"`
	Password   string `gorm:"column:password;size:255;not null" json:"-"`
	TOTPSecret string `gorm:"column:totp_secret;size:64" json:"-"`
	HasTOTP    bool   `gorm:"-" json:"has_totp"`

	IsActive  bool       `gorm:"column:is_active;default:true" json:"is_active"`
	LastLogin *time.Time `gorm:"column:last_login" json:"last_login"`
	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (AdminUser) TableName() string {
	return "admin_users"
}

// SetPassword hashes and stores the admin password.
func (u *AdminUser) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *AdminUser) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain)) == nil
}
