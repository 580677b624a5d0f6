package models

import (
	"crypto/subtle"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CleartextPrefix marks a password_hash that stores the password in the
// clear instead of a bcrypt digest. Used for NAS gear that cannot do PAP
// against hashed stores during migration.
const CleartextPrefix = "ctp:"

// User status labels, first matching wins: Disabled > Expired > OverQuota > OK.
const (
	UserStatusOK        = "ok"
	UserStatusDisabled  = "disabled"
	UserStatusExpired   = "expired"
	UserStatusOverQuota = "over_quota"
)

// RadiusUser represents a VPN user authenticated over RADIUS.
type RadiusUser struct {
	ID           uint   `gorm:"column:id;primaryKey" json:"id"`
	Username     string `gorm:"column:username;size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"column:password_hash;size:128" json:"-"`

	MaxConcurrentSessions int        `gorm:"column:max_concurrent_sessions;default:1" json:"max_concurrent_sessions"`
	ExpirationDate        *time.Time `gorm:"column:expiration_date" json:"expiration_date"`
	IsActive              bool       `gorm:"column:is_active;default:true" json:"is_active"`

	// Traffic accounting (bytes). total_traffic is always rx + tx.
	RxTraffic      int64  `gorm:"column:rx_traffic;default:0" json:"rx_traffic"`
	TxTraffic      int64  `gorm:"column:tx_traffic;default:0" json:"tx_traffic"`
	TotalTraffic   int64  `gorm:"column:total_traffic;default:0" json:"total_traffic"`
	AllowedTraffic *int64 `gorm:"column:allowed_traffic" json:"allowed_traffic"` // NULL for unlimited

	// Denormalized session counts, refreshed together at the end of every
	// session buffer flush. Never written in isolation.
	CurrentSessions   int `gorm:"column:current_sessions;default:0" json:"current_sessions"`
	RemainingSessions int `gorm:"column:remaining_sessions;default:1" json:"remaining_sessions"`

	Notes     string    `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (RadiusUser) TableName() string {
	return "radius_users"
}

// SetPassword hashes and stores the password using bcrypt, or stores it
// in the clear with the ctp: prefix when cleartext is requested.
func (u *RadiusUser) SetPassword(plain string, cleartext bool) error {
	if cleartext {
		u.PasswordHash = CleartextPrefix + plain
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
// Both branches are constant-time against the stored value.
func (u *RadiusUser) CheckPassword(plain string) bool {
	if u.PasswordHash == "" {
		return false
	}
	if strings.HasPrefix(u.PasswordHash, CleartextPrefix) {
		stored := u.PasswordHash[len(CleartextPrefix):]
		return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}

// IsExpired reports whether the account's expiration date has passed.
func (u *RadiusUser) IsExpired() bool {
	if u.ExpirationDate == nil {
		return false
	}
	return time.Now().UTC().After(*u.ExpirationDate)
}

// IsOverQuota reports whether the user has consumed its traffic allowance.
func (u *RadiusUser) IsOverQuota() bool {
	return u.AllowedTraffic != nil && u.TotalTraffic >= *u.AllowedTraffic
}

// CanAuthenticate checks account predicates in order and returns the
// first failing reason. The reason strings are sent verbatim in the
// Access-Reject Reply-Message.
func (u *RadiusUser) CanAuthenticate() (bool, string) {
	if !u.IsActive {
		return false, "Account is disabled"
	}
	if u.IsExpired() {
		return false, "Account has expired"
	}
	if u.IsOverQuota() {
		return false, "Traffic limit reached"
	}
	return true, "OK"
}

// StatusLabel returns the derived account status, first matching wins.
func (u *RadiusUser) StatusLabel() string {
	switch {
	case !u.IsActive:
		return UserStatusDisabled
	case u.IsExpired():
		return UserStatusExpired
	case u.IsOverQuota():
		return UserStatusOverQuota
	default:
		return UserStatusOK
	}
}
