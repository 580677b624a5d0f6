package models

import (
	"time"
)

// NASClient represents a trusted RADIUS peer (typically a VPN concentrator).
// Requests from unknown sources are dropped without a reply.
type NASClient struct {
	ID           uint   `gorm:"column:id;primaryKey" json:"id"`
	Identifier   string `gorm:"column:identifier;size:64;not null;index;uniqueIndex:idx_nas_identifier_ip" json:"identifier"`
	IPAddress    string `gorm:"column:ip_address;size:45;not null;index;uniqueIndex:idx_nas_identifier_ip" json:"ip_address"`
	SharedSecret string `gorm:"column:shared_secret;size:128;not null" json:"-"` // Hidden from API responses
	HasSecret    bool   `gorm:"-" json:"has_secret"`                             // Computed field to indicate if secret is set

	AuthPort int `gorm:"column:auth_port;default:1812" json:"auth_port"`
	AcctPort int `gorm:"column:acct_port;default:1813" json:"acct_port"`

	IsActive    bool   `gorm:"column:is_active;default:true" json:"is_active"`
	Description string `gorm:"column:description;type:text" json:"description"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (NASClient) TableName() string {
	return "radius_nas_clients"
}

// SecretBytes returns the shared secret as bytes for RADIUS operations.
func (n *NASClient) SecretBytes() []byte {
	return []byte(n.SharedSecret)
}
