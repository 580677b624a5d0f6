package models

import (
	"gorm.io/gorm"
)

// AutoMigrate creates or updates all tables used by the RADIUS core and
// the admin API. Safe to run on every startup.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&NASClient{},
		&RadiusUser{},
		&RadiusSession{},
		&RadiusLog{},
		&StatsServerActiveSessions{},
		&StatsServerTotalTraffic{},
		&StatsUserActiveSessions{},
		&StatsUserTotalTraffic{},
		&AdminUser{},
	)
}
