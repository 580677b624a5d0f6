package services

import (
	"time"

	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
)

const statsLogger = "stats"

// StatsService samples the live state into the four time-series tables.
// All four snapshots in one run share a single timestamp so the admin
// dashboard can join them.
type StatsService struct {
	db   *gorm.DB
	logs *logstore.Store
}

func NewStatsService(db *gorm.DB, logs *logstore.Store) *StatsService {
	return &StatsService{db: db, logs: logs}
}

// Sample records one snapshot of server-wide and per-user activity.
func (s *StatsService) Sample() error {
	now := time.Now().UTC()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.sampleServerSessions(tx, now); err != nil {
			return err
		}
		if err := s.sampleServerTraffic(tx, now); err != nil {
			return err
		}
		if err := s.sampleUserSessions(tx, now); err != nil {
			return err
		}
		return s.sampleUserTraffic(tx, now)
	})
}

func (s *StatsService) sampleServerSessions(tx *gorm.DB, now time.Time) error {
	var active int64
	if err := tx.Model(&models.RadiusSession{}).
		Where("status = ?", models.SessionStatusActive).
		Count(&active).Error; err != nil {
		return err
	}
	return tx.Create(&models.StatsServerActiveSessions{
		Timestamp:      now,
		ActiveSessions: int(active),
	}).Error
}

func (s *StatsService) sampleServerTraffic(tx *gorm.DB, now time.Time) error {
	var totals struct {
		Rx    int64
		Tx    int64
		Total int64
	}
	if err := tx.Model(&models.RadiusUser{}).
		Select("COALESCE(SUM(rx_traffic), 0) AS rx, COALESCE(SUM(tx_traffic), 0) AS tx, COALESCE(SUM(total_traffic), 0) AS total").
		Scan(&totals).Error; err != nil {
		return err
	}
	return tx.Create(&models.StatsServerTotalTraffic{
		Timestamp:    now,
		TotalRx:      totals.Rx,
		TotalTx:      totals.Tx,
		TotalTraffic: totals.Total,
	}).Error
}

// sampleUserSessions records one row per user with at least one active
// session. Idle users get no row; the dashboard treats absence as zero.
func (s *StatsService) sampleUserSessions(tx *gorm.DB, now time.Time) error {
	var rows []struct {
		Username string
		Active   int
	}
	if err := tx.Model(&models.RadiusSession{}).
		Select("username, COUNT(*) AS active").
		Where("status = ?", models.SessionStatusActive).
		Group("username").
		Scan(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if err := tx.Create(&models.StatsUserActiveSessions{
			Timestamp:      now,
			Username:       row.Username,
			ActiveSessions: row.Active,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *StatsService) sampleUserTraffic(tx *gorm.DB, now time.Time) error {
	var users []models.RadiusUser
	if err := tx.Where("total_traffic > 0").Find(&users).Error; err != nil {
		return err
	}

	for i := range users {
		if err := tx.Create(&models.StatsUserTotalTraffic{
			Timestamp:    now,
			Username:     users[i].Username,
			RxTraffic:    users[i].RxTraffic,
			TxTraffic:    users[i].TxTraffic,
			TotalTraffic: users[i].TotalTraffic,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}
