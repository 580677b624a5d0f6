package services

import (
	"errors"
	"time"

	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/sessionbuffer"
	"gorm.io/gorm"
)

const cleanupLogger = "cleanup"

// CleanupService implements the periodic housekeeping jobs: reaping dead
// sessions, trimming stopped session history and rotating the log table.
type CleanupService struct {
	db   *gorm.DB
	logs *logstore.Store
	cfg  *config.Config
}

func NewCleanupService(db *gorm.DB, logs *logstore.Store, cfg *config.Config) *CleanupService {
	return &CleanupService{db: db, logs: logs, cfg: cfg}
}

// DeadSessions stops active sessions whose last update is older than the
// interim interval times the stale multiplier. A NAS that crashed or lost
// connectivity never sends the Stop, so these sessions would otherwise
// hold concurrency slots forever. Terminate cause is Lost-Carrier.
func (s *CleanupService) DeadSessions() error {
	threshold := time.Duration(s.cfg.AcctInterimInterval*s.cfg.StaleSessionMultiplier) * time.Second
	cutoff := time.Now().UTC().Add(-threshold)

	return s.db.Transaction(func(tx *gorm.DB) error {
		var usernames []string
		if err := tx.Model(&models.RadiusSession{}).
			Where("status = ? AND last_updated < ?", models.SessionStatusActive, cutoff).
			Distinct().Pluck("username", &usernames).Error; err != nil {
			return err
		}
		if len(usernames) == 0 {
			return nil
		}

		now := time.Now().UTC()
		result := tx.Model(&models.RadiusSession{}).
			Where("status = ? AND last_updated < ?", models.SessionStatusActive, cutoff).
			Updates(map[string]interface{}{
				"status":          models.SessionStatusStopped,
				"stop_time":       now,
				"terminate_cause": models.TerminateCauseLostCarrier,
			})
		if result.Error != nil {
			return result.Error
		}
		s.logs.Infof(cleanupLogger, "reaped %d dead sessions (no update for %s)", result.RowsAffected, threshold)

		affected := make(map[string]struct{}, len(usernames))
		for _, u := range usernames {
			affected[u] = struct{}{}
		}
		return sessionbuffer.RefreshUserCounts(tx, affected)
	})
}

// InactiveSessions keeps the most recent MaxInactiveSessions stopped
// sessions and deletes the rest. Stopped sessions are history only; the
// live state and the user traffic totals are unaffected.
func (s *CleanupService) InactiveSessions() error {
	keep := s.cfg.MaxInactiveSessions

	var count int64
	if err := s.db.Model(&models.RadiusSession{}).
		Where("status = ?", models.SessionStatusStopped).
		Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - keep
	if excess <= 0 {
		return nil
	}

	// The newest row to delete is the excess-th oldest by stop time
	var boundary models.RadiusSession
	err := s.db.Where("status = ?", models.SessionStatusStopped).
		Order("stop_time ASC").
		Offset(excess - 1).
		First(&boundary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	result := s.db.Where("status = ? AND stop_time <= ?", models.SessionStatusStopped, boundary.StopTime).
		Delete(&models.RadiusSession{})
	if result.Error != nil {
		return result.Error
	}
	s.logs.Infof(cleanupLogger, "removed %d old stopped sessions, keeping %d", result.RowsAffected, keep)
	return nil
}

// RadiusLogs keeps the most recent RadiusLogRetention rows of the log
// table. Log IDs are monotonic, so the cutoff is the ID of the newest row
// outside the retention window.
func (s *CleanupService) RadiusLogs() error {
	keep := s.cfg.RadiusLogRetention

	var count int64
	if err := s.db.Model(&models.RadiusLog{}).Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - keep
	if excess <= 0 {
		return nil
	}

	var boundary models.RadiusLog
	err := s.db.Order("id ASC").Offset(excess - 1).First(&boundary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	result := s.db.Where("id <= ?", boundary.ID).Delete(&models.RadiusLog{})
	if result.Error != nil {
		return result.Error
	}
	s.logs.Debugf(cleanupLogger, "rotated %d log entries, keeping %d", result.RowsAffected, keep)
	return nil
}
