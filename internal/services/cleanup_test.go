package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		AcctInterimInterval:    600,
		StaleSessionMultiplier: 5,
		MaxInactiveSessions:    3,
		RadiusLogRetention:     5,
	}
}

func TestDeadSessionsReaped(t *testing.T) {
	db := newTestDB(t)
	svc := NewCleanupService(db, logstore.New(nil, "ERROR"), testConfig())

	require.NoError(t, db.Create(&models.RadiusUser{
		Username:              "alice",
		MaxConcurrentSessions: 2,
		CurrentSessions:       2,
		IsActive:              true,
	}).Error)

	now := time.Now().UTC()
	// Threshold is 600*5 = 3000 seconds
	stale := now.Add(-time.Hour)
	require.NoError(t, db.Create(&models.RadiusSession{
		SessionID: "dead", Username: "alice", NASIPAddress: "10.0.0.1",
		Status: models.SessionStatusActive, StartTime: stale, LastUpdated: stale,
	}).Error)
	require.NoError(t, db.Create(&models.RadiusSession{
		SessionID: "fresh", Username: "alice", NASIPAddress: "10.0.0.1",
		Status: models.SessionStatusActive, StartTime: now, LastUpdated: now,
	}).Error)

	require.NoError(t, svc.DeadSessions())

	var dead models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "dead").First(&dead).Error)
	require.Equal(t, models.SessionStatusStopped, dead.Status)
	require.NotNil(t, dead.TerminateCause)
	require.Equal(t, models.TerminateCauseLostCarrier, *dead.TerminateCause)
	require.NotNil(t, dead.StopTime)

	var fresh models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "fresh").First(&fresh).Error)
	require.Equal(t, models.SessionStatusActive, fresh.Status)

	// Counts refreshed for the affected user
	var user models.RadiusUser
	require.NoError(t, db.Where("username = ?", "alice").First(&user).Error)
	require.Equal(t, 1, user.CurrentSessions)
	require.Equal(t, 1, user.RemainingSessions)
}

func TestInactiveSessionsTrimmed(t *testing.T) {
	db := newTestDB(t)
	svc := NewCleanupService(db, logstore.New(nil, "ERROR"), testConfig())

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		stop := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Create(&models.RadiusSession{
			SessionID:    fmt.Sprintf("s%d", i),
			Username:     "alice",
			NASIPAddress: "10.0.0.1",
			Status:       models.SessionStatusStopped,
			StartTime:    base,
			LastUpdated:  stop,
			StopTime:     &stop,
		}).Error)
	}

	require.NoError(t, svc.InactiveSessions())

	var remaining []models.RadiusSession
	require.NoError(t, db.Where("status = ?", models.SessionStatusStopped).
		Order("stop_time ASC").Find(&remaining).Error)
	require.Len(t, remaining, 3)
	// The newest three survive
	require.Equal(t, "s3", remaining[0].SessionID)
	require.Equal(t, "s5", remaining[2].SessionID)
}

func TestInactiveSessionsUnderLimitUntouched(t *testing.T) {
	db := newTestDB(t)
	svc := NewCleanupService(db, logstore.New(nil, "ERROR"), testConfig())

	stop := time.Now().UTC()
	require.NoError(t, db.Create(&models.RadiusSession{
		SessionID: "s1", Username: "alice", NASIPAddress: "10.0.0.1",
		Status: models.SessionStatusStopped, StartTime: stop, LastUpdated: stop, StopTime: &stop,
	}).Error)

	require.NoError(t, svc.InactiveSessions())

	var count int64
	require.NoError(t, db.Model(&models.RadiusSession{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRadiusLogsRotation(t *testing.T) {
	db := newTestDB(t)
	svc := NewCleanupService(db, logstore.New(nil, "ERROR"), testConfig())

	for i := 0; i < 8; i++ {
		require.NoError(t, db.Create(&models.RadiusLog{
			Timestamp: time.Now().UTC(),
			Level:     "INFO",
			Logger:    "test",
			Message:   fmt.Sprintf("entry %d", i),
		}).Error)
	}

	require.NoError(t, svc.RadiusLogs())

	var remaining []models.RadiusLog
	require.NoError(t, db.Order("id ASC").Find(&remaining).Error)
	require.Len(t, remaining, 5)
	require.Equal(t, "entry 3", remaining[0].Message)
	require.Equal(t, "entry 7", remaining[4].Message)
}

func TestStatsSample(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, logstore.New(nil, "ERROR"))

	require.NoError(t, db.Create(&models.RadiusUser{
		Username: "alice", MaxConcurrentSessions: 2, IsActive: true,
		RxTraffic: 100, TxTraffic: 200, TotalTraffic: 300,
	}).Error)
	require.NoError(t, db.Create(&models.RadiusUser{
		Username: "bob", MaxConcurrentSessions: 1, IsActive: true,
	}).Error)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.RadiusSession{
		SessionID: "s1", Username: "alice", NASIPAddress: "10.0.0.1",
		Status: models.SessionStatusActive, StartTime: now, LastUpdated: now,
	}).Error)

	require.NoError(t, svc.Sample())

	var serverSessions models.StatsServerActiveSessions
	require.NoError(t, db.First(&serverSessions).Error)
	require.Equal(t, 1, serverSessions.ActiveSessions)

	var serverTraffic models.StatsServerTotalTraffic
	require.NoError(t, db.First(&serverTraffic).Error)
	require.EqualValues(t, 100, serverTraffic.TotalRx)
	require.EqualValues(t, 200, serverTraffic.TotalTx)
	require.EqualValues(t, 300, serverTraffic.TotalTraffic)

	// Only users with activity get per-user rows
	var userSessions []models.StatsUserActiveSessions
	require.NoError(t, db.Find(&userSessions).Error)
	require.Len(t, userSessions, 1)
	require.Equal(t, "alice", userSessions[0].Username)

	var userTraffic []models.StatsUserTotalTraffic
	require.NoError(t, db.Find(&userTraffic).Error)
	require.Len(t, userTraffic, 1)
	require.Equal(t, "alice", userTraffic[0].Username)
	require.EqualValues(t, 300, userTraffic[0].TotalTraffic)
}
