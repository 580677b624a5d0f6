package sessionbuffer

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
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

func newTestBuffer(t *testing.T) (*Buffer, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return New(db, logstore.New(nil, "ERROR")), db
}

func seedUser(t *testing.T, db *gorm.DB, username string, maxSessions int) {
	t.Helper()
	user := models.RadiusUser{
		Username:              username,
		MaxConcurrentSessions: maxSessions,
		RemainingSessions:     maxSessions,
		IsActive:              true,
	}
	require.NoError(t, user.SetPassword("secret", false))
	require.NoError(t, db.Create(&user).Error)
}

func getUser(t *testing.T, db *gorm.DB, username string) models.RadiusUser {
	t.Helper()
	var user models.RadiusUser
	require.NoError(t, db.Where("username = ?", username).First(&user).Error)
	return user
}

func getSession(t *testing.T, db *gorm.DB, sessionID, nasIP string) models.RadiusSession {
	t.Helper()
	var session models.RadiusSession
	require.NoError(t, db.Where("session_id = ? AND nas_ip_address = ?", sessionID, nasIP).First(&session).Error)
	return session
}

func i64(v int64) *int64 { return &v }
func iv(v int) *int      { return &v }

func TestFlushStartCreatesSession(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "172.16.0.5", "01:02:03")

	processed, err := b.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	session := getSession(t, db, "s1", "10.0.0.1")
	require.Equal(t, models.SessionStatusActive, session.Status)
	require.Equal(t, "alice", session.Username)
	require.Equal(t, "vpn1", session.NASIdentifier)
	require.Equal(t, "172.16.0.5", session.FramedIPAddress)

	user := getUser(t, db, "alice")
	require.Equal(t, 1, user.CurrentSessions)
	require.Equal(t, 1, user.RemainingSessions)
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	b, _ := newTestBuffer(t)
	processed, err := b.Flush()
	require.NoError(t, err)
	require.Zero(t, processed)
}

func TestDuplicateStartSkipped(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := b.Flush()
	require.NoError(t, err)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err = b.Flush()
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.RadiusSession{}).
		Where("session_id = ?", "s1").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestUpdateAppliesTrafficDeltas(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := b.Flush()
	require.NoError(t, err)

	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{
		SessionTime:  iv(60),
		InputOctets:  i64(300),
		OutputOctets: i64(700),
	})
	_, err = b.Flush()
	require.NoError(t, err)

	session := getSession(t, db, "s1", "10.0.0.1")
	require.EqualValues(t, 300, session.InputOctets)
	require.EqualValues(t, 700, session.OutputOctets)
	require.Equal(t, 60, session.SessionTime)

	user := getUser(t, db, "alice")
	require.EqualValues(t, 300, user.RxTraffic)
	require.EqualValues(t, 700, user.TxTraffic)
	require.EqualValues(t, 1000, user.TotalTraffic)

	// Counters are absolute; only the delta is credited
	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{
		InputOctets:  i64(500),
		OutputOctets: i64(900),
	})
	_, err = b.Flush()
	require.NoError(t, err)

	user = getUser(t, db, "alice")
	require.EqualValues(t, 500, user.RxTraffic)
	require.EqualValues(t, 900, user.TxTraffic)
	require.EqualValues(t, 1400, user.TotalTraffic)
}

func TestCounterResetCreditsFullNewValue(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := b.Flush()
	require.NoError(t, err)

	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{InputOctets: i64(1000)})
	_, err = b.Flush()
	require.NoError(t, err)

	// NAS counter went backwards: treat the new value as a fresh count
	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{InputOctets: i64(300)})
	_, err = b.Flush()
	require.NoError(t, err)

	user := getUser(t, db, "alice")
	require.EqualValues(t, 1300, user.RxTraffic)

	session := getSession(t, db, "s1", "10.0.0.1")
	require.EqualValues(t, 300, session.InputOctets)
}

func TestStopWinsOverBufferedUpdates(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := b.Flush()
	require.NoError(t, err)

	// Update and Stop land in the same flush window; the merged entry is
	// a Stop carrying the freshest counters
	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{
		InputOctets:  i64(100),
		OutputOctets: i64(200),
	})
	cause := models.TerminateCauseUserRequest
	b.AddStop("s1", "10.0.0.1", "alice", &cause, Counters{
		SessionTime: iv(90),
		InputOctets: i64(150),
	})

	processed, err := b.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	session := getSession(t, db, "s1", "10.0.0.1")
	require.Equal(t, models.SessionStatusStopped, session.Status)
	require.NotNil(t, session.StopTime)
	require.NotNil(t, session.TerminateCause)
	require.Equal(t, cause, *session.TerminateCause)
	require.EqualValues(t, 150, session.InputOctets)
	// Output octets absent from the Stop, filled from the merged Update
	require.EqualValues(t, 200, session.OutputOctets)
	require.Equal(t, 90, session.SessionTime)

	user := getUser(t, db, "alice")
	require.Equal(t, 0, user.CurrentSessions)
	require.Equal(t, 2, user.RemainingSessions)
	require.EqualValues(t, 150, user.RxTraffic)
	require.EqualValues(t, 200, user.TxTraffic)
}

func TestStartAndStopWithinOneWindow(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "172.16.0.5", "")
	cause := models.TerminateCauseIdleTimeout
	b.AddStop("s1", "10.0.0.1", "alice", &cause, Counters{
		SessionTime:  iv(12),
		InputOctets:  i64(40),
		OutputOctets: i64(60),
	})

	processed, err := b.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	session := getSession(t, db, "s1", "10.0.0.1")
	require.Equal(t, models.SessionStatusStopped, session.Status)
	require.Equal(t, "vpn1", session.NASIdentifier)
	require.Equal(t, "172.16.0.5", session.FramedIPAddress)
	require.EqualValues(t, 40, session.InputOctets)
	require.NotNil(t, session.TerminateCause)
	require.Equal(t, cause, *session.TerminateCause)

	// The session never counted as active, but its traffic still counts
	user := getUser(t, db, "alice")
	require.Equal(t, 0, user.CurrentSessions)
	require.EqualValues(t, 100, user.TotalTraffic)
}

func TestPendingStateTracking(t *testing.T) {
	b, _ := newTestBuffer(t)

	require.False(t, b.IsSessionPending("s1", "10.0.0.1"))
	require.Zero(t, b.PendingActiveCount("alice"))

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	require.True(t, b.IsSessionPending("s1", "10.0.0.1"))
	require.Equal(t, 1, b.PendingActiveCount("alice"))

	b.AddUpdate("s1", "10.0.0.1", "alice", Counters{InputOctets: i64(10)})
	require.True(t, b.IsSessionPending("s1", "10.0.0.1"))
	require.Equal(t, 1, b.PendingActiveCount("alice"))

	b.AddStop("s1", "10.0.0.1", "alice", nil, Counters{})
	require.False(t, b.IsSessionPending("s1", "10.0.0.1"))
	require.Zero(t, b.PendingActiveCount("alice"))

	require.Equal(t, 3, b.QueuedOperations())
}

func TestUpdateForUnknownSessionIsSkipped(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddUpdate("ghost", "10.0.0.1", "alice", Counters{InputOctets: i64(10)})
	_, err := b.Flush()
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.RadiusSession{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestReauthDisplacesStaleSessionOnSameIP(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("old", "10.0.0.1", "alice", "vpn1", "172.16.0.5", "")
	_, err := b.Flush()
	require.NoError(t, err)

	b.AddStart("new", "10.0.0.1", "alice", "vpn1", "172.16.0.5", "")
	_, err = b.Flush()
	require.NoError(t, err)

	old := getSession(t, db, "old", "10.0.0.1")
	require.Equal(t, models.SessionStatusStopped, old.Status)
	require.NotNil(t, old.TerminateCause)
	require.Equal(t, models.TerminateCauseNASRequest, *old.TerminateCause)

	fresh := getSession(t, db, "new", "10.0.0.1")
	require.Equal(t, models.SessionStatusActive, fresh.Status)

	user := getUser(t, db, "alice")
	require.Equal(t, 1, user.CurrentSessions)
}

func TestStopAllForNAS(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)
	seedUser(t, db, "bob", 1)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	b.AddStart("s2", "10.0.0.1", "bob", "vpn1", "", "")
	b.AddStart("s3", "10.0.0.2", "alice", "vpn2", "", "")
	_, err := b.Flush()
	require.NoError(t, err)

	stopped, err := b.StopAllForNAS("10.0.0.1", models.TerminateCauseNASReboot)
	require.NoError(t, err)
	require.Equal(t, 2, stopped)

	require.Equal(t, models.SessionStatusStopped, getSession(t, db, "s1", "10.0.0.1").Status)
	require.Equal(t, models.SessionStatusStopped, getSession(t, db, "s2", "10.0.0.1").Status)
	require.Equal(t, models.SessionStatusActive, getSession(t, db, "s3", "10.0.0.2").Status)

	require.Equal(t, 1, getUser(t, db, "alice").CurrentSessions)
	require.Equal(t, 0, getUser(t, db, "bob").CurrentSessions)
	require.Equal(t, 1, getUser(t, db, "bob").RemainingSessions)
}

func TestMergeOperationsFolding(t *testing.T) {
	cause := models.TerminateCauseUserRequest
	ops := []*Operation{
		{Type: OpStart, SessionID: "s1", NASIPAddress: "n1", Username: "u", NASIdentifier: "vpn1"},
		{Type: OpUpdate, SessionID: "s1", NASIPAddress: "n1", Username: "u", Counters: Counters{InputOctets: i64(10)}},
		{Type: OpStop, SessionID: "s1", NASIPAddress: "n1", Username: "u", TerminateCause: &cause},
		{Type: OpUpdate, SessionID: "s2", NASIPAddress: "n1", Username: "u", Counters: Counters{InputOctets: i64(5)}},
		{Type: OpUpdate, SessionID: "s2", NASIPAddress: "n1", Username: "u", Counters: Counters{InputOctets: i64(7)}},
	}

	merged, order := mergeOperations(ops)
	require.Len(t, order, 2)

	s1 := merged[sessionKey{"s1", "n1"}]
	require.Equal(t, OpStop, s1.Type)
	require.True(t, s1.createdAndStopped)
	require.Equal(t, "vpn1", s1.NASIdentifier)
	require.NotNil(t, s1.InputOctets)
	require.EqualValues(t, 10, *s1.InputOctets)

	s2 := merged[sessionKey{"s2", "n1"}]
	require.Equal(t, OpUpdate, s2.Type)
	require.EqualValues(t, 7, *s2.InputOctets)
}

func TestShutdownFlushesRemaining(t *testing.T) {
	b, db := newTestBuffer(t)
	seedUser(t, db, "alice", 2)

	b.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	b.Shutdown()

	session := getSession(t, db, "s1", "10.0.0.1")
	require.Equal(t, models.SessionStatusActive, session.Status)
	require.Zero(t, b.QueuedOperations())
}
