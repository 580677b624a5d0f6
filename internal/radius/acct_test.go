package radius

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/sessionbuffer"
	"gorm.io/gorm"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

func newAcctFixture(t *testing.T) (*AcctEngine, *sessionbuffer.Buffer, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logs := logstore.New(nil, "ERROR")
	buffer := sessionbuffer.New(db, logs)
	return NewAcctEngine(buffer, logs), buffer, db
}

func acctRequest(t *testing.T, statusType rfc2866.AcctStatusType, sessionID, username string) *radius.Packet {
	t.Helper()
	p := radius.New(radius.CodeAccountingRequest, testSecret)
	require.NoError(t, rfc2866.AcctStatusType_Set(p, statusType))
	if sessionID != "" {
		require.NoError(t, rfc2866.AcctSessionID_SetString(p, sessionID))
	}
	if username != "" {
		require.NoError(t, rfc2865.UserName_SetString(p, username))
	}
	return p
}

func TestAcctStartQueuesOperation(t *testing.T) {
	e, buffer, _ := newAcctFixture(t)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_Start, "s1", "alice")
	require.NoError(t, rfc2865.NASIdentifier_SetString(p, "vpn1"))

	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)
	require.True(t, buffer.IsSessionPending("s1", "10.0.0.1"))
	require.Equal(t, 1, buffer.PendingActiveCount("alice"))
}

func TestAcctStopQueuesOperation(t *testing.T) {
	e, buffer, _ := newAcctFixture(t)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_Stop, "s1", "alice")
	require.NoError(t, rfc2866.AcctTerminateCause_Set(p, rfc2866.AcctTerminateCause_Value_UserRequest))
	require.NoError(t, rfc2866.AcctInputOctets_Set(p, 100))

	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)
	require.False(t, buffer.IsSessionPending("s1", "10.0.0.1"))
	require.Equal(t, 1, buffer.QueuedOperations())
}

func TestAcctMissingSessionIDStillReplies(t *testing.T) {
	e, buffer, _ := newAcctFixture(t)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_Start, "", "alice")
	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)
	require.Zero(t, buffer.QueuedOperations())
}

func TestAcctMissingStatusTypeStillReplies(t *testing.T) {
	e, buffer, _ := newAcctFixture(t)

	p := radius.New(radius.CodeAccountingRequest, testSecret)
	require.NoError(t, rfc2866.AcctSessionID_SetString(p, "s1"))

	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)
	require.Zero(t, buffer.QueuedOperations())
}

func TestAcctInterimUpdateCounters(t *testing.T) {
	e, buffer, db := newAcctFixture(t)

	buffer.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := buffer.Flush()
	require.NoError(t, err)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_InterimUpdate, "s1", "alice")
	require.NoError(t, rfc2866.AcctSessionTime_Set(p, 120))
	require.NoError(t, rfc2866.AcctInputOctets_Set(p, 300))
	require.NoError(t, rfc2866.AcctOutputOctets_Set(p, 500))

	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)

	_, err = buffer.Flush()
	require.NoError(t, err)

	var session models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "s1").First(&session).Error)
	require.Equal(t, 120, session.SessionTime)
	require.EqualValues(t, 300, session.InputOctets)
	require.EqualValues(t, 500, session.OutputOctets)
}

// Gigaword attributes extend the 32-bit octet counters past 4 GiB.
func TestAcctGigawordCounters(t *testing.T) {
	e, buffer, db := newAcctFixture(t)

	buffer.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := buffer.Flush()
	require.NoError(t, err)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_InterimUpdate, "s1", "alice")
	require.NoError(t, rfc2866.AcctInputOctets_Set(p, 100))
	require.NoError(t, rfc2869.AcctInputGigawords_Set(p, 2))

	e.Handle(p, testNAS())
	_, err = buffer.Flush()
	require.NoError(t, err)

	var session models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "s1").First(&session).Error)
	require.EqualValues(t, (int64(2)<<32)|100, session.InputOctets)
}

func TestAcctAccountingOnStopsNASSessions(t *testing.T) {
	e, buffer, db := newAcctFixture(t)

	require.NoError(t, db.Create(&models.RadiusUser{
		Username:              "alice",
		MaxConcurrentSessions: 1,
		IsActive:              true,
	}).Error)
	buffer.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := buffer.Flush()
	require.NoError(t, err)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_AccountingOn, "", "")
	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)

	var session models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "s1").First(&session).Error)
	require.Equal(t, models.SessionStatusStopped, session.Status)
	require.NotNil(t, session.TerminateCause)
	require.Equal(t, models.TerminateCauseNASReboot, *session.TerminateCause)
}

// Accounting-Off is an orderly shutdown, so its bulk stop uses NAS-Request
// rather than the NAS-Reboot cause used for Accounting-On.
func TestAcctAccountingOffStopsWithNASRequest(t *testing.T) {
	e, buffer, db := newAcctFixture(t)

	require.NoError(t, db.Create(&models.RadiusUser{
		Username:              "alice",
		MaxConcurrentSessions: 1,
		IsActive:              true,
	}).Error)
	buffer.AddStart("s1", "10.0.0.1", "alice", "vpn1", "", "")
	_, err := buffer.Flush()
	require.NoError(t, err)

	p := acctRequest(t, rfc2866.AcctStatusType_Value_AccountingOff, "", "")
	resp := e.Handle(p, testNAS())
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)

	var session models.RadiusSession
	require.NoError(t, db.Where("session_id = ?", "s1").First(&session).Error)
	require.Equal(t, models.SessionStatusStopped, session.Status)
	require.NotNil(t, session.TerminateCause)
	require.Equal(t, models.TerminateCauseNASRequest, *session.TerminateCause)
}
