package radius

import (
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/sessionbuffer"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

const acctLogger = "radius.acct"

// AcctEngine processes Accounting-Request packets. It never touches the
// session store directly; every mutation goes through the session buffer
// and reaches the database on the next flush. The RFC requires an
// Accounting-Response for every valid request, including ones whose
// payload we cannot use.
type AcctEngine struct {
	buffer *sessionbuffer.Buffer
	logs   *logstore.Store
}

func NewAcctEngine(buffer *sessionbuffer.Buffer, logs *logstore.Store) *AcctEngine {
	return &AcctEngine{buffer: buffer, logs: logs}
}

// Handle processes one Accounting-Request and returns the response.
func (e *AcctEngine) Handle(p *radius.Packet, nas *models.NASClient) *radius.Packet {
	statusType, err := rfc2866.AcctStatusType_Lookup(p)
	if err != nil {
		e.logs.Warnf(acctLogger, "Accounting request without Acct-Status-Type from NAS %s", nas.Identifier)
		return p.Response(radius.CodeAccountingResponse)
	}

	switch statusType {
	case rfc2866.AcctStatusType_Value_Start:
		e.handleStart(p, nas)
	case rfc2866.AcctStatusType_Value_InterimUpdate:
		e.handleUpdate(p, nas)
	case rfc2866.AcctStatusType_Value_Stop:
		e.handleStop(p, nas)
	case rfc2866.AcctStatusType_Value_AccountingOn:
		e.handleNASRestart(nas, "Accounting-On", models.TerminateCauseNASReboot)
	case rfc2866.AcctStatusType_Value_AccountingOff:
		e.handleNASRestart(nas, "Accounting-Off", models.TerminateCauseNASRequest)
	default:
		e.logs.Warnf(acctLogger, "Unsupported Acct-Status-Type %d from NAS %s", statusType, nas.Identifier)
	}

	return p.Response(radius.CodeAccountingResponse)
}

func (e *AcctEngine) handleStart(p *radius.Packet, nas *models.NASClient) {
	sessionID := rfc2866.AcctSessionID_GetString(p)
	username := rfc2865.UserName_GetString(p)
	if sessionID == "" || username == "" {
		e.logs.Warnf(acctLogger, "Acct Start missing session id or username from NAS %s", nas.Identifier)
		return
	}

	nasIdentifier := rfc2865.NASIdentifier_GetString(p)
	if nasIdentifier == "" {
		nasIdentifier = nas.Identifier
	}
	framedIP := ""
	if ip := rfc2865.FramedIPAddress_Get(p); ip != nil {
		framedIP = ip.String()
	}
	callingStation := rfc2865.CallingStationID_GetString(p)

	e.logs.Infof(acctLogger, "Acct Start: session %s user %s on NAS %s", sessionID, username, nas.Identifier)
	e.buffer.AddStart(sessionID, nas.IPAddress, username, nasIdentifier, framedIP, callingStation)
}

func (e *AcctEngine) handleUpdate(p *radius.Packet, nas *models.NASClient) {
	sessionID := rfc2866.AcctSessionID_GetString(p)
	username := rfc2865.UserName_GetString(p)
	if sessionID == "" {
		e.logs.Warnf(acctLogger, "Acct Interim-Update missing session id from NAS %s", nas.Identifier)
		return
	}

	e.logs.Debugf(acctLogger, "Acct Interim-Update: session %s", sessionID)
	e.buffer.AddUpdate(sessionID, nas.IPAddress, username, extractCounters(p))
}

func (e *AcctEngine) handleStop(p *radius.Packet, nas *models.NASClient) {
	sessionID := rfc2866.AcctSessionID_GetString(p)
	username := rfc2865.UserName_GetString(p)
	if sessionID == "" {
		e.logs.Warnf(acctLogger, "Acct Stop missing session id from NAS %s", nas.Identifier)
		return
	}

	var terminateCause *int
	if cause, err := rfc2866.AcctTerminateCause_Lookup(p); err == nil {
		c := int(cause)
		terminateCause = &c
	}

	causeName := "not supplied"
	if terminateCause != nil {
		causeName = models.TerminateCauseName(*terminateCause)
	}
	e.logs.Infof(acctLogger, "Acct Stop: session %s user %s cause %s", sessionID, username, causeName)
	e.buffer.AddStop(sessionID, nas.IPAddress, username, terminateCause, extractCounters(p))
}

// handleNASRestart stops every session the store still believes is active
// on this NAS. Accounting-On means the NAS just booted and its sessions
// close with NAS-Reboot; Accounting-Off means an orderly shutdown and
// closes them with NAS-Request.
func (e *AcctEngine) handleNASRestart(nas *models.NASClient, kind string, cause int) {
	stopped, err := e.buffer.StopAllForNAS(nas.IPAddress, cause)
	if err != nil {
		e.logs.Errorf(acctLogger, "%s cleanup failed for NAS %s: %v", kind, nas.Identifier, err)
		return
	}
	e.logs.Infof(acctLogger, "%s from NAS %s: closed %d sessions", kind, nas.Identifier, stopped)
}

// extractCounters pulls the accounting counters present in the packet.
// The 2869 gigaword attributes extend the 32-bit octet counters; when
// present the real value is gigawords<<32 | octets.
func extractCounters(p *radius.Packet) sessionbuffer.Counters {
	var c sessionbuffer.Counters

	if v, err := rfc2866.AcctSessionTime_Lookup(p); err == nil {
		t := int(v)
		c.SessionTime = &t
	}
	if v, err := rfc2866.AcctInputOctets_Lookup(p); err == nil {
		octets := int64(v)
		if gw, err := rfc2869.AcctInputGigawords_Lookup(p); err == nil {
			octets |= int64(gw) << 32
		}
		c.InputOctets = &octets
	}
	if v, err := rfc2866.AcctOutputOctets_Lookup(p); err == nil {
		octets := int64(v)
		if gw, err := rfc2869.AcctOutputGigawords_Lookup(p); err == nil {
			octets |= int64(gw) << 32
		}
		c.OutputOctets = &octets
	}
	if v, err := rfc2866.AcctInputPackets_Lookup(p); err == nil {
		pkts := int64(v)
		c.InputPackets = &pkts
	}
	if v, err := rfc2866.AcctOutputPackets_Lookup(p); err == nil {
		pkts := int64(v)
		c.OutputPackets = &pkts
	}
	return c
}
