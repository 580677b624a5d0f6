package models

import (
	"time"
)

// Session status values
const (
	SessionStatusActive  = "active"
	SessionStatusStopped = "stopped"
)

// Acct-Terminate-Cause codes (RFC 2866)
const (
	TerminateCauseUserRequest        = 1
	TerminateCauseLostCarrier        = 2
	TerminateCauseLostService        = 3
	TerminateCauseIdleTimeout        = 4
	TerminateCauseSessionTimeout     = 5
	TerminateCauseAdminReset         = 6
	TerminateCauseAdminReboot        = 7
	TerminateCausePortError          = 8
	TerminateCauseNASError           = 9
	TerminateCauseNASRequest         = 10
	TerminateCauseNASReboot          = 11
	TerminateCausePortUnneeded       = 12
	TerminateCausePortPreempted      = 13
	TerminateCausePortSuspended      = 14
	TerminateCauseServiceUnavailable = 15
	TerminateCauseCallback           = 16
	TerminateCauseUserError          = 17
	TerminateCauseHostRequest        = 18
)

var terminateCauseNames = map[int]string{
	TerminateCauseUserRequest:        "User-Request",
	TerminateCauseLostCarrier:        "Lost-Carrier",
	TerminateCauseLostService:        "Lost-Service",
	TerminateCauseIdleTimeout:        "Idle-Timeout",
	TerminateCauseSessionTimeout:     "Session-Timeout",
	TerminateCauseAdminReset:         "Admin-Reset",
	TerminateCauseAdminReboot:        "Admin-Reboot",
	TerminateCausePortError:          "Port-Error",
	TerminateCauseNASError:           "NAS-Error",
	TerminateCauseNASRequest:         "NAS-Request",
	TerminateCauseNASReboot:          "NAS-Reboot",
	TerminateCausePortUnneeded:       "Port-Unneeded",
	TerminateCausePortPreempted:      "Port-Preempted",
	TerminateCausePortSuspended:      "Port-Suspended",
	TerminateCauseServiceUnavailable: "Service-Unavailable",
	TerminateCauseCallback:           "Callback",
	TerminateCauseUserError:          "User-Error",
	TerminateCauseHostRequest:        "Host-Request",
}

// TerminateCauseName returns the RFC 2866 name for a terminate cause code.
func TerminateCauseName(cause int) string {
	if name, ok := terminateCauseNames[cause]; ok {
		return name
	}
	return "Unknown"
}

// RadiusSession represents one VPN session, identified by
// (session_id, nas_ip_address). Lifecycle: Start -> Interim-Update* -> Stop.
type RadiusSession struct {
	ID        uint   `gorm:"column:id;primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;size:64;not null;index;uniqueIndex:idx_session_nas" json:"session_id"`
	Username  string `gorm:"column:username;size:64;not null;index:idx_session_user_status" json:"username"`

	NASIdentifier    string `gorm:"column:nas_identifier;size:64" json:"nas_identifier"`
	NASIPAddress     string `gorm:"column:nas_ip_address;size:45;not null;index:idx_session_nasip_status;uniqueIndex:idx_session_nas" json:"nas_ip_address"`
	FramedIPAddress  string `gorm:"column:framed_ip_address;size:45" json:"framed_ip_address"`
	CallingStationID string `gorm:"column:calling_station_id;size:64" json:"calling_station_id"`

	Status string `gorm:"column:status;size:16;default:active;index;index:idx_session_user_status;index:idx_session_nasip_status" json:"status"`

	StartTime   time.Time  `gorm:"column:start_time;index" json:"start_time"`
	LastUpdated time.Time  `gorm:"column:last_updated;index" json:"last_updated"`
	StopTime    *time.Time `gorm:"column:stop_time;index" json:"stop_time"`

	// Cumulative-to-session counters, absolute values from the NAS
	SessionTime   int   `gorm:"column:session_time;default:0" json:"session_time"`
	InputOctets   int64 `gorm:"column:input_octets;default:0" json:"input_octets"`
	OutputOctets  int64 `gorm:"column:output_octets;default:0" json:"output_octets"`
	InputPackets  int64 `gorm:"column:input_packets;default:0" json:"input_packets"`
	OutputPackets int64 `gorm:"column:output_packets;default:0" json:"output_packets"`

	TerminateCause *int `gorm:"column:terminate_cause" json:"terminate_cause"`
}

func (RadiusSession) TableName() string {
	return "radius_sessions"
}

// IsActive reports whether the session is still active.
func (s *RadiusSession) IsActive() bool {
	return s.Status == SessionStatusActive
}
