package radius

import (
	"errors"
	"fmt"

	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/sessionbuffer"
	"gorm.io/gorm"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

const authLogger = "radius.auth"

// AuthEngine decides Access-Request packets. PAP only; CHAP and EAP
// requests are rejected as missing password.
type AuthEngine struct {
	db     *gorm.DB
	buffer *sessionbuffer.Buffer
	logs   *logstore.Store
	cfg    *config.Config
}

func NewAuthEngine(db *gorm.DB, buffer *sessionbuffer.Buffer, logs *logstore.Store, cfg *config.Config) *AuthEngine {
	return &AuthEngine{db: db, buffer: buffer, logs: logs, cfg: cfg}
}

// Handle evaluates an Access-Request from a known NAS and returns the
// response packet. Every request gets a decision; only malformed or
// unknown-source packets are dropped, and that happens before this point.
func (e *AuthEngine) Handle(p *radius.Packet, nas *models.NASClient) *radius.Packet {
	username := rfc2865.UserName_GetString(p)
	if username == "" {
		e.logs.Warnf(authLogger, "Auth reject (no username) from NAS %s", nas.Identifier)
		return e.reject(p, "Missing username")
	}

	if _, err := rfc2865.UserPassword_Lookup(p); err != nil {
		e.logs.Warnf(authLogger, "Auth reject (no password): %s", username)
		return e.reject(p, "Missing password")
	}
	password := rfc2865.UserPassword_GetString(p)

	var user models.RadiusUser
	err := e.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		e.logs.Infof(authLogger, "Auth reject (unknown user): %s", username)
		return e.reject(p, "Invalid credentials")
	}
	if err != nil {
		e.logs.Errorf(authLogger, "Auth lookup failed for %s: %v", username, err)
		return e.reject(p, "Invalid credentials")
	}

	if !user.CheckPassword(password) {
		e.logs.Infof(authLogger, "Auth reject (bad password): %s", username)
		return e.reject(p, "Invalid credentials")
	}

	if ok, reason := user.CanAuthenticate(); !ok {
		e.logs.Infof(authLogger, "Auth reject (%s): %s", user.StatusLabel(), username)
		return e.reject(p, reason)
	}

	// Concurrency limit: persisted active sessions plus operations still
	// sitting in the session buffer. Without the buffered count a user
	// could log in N extra times between two flushes.
	var active int64
	if err := e.db.Model(&models.RadiusSession{}).
		Where("username = ? AND status = ?", username, models.SessionStatusActive).
		Count(&active).Error; err != nil {
		e.logs.Errorf(authLogger, "Session count failed for %s: %v", username, err)
		return e.reject(p, "Invalid credentials")
	}
	effective := int(active) + e.buffer.PendingActiveCount(username)
	if effective >= user.MaxConcurrentSessions {
		e.logs.Infof(authLogger, "Auth reject (session limit %d): %s", user.MaxConcurrentSessions, username)
		return e.reject(p, fmt.Sprintf("Maximum concurrent sessions (%d) reached", user.MaxConcurrentSessions))
	}

	e.logs.Infof(authLogger, "Auth accept: %s via NAS %s", username, nas.Identifier)

	resp := p.Response(radius.CodeAccessAccept)
	rfc2865.ReplyMessage_SetString(resp, "Authentication successful")
	rfc2865.ServiceType_Set(resp, rfc2865.ServiceType_Value_FramedUser)
	rfc2865.FramedProtocol_Set(resp, rfc2865.FramedProtocol_Value_PPP)
	rfc2869.AcctInterimInterval_Set(resp, rfc2869.AcctInterimInterval(e.cfg.AcctInterimInterval))
	return resp
}

func (e *AuthEngine) reject(p *radius.Packet, reason string) *radius.Packet {
	resp := p.Response(radius.CodeAccessReject)
	rfc2865.ReplyMessage_SetString(resp, reason)
	return resp
}
