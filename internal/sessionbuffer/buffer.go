package sessionbuffer

import (
	"errors"
	"sync"
	"time"

	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
)

const loggerName = "session_buffer"

// OpType classifies a buffered session operation.
type OpType int

const (
	OpStart OpType = iota + 1
	OpUpdate
	OpStop
)

func (t OpType) String() string {
	switch t {
	case OpStart:
		return "START"
	case OpUpdate:
		return "UPDATE"
	case OpStop:
		return "STOP"
	}
	return "UNKNOWN"
}

// Counters carries the absolute accounting counters from an Interim-Update
// or Stop packet. Nil fields were absent from the packet.
type Counters struct {
	SessionTime   *int
	InputOctets   *int64
	OutputOctets  *int64
	InputPackets  *int64
	OutputPackets *int64
}

// mergeFrom overwrites fields of c with non-nil fields of other.
func (c *Counters) mergeFrom(other Counters) {
	if other.SessionTime != nil {
		c.SessionTime = other.SessionTime
	}
	if other.InputOctets != nil {
		c.InputOctets = other.InputOctets
	}
	if other.OutputOctets != nil {
		c.OutputOctets = other.OutputOctets
	}
	if other.InputPackets != nil {
		c.InputPackets = other.InputPackets
	}
	if other.OutputPackets != nil {
		c.OutputPackets = other.OutputPackets
	}
}

// fillFrom copies fields of other that are nil in c.
func (c *Counters) fillFrom(other Counters) {
	if c.SessionTime == nil {
		c.SessionTime = other.SessionTime
	}
	if c.InputOctets == nil {
		c.InputOctets = other.InputOctets
	}
	if c.OutputOctets == nil {
		c.OutputOctets = other.OutputOctets
	}
	if c.InputPackets == nil {
		c.InputPackets = other.InputPackets
	}
	if c.OutputPackets == nil {
		c.OutputPackets = other.OutputPackets
	}
}

// Operation is one buffered session mutation, keyed by
// (session_id, nas_ip_address).
type Operation struct {
	Type         OpType
	SessionID    string
	NASIPAddress string
	Username     string
	Timestamp    time.Time

	// Start payload
	NASIdentifier    string
	FramedIPAddress  string
	CallingStationID string

	// Stop payload
	TerminateCause *int

	Counters

	// Start and Stop for the same key arrived within one flush window
	createdAndStopped bool
}

type sessionKey struct {
	sessionID string
	nasIP     string
}

// Buffer is a thread-safe write-behind queue of session operations.
// Accounting packet handlers enqueue; the scheduler's flush job drains the
// queue, merges redundant operations per (session_id, nas_ip) and commits
// the result in a single transaction. The buffer exclusively owns
// uncommitted session state between flushes.
type Buffer struct {
	db   *gorm.DB
	logs *logstore.Store

	mu      sync.RWMutex
	queue   []*Operation
	pending map[sessionKey]*Operation

	shutdownOnce sync.Once
}

// New creates a Buffer writing to db.
func New(db *gorm.DB, logs *logstore.Store) *Buffer {
	return &Buffer{
		db:      db,
		logs:    logs,
		pending: make(map[sessionKey]*Operation),
	}
}

// AddStart queues a session start. Duplicate starts are detected at flush
// time against the store, not here.
func (b *Buffer) AddStart(sessionID, nasIP, username, nasIdentifier, framedIP, callingStationID string) {
	op := &Operation{
		Type:             OpStart,
		SessionID:        sessionID,
		NASIPAddress:     nasIP,
		Username:         username,
		Timestamp:        time.Now().UTC(),
		NASIdentifier:    nasIdentifier,
		FramedIPAddress:  framedIP,
		CallingStationID: callingStationID,
	}

	key := sessionKey{sessionID, nasIP}
	b.mu.Lock()
	b.queue = append(b.queue, op)
	b.pending[key] = op
	b.mu.Unlock()

	b.logs.Debugf(loggerName, "queued session START: %s for user %s", sessionID, username)
}

// AddUpdate queues an interim update. The counters are merged into any
// pending Start or Update entry for the same session so concurrency
// lookups see current state.
func (b *Buffer) AddUpdate(sessionID, nasIP, username string, counters Counters) {
	op := &Operation{
		Type:         OpUpdate,
		SessionID:    sessionID,
		NASIPAddress: nasIP,
		Username:     username,
		Timestamp:    time.Now().UTC(),
		Counters:     counters,
	}

	key := sessionKey{sessionID, nasIP}
	b.mu.Lock()
	b.queue = append(b.queue, op)
	if existing, ok := b.pending[key]; ok {
		if existing.Type != OpStop {
			existing.Counters.mergeFrom(counters)
		}
	} else {
		b.pending[key] = op
	}
	b.mu.Unlock()

	b.logs.Debugf(loggerName, "queued session UPDATE: %s", sessionID)
}

// AddStop queues a session stop. Stop wins any prior pending state.
func (b *Buffer) AddStop(sessionID, nasIP, username string, terminateCause *int, counters Counters) {
	op := &Operation{
		Type:           OpStop,
		SessionID:      sessionID,
		NASIPAddress:   nasIP,
		Username:       username,
		Timestamp:      time.Now().UTC(),
		TerminateCause: terminateCause,
		Counters:       counters,
	}

	key := sessionKey{sessionID, nasIP}
	b.mu.Lock()
	b.queue = append(b.queue, op)
	b.pending[key] = op
	b.mu.Unlock()

	b.logs.Debugf(loggerName, "queued session STOP: %s", sessionID)
}

// IsSessionPending reports whether a not-yet-stopped operation for the
// session is waiting in the buffer.
func (b *Buffer) IsSessionPending(sessionID, nasIP string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	op, ok := b.pending[sessionKey{sessionID, nasIP}]
	return ok && op.Type != OpStop
}

// PendingActiveCount returns the net count of buffered active sessions for
// a user (pending Starts minus pending Stops). The auth engine adds this
// to the persisted count when enforcing concurrent session limits.
func (b *Buffer) PendingActiveCount(username string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, op := range b.pending {
		if op.Username != username {
			continue
		}
		switch op.Type {
		case OpStart:
			count++
		case OpStop:
			count--
		}
	}
	return count
}

// QueuedOperations returns the number of operations waiting to be flushed.
func (b *Buffer) QueuedOperations() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queue)
}

// Flush drains the queue, merges operations per session and applies them
// to the store in one transaction. Returns the number of merged entries
// processed. Individual entry failures are logged and skipped; a failed
// transaction re-enqueues the whole drained batch for the next attempt.
func (b *Buffer) Flush() (int, error) {
	b.mu.Lock()
	ops := b.queue
	b.queue = nil
	for _, op := range ops {
		delete(b.pending, sessionKey{op.SessionID, op.NASIPAddress})
	}
	b.mu.Unlock()

	if len(ops) == 0 {
		return 0, nil
	}

	merged, order := mergeOperations(ops)

	processed := 0
	err := b.db.Transaction(func(tx *gorm.DB) error {
		affected := make(map[string]struct{})
		for _, key := range order {
			op := merged[key]
			var opErr error
			switch {
			case op.Type == OpStart:
				opErr = b.processStart(tx, op)
			case op.Type == OpUpdate:
				opErr = b.processUpdate(tx, op)
			case op.createdAndStopped:
				opErr = b.processStartAndStop(tx, op)
			default:
				opErr = b.processStop(tx, op)
			}
			if opErr != nil {
				b.logs.Errorf(loggerName, "error processing %s for session %s: %v", op.Type, op.SessionID, opErr)
				continue
			}
			affected[op.Username] = struct{}{}
			processed++
		}
		return RefreshUserCounts(tx, affected)
	})
	if err != nil {
		// Store failure: put the batch back at the head of the queue so the
		// next flush retries it. Entries enqueued since the drain keep their
		// newer pending state.
		b.mu.Lock()
		b.queue = append(ops, b.queue...)
		newer := make(map[sessionKey]struct{}, len(b.pending))
		for key := range b.pending {
			newer[key] = struct{}{}
		}
		for _, op := range ops {
			key := sessionKey{op.SessionID, op.NASIPAddress}
			if _, ok := newer[key]; !ok {
				b.pending[key] = op
			}
		}
		b.mu.Unlock()
		b.logs.Errorf(loggerName, "flush transaction failed, %d operations re-enqueued: %v", len(ops), err)
		return 0, err
	}

	b.logs.Debugf(loggerName, "flushed %d session operations", processed)
	return processed, nil
}

// mergeOperations folds the drained operations per (session_id, nas_ip) in
// arrival order. Start..Stop collapses to a synthetic Start+Stop, trailing
// updates collapse into one, Stop always wins.
func mergeOperations(ops []*Operation) (map[sessionKey]*Operation, []sessionKey) {
	merged := make(map[sessionKey]*Operation, len(ops))
	order := make([]sessionKey, 0, len(ops))

	for _, op := range ops {
		key := sessionKey{op.SessionID, op.NASIPAddress}
		existing, ok := merged[key]
		if !ok {
			merged[key] = op
			order = append(order, key)
			continue
		}

		switch op.Type {
		case OpStop:
			op.Counters.fillFrom(existing.Counters)
			if op.TerminateCause == nil {
				op.TerminateCause = existing.TerminateCause
			}
			if op.NASIdentifier == "" {
				op.NASIdentifier = existing.NASIdentifier
			}
			if op.FramedIPAddress == "" {
				op.FramedIPAddress = existing.FramedIPAddress
			}
			if op.CallingStationID == "" {
				op.CallingStationID = existing.CallingStationID
			}
			if existing.Type == OpStart || existing.createdAndStopped {
				op.createdAndStopped = true
				op.Timestamp = existing.Timestamp // keep the start time
			}
			merged[key] = op
		case OpUpdate:
			existing.Counters.mergeFrom(op.Counters)
		case OpStart:
			// A Start never overrides pending state for the same key;
			// the duplicate is caught against the store at apply time.
		}
	}

	return merged, order
}

// counterDelta computes the increment to credit a user for a counter
// moving from old to new. A new value below the previous observation means
// the NAS reset its counter; the session restarted counting from zero and
// the full new value is the delta.
func counterDelta(newVal, oldVal int64) int64 {
	if newVal >= oldVal {
		return newVal - oldVal
	}
	return newVal
}

func (b *Buffer) processStart(tx *gorm.DB, op *Operation) error {
	var existing models.RadiusSession
	err := tx.Where("session_id = ? AND nas_ip_address = ?", op.SessionID, op.NASIPAddress).
		First(&existing).Error
	if err == nil {
		b.logs.Warnf(loggerName, "session %s already exists, skipping duplicate start", op.SessionID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	// Re-authentication displaces a stale session holding the same
	// framed IP for the same user.
	if op.FramedIPAddress != "" {
		var stale []models.RadiusSession
		if err := tx.Where(
			"username = ? AND status = ? AND framed_ip_address = ? AND session_id <> ?",
			op.Username, models.SessionStatusActive, op.FramedIPAddress, op.SessionID,
		).Find(&stale).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range stale {
			b.logs.Infof(loggerName, "closing stale session %s for user %s on IP %s, displaced by %s",
				stale[i].SessionID, op.Username, op.FramedIPAddress, op.SessionID)
			cause := models.TerminateCauseNASRequest
			if err := tx.Model(&stale[i]).Updates(map[string]interface{}{
				"status":          models.SessionStatusStopped,
				"stop_time":       now,
				"terminate_cause": cause,
			}).Error; err != nil {
				return err
			}
		}
	}

	session := models.RadiusSession{
		SessionID:        op.SessionID,
		Username:         op.Username,
		NASIdentifier:    op.NASIdentifier,
		NASIPAddress:     op.NASIPAddress,
		FramedIPAddress:  op.FramedIPAddress,
		CallingStationID: op.CallingStationID,
		Status:           models.SessionStatusActive,
		StartTime:        op.Timestamp,
		LastUpdated:      op.Timestamp,
	}
	return tx.Create(&session).Error
}

func (b *Buffer) processUpdate(tx *gorm.DB, op *Operation) error {
	var session models.RadiusSession
	err := tx.Where("session_id = ? AND nas_ip_address = ?", op.SessionID, op.NASIPAddress).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		b.logs.Warnf(loggerName, "session %s not found for update", op.SessionID)
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"last_updated": time.Now().UTC(),
	}
	deltaRx, deltaTx := b.collectCounterUpdates(op, &session, updates)

	if err := tx.Model(&session).Updates(updates).Error; err != nil {
		return err
	}
	return applyTrafficDelta(tx, op.Username, deltaRx, deltaTx)
}

func (b *Buffer) processStop(tx *gorm.DB, op *Operation) error {
	var session models.RadiusSession
	err := tx.Where("session_id = ? AND nas_ip_address = ?", op.SessionID, op.NASIPAddress).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		b.logs.Warnf(loggerName, "session %s not found for stop", op.SessionID)
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.SessionStatusStopped,
		"stop_time":    now,
		"last_updated": now,
	}
	if op.TerminateCause != nil {
		updates["terminate_cause"] = *op.TerminateCause
	}
	deltaRx, deltaTx := b.collectCounterUpdates(op, &session, updates)

	if err := tx.Model(&session).Updates(updates).Error; err != nil {
		return err
	}
	return applyTrafficDelta(tx, op.Username, deltaRx, deltaTx)
}

func (b *Buffer) processStartAndStop(tx *gorm.DB, op *Operation) error {
	var existing models.RadiusSession
	err := tx.Where("session_id = ? AND nas_ip_address = ?", op.SessionID, op.NASIPAddress).
		First(&existing).Error
	if err == nil {
		// The start of this pair already reached the store in an earlier
		// flush; treat the remainder as a plain stop.
		return b.processStop(tx, op)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	session := models.RadiusSession{
		SessionID:        op.SessionID,
		Username:         op.Username,
		NASIdentifier:    op.NASIdentifier,
		NASIPAddress:     op.NASIPAddress,
		FramedIPAddress:  op.FramedIPAddress,
		CallingStationID: op.CallingStationID,
		Status:           models.SessionStatusStopped,
		StartTime:        op.Timestamp,
		LastUpdated:      now,
		StopTime:         &now,
		TerminateCause:   op.TerminateCause,
	}
	var deltaRx, deltaTx int64
	if op.SessionTime != nil {
		session.SessionTime = *op.SessionTime
	}
	if op.InputOctets != nil {
		session.InputOctets = *op.InputOctets
		deltaRx = *op.InputOctets // session never persisted before, previous = 0
	}
	if op.OutputOctets != nil {
		session.OutputOctets = *op.OutputOctets
		deltaTx = *op.OutputOctets
	}
	if op.InputPackets != nil {
		session.InputPackets = *op.InputPackets
	}
	if op.OutputPackets != nil {
		session.OutputPackets = *op.OutputPackets
	}

	if err := tx.Create(&session).Error; err != nil {
		return err
	}
	return applyTrafficDelta(tx, op.Username, deltaRx, deltaTx)
}

// collectCounterUpdates adds the absolute counter values from op to the
// updates map and returns the per-user traffic deltas against the stored
// session counters.
func (b *Buffer) collectCounterUpdates(op *Operation, session *models.RadiusSession, updates map[string]interface{}) (deltaRx, deltaTx int64) {
	if op.SessionTime != nil {
		updates["session_time"] = *op.SessionTime
	}
	if op.InputOctets != nil {
		updates["input_octets"] = *op.InputOctets
		deltaRx = counterDelta(*op.InputOctets, session.InputOctets)
	}
	if op.OutputOctets != nil {
		updates["output_octets"] = *op.OutputOctets
		deltaTx = counterDelta(*op.OutputOctets, session.OutputOctets)
	}
	if op.InputPackets != nil {
		updates["input_packets"] = *op.InputPackets
	}
	if op.OutputPackets != nil {
		updates["output_packets"] = *op.OutputPackets
	}
	return deltaRx, deltaTx
}

// applyTrafficDelta credits traffic to the user's cumulative counters with
// an atomic relative update, safe against concurrent stops of the user's
// other sessions.
func applyTrafficDelta(tx *gorm.DB, username string, deltaRx, deltaTx int64) error {
	if deltaRx == 0 && deltaTx == 0 {
		return nil
	}
	return tx.Model(&models.RadiusUser{}).
		Where("username = ?", username).
		Updates(map[string]interface{}{
			"rx_traffic":    gorm.Expr("rx_traffic + ?", deltaRx),
			"tx_traffic":    gorm.Expr("tx_traffic + ?", deltaTx),
			"total_traffic": gorm.Expr("total_traffic + ?", deltaRx+deltaTx),
		}).Error
}

// RefreshUserCounts recomputes current_sessions and remaining_sessions for
// each username from the store and persists both fields together. The two
// fields are never written in isolation anywhere else.
func RefreshUserCounts(tx *gorm.DB, usernames map[string]struct{}) error {
	for username := range usernames {
		var user models.RadiusUser
		err := tx.Where("username = ?", username).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.RadiusSession{}).
			Where("username = ? AND status = ?", username, models.SessionStatusActive).
			Count(&active).Error; err != nil {
			return err
		}

		remaining := user.MaxConcurrentSessions - int(active)
		if remaining < 0 {
			remaining = 0
		}
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"current_sessions":   int(active),
			"remaining_sessions": remaining,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// StopAllForNAS flushes the buffer and then stops every active session for
// the given NAS IP with the supplied terminate cause. Used for
// Accounting-On/Off (NAS reboot and shutdown).
func (b *Buffer) StopAllForNAS(nasIP string, terminateCause int) (int, error) {
	if _, err := b.Flush(); err != nil {
		return 0, err
	}

	stopped := 0
	err := b.db.Transaction(func(tx *gorm.DB) error {
		var usernames []string
		if err := tx.Model(&models.RadiusSession{}).
			Where("nas_ip_address = ? AND status = ?", nasIP, models.SessionStatusActive).
			Distinct().Pluck("username", &usernames).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&models.RadiusSession{}).
			Where("nas_ip_address = ? AND status = ?", nasIP, models.SessionStatusActive).
			Updates(map[string]interface{}{
				"status":          models.SessionStatusStopped,
				"stop_time":       now,
				"last_updated":    now,
				"terminate_cause": terminateCause,
			})
		if result.Error != nil {
			return result.Error
		}
		stopped = int(result.RowsAffected)

		affected := make(map[string]struct{}, len(usernames))
		for _, username := range usernames {
			affected[username] = struct{}{}
		}
		return RefreshUserCounts(tx, affected)
	})
	if err != nil {
		return 0, err
	}
	return stopped, nil
}

// Shutdown flushes all pending operations. Must be reached on every
// graceful exit path; on an ungraceful crash unflushed operations are lost
// and accounting is best-effort.
func (b *Buffer) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logs.Infof(loggerName, "shutting down, flushing remaining operations")
		count, err := b.Flush()
		if err != nil {
			b.logs.Errorf(loggerName, "final flush failed: %v", err)
			return
		}
		b.logs.Infof(loggerName, "shutdown complete, flushed %d operations", count)
	})
}
