package logstore

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vpnradius/backend/internal/models"
	"gorm.io/gorm"
)

// Level is a log severity. Lines below the configured minimum are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	}
	return "INFO"
}

// ParseLevel maps a LOG_LEVEL string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR":
		return LevelError
	}
	return LevelInfo
}

// Store writes log lines to stdout and mirrors them into the radius_logs
// table so the admin API can surface server activity. Database writes go
// through a buffered channel and a single writer goroutine; the hot path
// never blocks on the database. When the channel is full entries are
// dropped (stdout still gets them).
type Store struct {
	db  *gorm.DB
	min Level

	ch   chan models.RadiusLog
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

const (
	queueSize  = 1024
	batchSize  = 64
	flushEvery = time.Second
)

// New creates a Store. db may be nil, in which case lines only go to stdout.
func New(db *gorm.DB, minLevel string) *Store {
	s := &Store{
		db:   db,
		min:  ParseLevel(minLevel),
		ch:   make(chan models.RadiusLog, queueSize),
		done: make(chan struct{}),
	}
	if db != nil {
		s.wg.Add(1)
		go s.writer()
	}
	return s
}

func (s *Store) writer() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]models.RadiusLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.db.Create(&batch).Error; err != nil {
			log.Printf("logstore: failed to persist %d log entries: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is still queued before exiting
			for {
				select {
				case entry := <-s.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) emit(level Level, logger, format string, args ...interface{}) {
	if level < s.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s %s: %s", level, logger, msg)

	if s.db == nil {
		return
	}
	entry := models.RadiusLog{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Logger:    logger,
		Message:   msg,
	}
	select {
	case s.ch <- entry:
	default:
		// Queue full, drop the database copy
	}
}

func (s *Store) Debugf(logger, format string, args ...interface{}) {
	s.emit(LevelDebug, logger, format, args...)
}

func (s *Store) Infof(logger, format string, args ...interface{}) {
	s.emit(LevelInfo, logger, format, args...)
}

func (s *Store) Warnf(logger, format string, args ...interface{}) {
	s.emit(LevelWarning, logger, format, args...)
}

func (s *Store) Errorf(logger, format string, args ...interface{}) {
	s.emit(LevelError, logger, format, args...)
}

// Close flushes queued entries and stops the writer goroutine.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
