package models

import (
	"time"
)

// RadiusLog is one operational log line mirrored into the database so the
// admin API can surface server activity. Append-only; retention is enforced
// by the log cleanup job (keep the most recent N rows).
type RadiusLog struct {
	ID        uint      `gorm:"column:id;primaryKey" json:"id"`
	Timestamp time.Time `gorm:"column:timestamp;autoCreateTime;index" json:"timestamp"`
	Level     string    `gorm:"column:level;size:20" json:"level"`
	Logger    string    `gorm:"column:logger;size:100" json:"logger"`
	Message   string    `gorm:"column:message;type:text" json:"message"`
}

func (RadiusLog) TableName() string {
	return "radius_logs"
}
