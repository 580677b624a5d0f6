package models

import (
	"time"
)

// Time-series snapshots recorded by the stats sampler jobs. All four tables
// are append-only; rows are written at a fixed interval.

// StatsServerActiveSessions records the server-wide active session count.
type StatsServerActiveSessions struct {
	ID             uint      `gorm:"column:id;primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	ActiveSessions int       `gorm:"column:active_sessions;default:0" json:"active_sessions"`
}

func (StatsServerActiveSessions) TableName() string {
	return "stats_server_active_sessions"
}

// StatsServerTotalTraffic records server-wide cumulative traffic.
type StatsServerTotalTraffic struct {
	ID           uint      `gorm:"column:id;primaryKey" json:"id"`
	Timestamp    time.Time `gorm:"column:timestamp;index" json:"timestamp"`
	TotalRx      int64     `gorm:"column:total_rx;default:0" json:"total_rx"`
	TotalTx      int64     `gorm:"column:total_tx;default:0" json:"total_tx"`
	TotalTraffic int64     `gorm:"column:total_traffic;default:0" json:"total_traffic"`
}

func (StatsServerTotalTraffic) TableName() string {
	return "stats_server_total_traffic"
}

// StatsUserActiveSessions records the active session count per user.
type StatsUserActiveSessions struct {
	ID             uint      `gorm:"column:id;primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"column:timestamp;index:idx_stats_user_sessions" json:"timestamp"`
	Username       string    `gorm:"column:username;size:64;index:idx_stats_user_sessions" json:"username"`
	ActiveSessions int       `gorm:"column:active_sessions;default:0" json:"active_sessions"`
}

func (StatsUserActiveSessions) TableName() string {
	return "stats_users_active_sessions"
}

// StatsUserTotalTraffic records cumulative traffic per user.
type StatsUserTotalTraffic struct {
	ID           uint      `gorm:"column:id;primaryKey" json:"id"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_stats_user_traffic" json:"timestamp"`
	Username     string    `gorm:"column:username;size:64;index:idx_stats_user_traffic" json:"username"`
	RxTraffic    int64     `gorm:"column:rx_traffic;default:0" json:"rx_traffic"`
	TxTraffic    int64     `gorm:"column:tx_traffic;default:0" json:"tx_traffic"`
	TotalTraffic int64     `gorm:"column:total_traffic;default:0" json:"total_traffic"`
}

func (StatsUserTotalTraffic) TableName() string {
	return "stats_users_total_traffic"
}
