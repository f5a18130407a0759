package model

import (
	"time"
)

// SyncAudit is the append-only record of one sync cycle.
type SyncAudit struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID           string    `json:"run_id" gorm:"type:varchar(36);index"`
	Mode            string    `json:"mode" gorm:"type:varchar(16)"`
	SyncDate        time.Time `json:"sync_date" gorm:"index"`
	EmailsFetched   int       `json:"emails_fetched"`
	EmailsProcessed int       `json:"emails_processed"`
	Errors          []string  `json:"errors" gorm:"type:text;serializer:json"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// TableName specifies the table name for SyncAudit
func (SyncAudit) TableName() string {
	return "sync_history"
}
