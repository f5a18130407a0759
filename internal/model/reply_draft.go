package model

import (
	"time"
)

// ReplyDraft is one tone-variant candidate reply owned by a Message.
type ReplyDraft struct {
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID     string     `json:"email_id" gorm:"column:email_id;type:varchar(255);not null;index"`
	VariantNumber int        `json:"variant_number" gorm:"not null"`
	Content       string     `json:"content" gorm:"type:text;not null"`
	Tone          string     `json:"tone" gorm:"type:varchar(16);not null"`
	GeneratedAt   time.Time  `json:"generated_at"`
	Sent          bool       `json:"sent" gorm:"not null;default:false"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}

// TableName specifies the table name for ReplyDraft
func (ReplyDraft) TableName() string {
	return "responses"
}
