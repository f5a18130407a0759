package model

import (
	"time"
)

// Message is one ingested mail item with optional AI-derived enrichment.
// Importance, Category and AISummary stay nil until enrichment has run.
type Message struct {
	ID             string    `json:"id" gorm:"type:varchar(255);primaryKey"`
	ThreadID       string    `json:"thread_id" gorm:"type:varchar(255);index"`
	FromName       string    `json:"from_name" gorm:"type:varchar(255)"`
	FromAddr       string    `json:"from_addr" gorm:"type:varchar(512)"`
	ToAddr         string    `json:"to_addr" gorm:"type:text"`
	Subject        string    `json:"subject" gorm:"type:text"`
	Snippet        string    `json:"snippet" gorm:"type:text"`
	BodyText       string    `json:"body_text" gorm:"type:text"`
	BodyHTML       *string   `json:"body_html,omitempty" gorm:"type:longtext"`
	Date           time.Time `json:"date" gorm:"index"`
	Labels         []string  `json:"labels" gorm:"type:text;serializer:json"`
	HasAttachments bool      `json:"has_attachments"`
	Status         string    `json:"status" gorm:"type:varchar(16);not null;default:unread;index"`
	Importance     *string   `json:"importance,omitempty" gorm:"type:varchar(16);index"`
	Category       *string   `json:"category,omitempty" gorm:"type:varchar(32);index"`
	AISummary      *string   `json:"ai_summary,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "emails"
}

// Enriched reports whether the enrichment fields have been populated.
func (m *Message) Enriched() bool {
	return m.Importance != nil && m.Category != nil
}

// HasContent reports whether there is any text to summarize.
func (m *Message) HasContent() bool {
	return m.BodyText != "" || m.Snippet != ""
}

// MessageUpdate lists the fields of a Message that may change after ingestion.
// Nil fields are left untouched.
type MessageUpdate struct {
	Status     *string
	Importance *string
	Category   *string
	AISummary  *string
	Labels     []string
}

// MessageFilter narrows Message listings. Empty fields match everything.
type MessageFilter struct {
	Status     string
	Importance string
	Category   string
	Limit      int
	Offset     int
}
