package model

import "time"

// Preference is a last-write-wins string value keyed by name.
type Preference struct {
	Key       string    `json:"key" gorm:"type:varchar(255);primaryKey"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Preference
func (Preference) TableName() string {
	return "user_preferences"
}
