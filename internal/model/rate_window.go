package model

// RateWindow is the fixed-window request counter of a single API key.
// There is at most one row per key; a new window overwrites the previous one.
type RateWindow struct {
	KeyID        string `gorm:"type:varchar(36);primaryKey" json:"key_id"`
	WindowStart  int64  `gorm:"not null;index" json:"window_start"`
	RequestCount int    `gorm:"not null" json:"count"`
}
