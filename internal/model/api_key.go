package model

import "time"

// DefaultRateLimit is the per-window request budget of a key created without one.
const DefaultRateLimit = 100

// APIKey represents a client's API key for the control panel API.
// Only the SHA-256 digest of the secret is stored.
type APIKey struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string     `gorm:"type:varchar(255);not null" json:"name"`
	SecretHash  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Prefix      string     `gorm:"type:varchar(16)" json:"prefix"`
	Permissions []string   `gorm:"serializer:json;type:text;not null" json:"permissions"`
	RateLimit   int        `gorm:"not null" json:"rate_limit"`
	Active      bool       `gorm:"not null" json:"active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}
