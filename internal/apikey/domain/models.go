package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey authenticates dashboard and integration callers for one merchant.
// Only the SHA-256 hash is stored; the raw key is shown once at creation.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	MerchantID string       `gorm:"type:text;not null;index"`
	Name       string       `gorm:"type:text;not null"`
	KeyHash    string       `gorm:"type:text;not null;uniqueIndex"`
	IsActive   bool         `gorm:"not null;default:true"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

const keyPrefix = "lc_"

// GenerateAPIKey returns a new raw key and its stored hash.
func GenerateAPIKey() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = keyPrefix + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), nil
}

// HashAPIKey maps a raw key to its stored lookup hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
