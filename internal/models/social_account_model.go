package models

import (
	"encoding/json"
	"strconv"
	"time"
)

type SocialAccount struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Platform        string          `db:"platform" json:"platform"`
	AccountID       string          `db:"account_id" json:"account_id"`
	AccountName     string          `db:"account_name" json:"account_name"`
	AccountUsername string          `db:"account_username" json:"account_username"`
	AccessToken     string          `db:"access_token" json:"-"`
	RefreshToken    string          `db:"refresh_token" json:"-"`
	TokenExpiresAt  *time.Time      `db:"token_expires_at" json:"token_expires_at,omitempty"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	Metadata        json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IsExpired is false for tokens without an expiry.
func (sa *SocialAccount) IsExpired(now time.Time) bool {
	return sa.TokenExpiresAt != nil && !sa.TokenExpiresAt.After(now)
}

func (sa *SocialAccount) IsExpiringSoon(now time.Time, minutes int) bool {
	if sa.TokenExpiresAt == nil {
		return false
	}
	return !sa.TokenExpiresAt.After(now.Add(time.Duration(minutes) * time.Minute))
}

// Meta returns a string value from the platform metadata, e.g. chat_id.
func (sa *SocialAccount) Meta(key string) string {
	if len(sa.Metadata) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(sa.Metadata, &m); err != nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
