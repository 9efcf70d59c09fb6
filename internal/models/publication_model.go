package models

import (
	"encoding/json"
	"time"
)

const (
	PublicationPending    = "pending"
	PublicationScheduled  = "scheduled"
	PublicationPublishing = "publishing"
	PublicationPublished  = "published"
	PublicationFailed     = "failed"
)

// MaxRetries bounds retry_count on a publication.
const MaxRetries = 3

type Publication struct {
	ID           int64           `db:"id" json:"id"`
	PostID       int64           `db:"post_id" json:"post_id"`
	Platform     string          `db:"platform" json:"platform"`
	Status       string          `db:"status" json:"status"`
	ExternalID   string          `db:"external_id" json:"external_id,omitempty"`
	PlatformURL  string          `db:"platform_url" json:"platform_url,omitempty"`
	ResponseData json.RawMessage `db:"response_data" json:"response_data,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	ErrorKind    string          `db:"error_kind" json:"error_kind,omitempty"`
	PublishedAt  *time.Time      `db:"published_at" json:"published_at,omitempty"`
	ScheduledFor *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (p *Publication) CanRetry() bool {
	return p.Status == PublicationFailed && p.RetryCount < MaxRetries
}

// IsDue reports whether a scheduled record may be released to pending.
func (p *Publication) IsDue(now time.Time) bool {
	return p.Status == PublicationScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now)
}

// Claimable lists the statuses a publish attempt may start from.
var Claimable = []string{PublicationPending, PublicationScheduled}
