package transfer

import (
	"encoding/json"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
)

// PostCreation is the raw form input of a new post. Body and Platforms
// are JSON encoded.
type PostCreation struct {
	Title        string
	Body         string
	Platforms    string
	ScheduleTime string
	// Media references already in storage, in addition to uploaded files.
	Photos []string
	Videos []string
}

type PlatformsUpdate struct {
	Platforms []string `json:"platforms"`
}

type PostDetail struct {
	*models.Post
	// Preview is the shared caption before per platform truncation.
	Preview      string                `json:"preview"`
	Publications []*models.Publication `json:"publications"`
}

type PublishResponse struct {
	PostID  int64                              `json:"post_id"`
	Status  string                             `json:"status"`
	Results map[string]*platform.PublishResult `json:"results"`
}

type ConnectionStatus struct {
	Status string `json:"status"`
	Source string `json:"source,omitempty"`
	Error  string `json:"error,omitempty"`
}

type DuePublication struct {
	ID           int64     `json:"id"`
	PostID       int64     `json:"post_id"`
	Platform     string    `json:"platform"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// AccountConnection carries tokens obtained by an external OAuth flow.
type AccountConnection struct {
	Platform        string          `json:"platform"`
	AccountID       string          `json:"account_id"`
	AccountName     string          `json:"account_name"`
	AccountUsername string          `json:"account_username"`
	AccessToken     string          `json:"access_token"`
	RefreshToken    string          `json:"refresh_token"`
	ExpiresIn       int             `json:"expires_in"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}
