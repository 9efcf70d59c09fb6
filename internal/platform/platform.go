// Package platform holds one adapter per social network. Adapters turn a
// post into the platform's API calls and report a PublishResult.
package platform

import (
	"context"
	"encoding/json"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

const (
	Facebook  = "facebook"
	Instagram = "instagram"
	Telegram  = "telegram"
	YouTube   = "youtube"
)

// Credential is what an adapter needs to act on behalf of an account.
// AccountID is the page id, Instagram business user id or Telegram chat id.
type Credential struct {
	AccessToken     string
	RefreshToken    string
	ExpiresAt       *time.Time
	AccountID       string
	AccountUsername string
	// System is set when the credential came from configuration rather
	// than a connected account.
	System bool
}

type PublishResult struct {
	Success      bool            `json:"success"`
	ExternalID   string          `json:"external_id,omitempty"`
	PlatformURL  string          `json:"platform_url,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	Err          error           `json:"-"`
}

// Error is the failure message, empty on success.
func (r *PublishResult) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *PublishResult) MarshalJSON() ([]byte, error) {
	type alias PublishResult
	return json.Marshal(struct {
		*alias
		Error string `json:"error,omitempty"`
		Kind  string `json:"error_kind,omitempty"`
	}{(*alias)(r), r.Error(), Kind(r.Err)})
}

func succeeded(id, url string, response any) *PublishResult {
	res := &PublishResult{Success: true, ExternalID: id, PlatformURL: url}
	res.ResponseData = encodeResponse(response)
	return res
}

func failed(err error, response any) *PublishResult {
	return &PublishResult{Err: err, ResponseData: encodeResponse(response)}
}

func encodeResponse(v any) json.RawMessage {
	switch r := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return r
	case []byte:
		if json.Valid(r) {
			return r
		}
		b, _ := json.Marshal(string(r))
		return b
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Adapter publishes posts to one platform. Publish reports expected API
// failures through PublishResult; the returned error is reserved for
// configuration problems that make the attempt impossible.
type Adapter interface {
	Platform() string
	Publish(ctx context.Context, post *models.Post, cred Credential) (*PublishResult, error)
	Ping(ctx context.Context, cred Credential) error
}
