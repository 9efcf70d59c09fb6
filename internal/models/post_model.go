package models

import (
	"time"

	"github.com/maheshrc27/crosspost/internal/content"
)

type Post struct {
	ID                 int64            `db:"id" json:"id"`
	UserID             int64            `db:"user_id" json:"user_id"`
	Title              string           `db:"title" json:"title"`
	Body               content.Document `db:"body" json:"body"`
	Photos             []string         `db:"photos" json:"photos"`
	Videos             []string         `db:"videos" json:"videos"`
	Platforms          []string         `db:"platforms" json:"platforms"`
	ScheduleTime       *time.Time       `db:"schedule_time" json:"schedule_time,omitempty"`
	Status             string           `db:"status" json:"status"`
	TotalPlatforms     int              `db:"total_platforms" json:"total_platforms"`
	PublishedPlatforms int              `db:"published_platforms" json:"published_platforms"`
	FailedPlatforms    int              `db:"failed_platforms" json:"failed_platforms"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusDraft           = "draft"
	PostStatusProcessingMedia = "processing_media"
	PostStatusReadyToPublish  = "ready_to_publish"
	PostStatusScheduled       = "scheduled"
	PostStatusPublishing      = "publishing"
	PostStatusPublished       = "published"
	PostStatusFailed          = "failed"
)

// Text is the caption source shared by every platform.
func (p *Post) Text() string {
	return content.Caption(p.Title, p.Body)
}

func (p *Post) MediaCount() int {
	return len(p.Photos) + len(p.Videos)
}

// IsFutureScheduled reports whether the post should start out time-gated.
func (p *Post) IsFutureScheduled(now time.Time) bool {
	return p.ScheduleTime != nil && p.ScheduleTime.After(now)
}

// Counters are the aggregate columns kept on posts.
type Counters struct {
	Total     int
	Published int
	Failed    int
	Status    string
}

// Summarize derives the post counters and top level status from its
// publication records.
func Summarize(pubs []*Publication) Counters {
	c := Counters{Total: len(pubs)}
	var pending, publishing, scheduled int
	for _, p := range pubs {
		switch p.Status {
		case PublicationPublished:
			c.Published++
		case PublicationFailed:
			c.Failed++
		case PublicationPending:
			pending++
		case PublicationPublishing:
			publishing++
		case PublicationScheduled:
			scheduled++
		}
	}
	finished := c.Published + c.Failed

	switch {
	case c.Total == 0:
		c.Status = PostStatusDraft
	case publishing > 0, pending > 0 && finished > 0:
		c.Status = PostStatusPublishing
	case scheduled > 0:
		c.Status = PostStatusScheduled
	case pending > 0:
		c.Status = PostStatusReadyToPublish
	case c.Failed > 0:
		c.Status = PostStatusFailed
	default:
		c.Status = PostStatusPublished
	}
	return c
}
