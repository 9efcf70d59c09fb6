// Package notify tells external systems about publication outcomes.
// Delivery is best effort: callers log errors and never roll back
// publication state because of them.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
)

const EventPostUpdated = "post.updated"

// Event is the post snapshot sent after a publish attempt.
type Event struct {
	Type         string                             `json:"event"`
	OccurredAt   time.Time                          `json:"occurred_at"`
	Post         *models.Post                       `json:"post"`
	Publications []*models.Publication              `json:"publications"`
	Results      map[string]*platform.PublishResult `json:"results,omitempty"`
}

func NewEvent(post *models.Post, pubs []*models.Publication, results map[string]*platform.PublishResult) Event {
	return Event{
		Type:         EventPostUpdated,
		OccurredAt:   time.Now().UTC(),
		Post:         post,
		Publications: pubs,
		Results:      results,
	}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type nop struct{}

func Nop() Notifier { return nop{} }

func (nop) Notify(context.Context, Event) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send delivers the event and only logs failures.
func Send(ctx context.Context, n Notifier, event Event) {
	if n == nil {
		return
	}
	postID := int64(0)
	if event.Post != nil {
		postID = event.Post.ID
	}
	if err := n.Notify(ctx, event); err != nil {
		slog.Warn("notification failed", "post_id", postID, "error", err)
	}
}
