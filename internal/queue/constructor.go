package queue

import (
	"github.com/maheshrc27/crosspost/internal/service"
)

type Queue struct {
	publisher service.PublisherService
}

func NewQueue(publisher service.PublisherService) *Queue {
	return &Queue{
		publisher: publisher,
	}
}

const (
	TaskTypePublish = "publication:publish"
	TaskTypeRetry   = "publication:retry"
)

type PublicationPayload struct {
	PostID int64 `json:"post_id"`
}
