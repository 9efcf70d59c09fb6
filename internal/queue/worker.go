package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/service"
)

// Mux routes both publication task types to the queue.
func (q *Queue) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublish, q.HandlePublishTask)
	mux.HandleFunc(TaskTypeRetry, q.HandleRetryTask)
	return mux
}

func (q *Queue) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decode(task)
	if err != nil {
		return err
	}
	results, err := q.publisher.PublishPost(ctx, payload.PostID)
	return q.finish(task, payload, results, err)
}

func (q *Queue) HandleRetryTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decode(task)
	if err != nil {
		return err
	}
	results, err := q.publisher.RetryFailedPublications(ctx, payload.PostID)
	return q.finish(task, payload, results, err)
}

func decode(task *asynq.Task) (PublicationPayload, error) {
	var payload PublicationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}

// finish logs the outcome. Platform failures are already recorded on the
// publication records and never fail the task.
func (q *Queue) finish(task *asynq.Task, payload PublicationPayload, results map[string]*platform.PublishResult, err error) error {
	if errors.Is(err, service.ErrPostNotFound) {
		slog.Warn("post is gone, dropping task", "type", task.Type(), "post_id", payload.PostID)
		return fmt.Errorf("post %d: %v: %w", payload.PostID, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	slog.Info("task processed", "type", task.Type(), "post_id", payload.PostID, "attempted", len(results), "failed", failed)
	return nil
}
