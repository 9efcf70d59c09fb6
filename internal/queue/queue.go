package queue

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of *asynq.Client the producers need.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueuePublish schedules publishing of the post's pending records.
func EnqueuePublish(client Enqueuer, postID int64, delay time.Duration) error {
	return enqueue(client, TaskTypePublish, postID, asynq.ProcessIn(delay), asynq.MaxRetry(3))
}

// EnqueueRetry schedules a retry of the post's failed records. The
// orchestrator keeps its own retry budget, so asynq never retries it.
func EnqueueRetry(client Enqueuer, postID int64) error {
	return enqueue(client, TaskTypeRetry, postID, asynq.MaxRetry(0))
}

func enqueue(client Enqueuer, taskType string, postID int64, opts ...asynq.Option) error {
	taskPayload, err := json.Marshal(PublicationPayload{PostID: postID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskType, taskPayload)

	info, err := client.Enqueue(task, opts...)
	if err != nil {
		return err
	}

	slog.Info("task enqueued", "type", taskType, "post_id", postID, "task_id", info.ID)
	return nil
}
