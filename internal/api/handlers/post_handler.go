package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PostHandler struct {
	s         service.PostService
	publisher service.PublisherService
	tasks     queue.Enqueuer
}

// NewPostHandler builds the post routes. With a nil tasks client, posts
// are published inline instead of through the queue.
func NewPostHandler(service service.PostService, publisher service.PublisherService, tasks queue.Enqueuer) *PostHandler {
	return &PostHandler{s: service, publisher: publisher, tasks: tasks}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	post, err := h.s.CreatePost(c.Context(), userID, &transfer.PostCreation{
		Title:        c.FormValue("title"),
		Body:         c.FormValue("body"),
		Platforms:    c.FormValue("platforms"),
		ScheduleTime: c.FormValue("schedule_time"),
		Photos:       form.Value["photos"],
		Videos:       form.Value["videos"]},
		form.File["files"])
	if err != nil {
		return Fail(c, err, "Unable to create post")
	}

	if post.Status == models.PostStatusScheduled {
		return c.Status(fiber.StatusCreated).JSON(post)
	}

	if h.tasks == nil {
		return h.publishInline(c, post)
	}

	if err := queue.EnqueuePublish(h.tasks, post.ID, 0); err != nil {
		slog.Error("error enqueueing post", "post_id", post.ID, "error", err)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"post":  post,
			"error": "Post saved but could not be queued for publishing",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(post)
}

// publishInline publishes a new post during the request and returns it with
// its updated status.
func (h *PostHandler) publishInline(c *fiber.Ctx, post *models.Post) error {
	if _, err := h.publisher.PublishPost(c.Context(), post.ID); err != nil {
		slog.Error("error publishing post", "post_id", post.ID, "error", err)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"post":  post,
			"error": "Post saved but could not be published",
		})
	}

	detail, err := h.s.PostInfo(c.Context(), post.ID, post.UserID)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusCreated).JSON(post)
	}
	return c.Status(fiber.StatusCreated).JSON(detail.Post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	posts, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		return Fail(c, err, "Unable to list posts")
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, ok := ParamID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid post id"})
	}

	post, err := h.s.PostInfo(c.Context(), postID, GetUserID(c))
	if err != nil {
		return Fail(c, err, "Unable to get post")
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) UpdatePlatforms(c *fiber.Ctx) error {
	postID, ok := ParamID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid post id"})
	}

	var req transfer.PlatformsUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	post, err := h.s.UpdatePlatforms(c.Context(), GetUserID(c), postID, req.Platforms)
	if err != nil {
		return Fail(c, err, "Unable to update platforms")
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	postID, ok := ParamID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid post id"})
	}

	if err := h.s.Remove(c.Context(), GetUserID(c), postID); err != nil {
		return Fail(c, err, "Unable to remove post")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PublishPost publishes the pending records now. With ?async=true the work
// goes to the queue and 202 is returned.
func (h *PostHandler) PublishPost(c *fiber.Ctx) error {
	return h.run(c, h.publisher.PublishPost, func(tasks queue.Enqueuer, postID int64) error {
		return queue.EnqueuePublish(tasks, postID, 0)
	})
}

func (h *PostHandler) RetryPost(c *fiber.Ctx) error {
	return h.run(c, h.publisher.RetryFailedPublications, queue.EnqueueRetry)
}

type publishFunc func(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error)

func (h *PostHandler) run(c *fiber.Ctx, publish publishFunc, enqueue func(queue.Enqueuer, int64) error) error {
	postID, ok := ParamID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid post id"})
	}
	if _, err := h.s.PostInfo(c.Context(), postID, GetUserID(c)); err != nil {
		return Fail(c, err, "Unable to get post")
	}

	if c.QueryBool("async") && h.tasks != nil {
		if err := enqueue(h.tasks, postID); err != nil {
			return Fail(c, err, "Unable to queue post")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"post_id": postID, "status": "queued"})
	}

	results, err := publish(c.Context(), postID)
	if err != nil {
		return Fail(c, err, "Unable to publish post")
	}

	detail, err := h.s.PostInfo(c.Context(), postID, GetUserID(c))
	if err != nil {
		return Fail(c, err, "Unable to get post")
	}
	return c.Status(fiber.StatusOK).JSON(transfer.PublishResponse{
		PostID:  postID,
		Status:  detail.Status,
		Results: results,
	})
}
