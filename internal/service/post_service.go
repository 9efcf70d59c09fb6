package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/crosspost/internal/content"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/storage"
	"github.com/maheshrc27/crosspost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	MaxTitleLength = 255
	MaxPhotos      = 10
	MaxVideos      = 5
	MaxPhotoBytes  = 10 << 20
	MaxVideoBytes  = 500 << 20

	photoPrefix = "posts/photos"
	videoPrefix = "posts/videos"
)

// scheduleLayouts are tried in order; the second is what datetime-local
// inputs send.
var scheduleLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error)
	UpdatePlatforms(ctx context.Context, userID, postID int64, platforms []string) (*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	pub      repository.PublicationRepository
	store    storage.Storage
	registry *platform.Registry
	now      func() time.Time
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pub repository.PublicationRepository,
	store storage.Storage,
	registry *platform.Registry) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		pub:      pub,
		store:    store,
		registry: registry,
		now:      time.Now,
	}
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error) {
	if pc == nil {
		return nil, invalidInput("post", "post creation data is missing")
	}

	title := strings.TrimSpace(pc.Title)
	if title == "" {
		return nil, invalidInput("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, invalidInput("title", "title must be at most %d characters", MaxTitleLength)
	}

	platforms, err := s.parsePlatforms(pc.Platforms)
	if err != nil {
		return nil, err
	}

	scheduleTime, err := parseScheduleTime(pc.ScheduleTime)
	if err != nil {
		return nil, err
	}

	photos, err := s.checkRefs("photos", photoPrefix, pc.Photos)
	if err != nil {
		return nil, err
	}
	videos, err := s.checkRefs("videos", videoPrefix, pc.Videos)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:       userID,
		Title:        title,
		Body:         parseBody(pc.Body),
		Photos:       photos,
		Videos:       videos,
		Platforms:    platforms,
		ScheduleTime: scheduleTime,
		Status:       models.PostStatusReadyToPublish,
	}

	uploaded, err := s.processFiles(ctx, post, files)
	if err != nil {
		s.discard(ctx, uploaded)
		return nil, err
	}
	if len(post.Photos) > MaxPhotos {
		s.discard(ctx, uploaded)
		return nil, invalidInput("photos", "at most %d photos are allowed", MaxPhotos)
	}
	if len(post.Videos) > MaxVideos {
		s.discard(ctx, uploaded)
		return nil, invalidInput("videos", "at most %d videos are allowed", MaxVideos)
	}

	now := s.now()
	if post.IsFutureScheduled(now) {
		post.Status = models.PostStatusScheduled
	}

	if err := s.insert(ctx, post, now); err != nil {
		s.discard(ctx, uploaded)
		return nil, err
	}

	slog.Info("post created", "post_id", post.ID, "platforms", post.Platforms, "scheduled", post.Status == models.PostStatusScheduled)
	return s.pr.GetByID(ctx, post.ID)
}

// insert stores the post and its publication records in one transaction.
func (s *postService) insert(ctx context.Context, post *models.Post, now time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post.ID, err = s.pr.Create(ctx, tx, post)
	if err != nil {
		return fmt.Errorf("error creating post: %w", err)
	}
	if err = s.pub.Sync(ctx, tx, post, now); err != nil {
		return fmt.Errorf("error creating publications: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// checkRefs accepts previously uploaded media only: keys under the upload
// prefix, or their URLs on the store's public base. Refs are returned as keys.
func (s *postService) checkRefs(field, prefix string, refs []string) ([]string, error) {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		var key string
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			k, ok := storage.KeyFromURL(s.store, ref)
			if !ok {
				return nil, invalidInput(field, "%s is not hosted in media storage", ref)
			}
			key = k
		} else {
			k, err := storage.CleanKey(strings.TrimPrefix(strings.TrimLeft(ref, "/"), "storage/"))
			if err != nil {
				return nil, invalidInput(field, "%v", err)
			}
			key = k
		}
		if !strings.HasPrefix(key, prefix+"/") {
			return nil, invalidInput(field, "%s is not an uploaded file", ref)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *postService) parsePlatforms(raw string) ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, invalidInput("platforms", "invalid platforms format: %v", err)
	}
	return s.checkPlatforms(names)
}

func (s *postService) checkPlatforms(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		if _, err := s.registry.Get(name); err != nil {
			return nil, invalidInput("platforms", "%s is not supported", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, invalidInput("platforms", "select at least one platform")
	}
	return out, nil
}

func parseScheduleTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, invalidInput("schedule_time", "invalid schedule time %q", raw)
}

// parseBody accepts the editor's JSON document, a JSON string or raw text.
func parseBody(raw string) content.Document {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return content.Document{}
	}
	var doc content.Document
	if err := json.Unmarshal([]byte(raw), &doc); err == nil {
		return doc
	}
	return content.NewDocument(raw)
}

// processFiles uploads the files and appends their keys to the post. It
// returns the keys written so far, also on error.
func (s *postService) processFiles(ctx context.Context, post *models.Post, files []*multipart.FileHeader) ([]string, error) {
	var uploaded []string
	for _, file := range files {
		data, err := readFile(file)
		if err != nil {
			return uploaded, err
		}

		kind, err := filetype.Match(data)
		if err != nil || kind == types.Unknown {
			return uploaded, invalidInput("files", "unsupported file type for %s", file.Filename)
		}

		var prefix string
		switch {
		case filetype.IsImage(data):
			if len(data) > MaxPhotoBytes {
				return uploaded, invalidInput("photos", "%s is larger than %d MB", file.Filename, MaxPhotoBytes>>20)
			}
			prefix = photoPrefix
		case filetype.IsVideo(data):
			if len(data) > MaxVideoBytes {
				return uploaded, invalidInput("videos", "%s is larger than %d MB", file.Filename, MaxVideoBytes>>20)
			}
			prefix = videoPrefix
		default:
			return uploaded, invalidInput("files", "file type %s is not allowed", kind.Extension)
		}

		id, err := gonanoid.New()
		if err != nil {
			return uploaded, err
		}
		key := path.Join(prefix, id+"."+kind.Extension)
		if err := s.store.Write(ctx, key, data, kind.MIME.Value); err != nil {
			return uploaded, fmt.Errorf("error uploading file: %w", err)
		}
		uploaded = append(uploaded, key)

		if prefix == photoPrefix {
			post.Photos = append(post.Photos, key)
		} else {
			post.Videos = append(post.Videos, key)
		}
	}
	return uploaded, nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}
	return data, nil
}

func (s *postService) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("failed to delete uploaded media", "key", key, "error", err)
		}
	}
}

func (s *postService) owned(ctx context.Context, postID, userID int64) error {
	if userID == 0 || postID == 0 {
		return ErrPostNotFound
	}
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		return ErrPostNotFound
	}
	return nil
}

// UpdatePlatforms replaces the platform selection. Records of removed
// platforms are deleted, added platforms get fresh records.
func (s *postService) UpdatePlatforms(ctx context.Context, userID, postID int64, platforms []string) (post *models.Post, err error) {
	if err := s.owned(ctx, postID, userID); err != nil {
		return nil, err
	}
	platforms, err = s.checkPlatforms(platforms)
	if err != nil {
		return nil, err
	}

	post, err = s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	post.Platforms = platforms

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.pr.UpdatePlatforms(ctx, tx, postID, platforms); err != nil {
		return nil, fmt.Errorf("error updating platforms: %w", err)
	}
	if err = s.pub.Sync(ctx, tx, post, s.now()); err != nil {
		return nil, fmt.Errorf("error syncing publications: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.pr.GetByID(ctx, postID)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error) {
	if err := s.owned(ctx, postID, userID); err != nil {
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info: %w", err)
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	pubs, err := s.pub.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting publications: %w", err)
	}

	return &transfer.PostDetail{Post: post, Preview: post.Text(), Publications: pubs}, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts: %w", err)
	}
	return posts, nil
}

// Remove deletes the post. Records not yet claimed are never published.
func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if err := s.owned(ctx, postID, userID); err != nil {
		return err
	}
	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	return nil
}
