package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/notify"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

const (
	serviceUnavailable = "Service not available for platform"
	attemptInterrupted = "publication attempt interrupted"

	DefaultStaleAfter = 2 * time.Hour
)

// PublisherService drives publication records through their lifecycle.
// Every attempt first claims its record, so overlapping runs never call a
// platform twice for the same record.
type PublisherService interface {
	PublishPost(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error)
	PublishScheduledPosts(ctx context.Context) (int, error)
	RetryFailedPublications(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error)
	TestConnections(ctx context.Context, userID int64) map[string]transfer.ConnectionStatus
	DueScheduled(ctx context.Context, now time.Time) ([]transfer.DuePublication, error)
}

type publisherService struct {
	posts       repository.PostRepository
	pubs        repository.PublicationRepository
	registry    *platform.Registry
	creds       CredentialService
	notifier    notify.Notifier
	concurrency int
	staleAfter  time.Duration
	now         func() time.Time
}

func NewPublisherService(
	posts repository.PostRepository,
	pubs repository.PublicationRepository,
	registry *platform.Registry,
	creds CredentialService,
	notifier notify.Notifier,
	concurrency int,
	staleAfter time.Duration) PublisherService {
	if concurrency < 1 {
		concurrency = 1
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if notifier == nil {
		notifier = notify.Nop()
	}
	return &publisherService{
		posts:       posts,
		pubs:        pubs,
		registry:    registry,
		creds:       creds,
		notifier:    notifier,
		concurrency: concurrency,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

func (s *publisherService) loadPost(ctx context.Context, postID int64) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	return post, nil
}

// PublishPost publishes every pending record of the post.
func (s *publisherService) PublishPost(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error) {
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	pending, err := s.pubs.ListByPostAndStatus(ctx, postID, models.PublicationPending)
	if err != nil {
		return nil, fmt.Errorf("list pending publications: %w", err)
	}

	results := s.process(ctx, post, pending)
	s.notify(ctx, post.ID, results)
	return results, nil
}

// PublishScheduledPosts releases due scheduled records and publishes them.
// Records a crashed run left behind are recovered first. It returns the
// number of records that reached published.
func (s *publisherService) PublishScheduledPosts(ctx context.Context) (int, error) {
	now := s.now()
	orphans := s.recoverStale(ctx, now)
	due, err := s.pubs.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due publications: %w", err)
	}
	if len(due) == 0 && len(orphans) == 0 {
		return 0, nil
	}

	var order []int64
	byPost := make(map[int64][]*models.Publication)
	for _, pub := range append(due, orphans...) {
		if _, seen := byPost[pub.PostID]; !seen {
			order = append(order, pub.PostID)
		}
		byPost[pub.PostID] = append(byPost[pub.PostID], pub)
	}

	published := 0
	for _, postID := range order {
		post, err := s.loadPost(ctx, postID)
		if errors.Is(err, ErrPostNotFound) {
			continue
		}
		if err != nil {
			slog.Error("failed to load scheduled post", "post_id", postID, "error", err)
			continue
		}

		var released []*models.Publication
		for _, pub := range byPost[postID] {
			if pub.Status == models.PublicationPending {
				released = append(released, pub)
				continue
			}
			ok, err := s.pubs.Release(ctx, pub, now)
			if err != nil {
				slog.Error("failed to release publication", "publication_id", pub.ID, "error", err)
				continue
			}
			if ok {
				released = append(released, pub)
			}
		}
		if len(released) == 0 {
			continue
		}

		results := s.process(ctx, post, released)
		for _, res := range results {
			if res.Success {
				published++
			}
		}
		s.notify(ctx, post.ID, results)
	}

	slog.Info("scheduled sweep finished", "due", len(due), "published", published)
	return published, nil
}

// recoverStale fails publishing records whose attempt outlived staleAfter
// so retry can take them, and returns released pending records that were
// never claimed.
func (s *publisherService) recoverStale(ctx context.Context, now time.Time) []*models.Publication {
	before := now.Add(-s.staleAfter)
	stale, err := s.pubs.ListStale(ctx, before)
	if err != nil {
		slog.Error("failed to list stale publications", "error", err)
		return nil
	}

	var orphans []*models.Publication
	for _, pub := range stale {
		if pub.Status == models.PublicationPending {
			orphans = append(orphans, pub)
			continue
		}
		pub.ErrorMessage = attemptInterrupted
		pub.ErrorKind = platform.KindUnknown
		ok, err := s.pubs.FailStale(ctx, pub, before)
		if err != nil {
			slog.Error("failed to recover publication", "publication_id", pub.ID, "error", err)
			continue
		}
		if ok {
			slog.Warn("recovered interrupted publication", "publication_id", pub.ID,
				"post_id", pub.PostID, "platform", pub.Platform, "retry_count", pub.RetryCount)
		}
	}
	return orphans
}

// RetryFailedPublications moves failed records with retries left back to
// pending and publishes them again.
func (s *publisherService) RetryFailedPublications(ctx context.Context, postID int64) (map[string]*platform.PublishResult, error) {
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	failed, err := s.pubs.ListByPostAndStatus(ctx, postID, models.PublicationFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed publications: %w", err)
	}

	var ready []*models.Publication
	for _, pub := range failed {
		if !pub.CanRetry() {
			slog.Info("publication has no retries left", "publication_id", pub.ID, "retry_count", pub.RetryCount)
			continue
		}
		ok, err := s.pubs.ResetForRetry(ctx, pub)
		if err != nil {
			slog.Error("failed to reset publication", "publication_id", pub.ID, "error", err)
			continue
		}
		if ok {
			ready = append(ready, pub)
		}
	}

	results := s.process(ctx, post, ready)
	if len(ready) > 0 {
		s.notify(ctx, post.ID, results)
	}
	return results, nil
}

// process runs the attempts with bounded concurrency. Records another
// worker claimed first are left out of the result.
func (s *publisherService) process(ctx context.Context, post *models.Post, pubs []*models.Publication) map[string]*platform.PublishResult {
	results := make(map[string]*platform.PublishResult, len(pubs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for _, pub := range pubs {
		wg.Add(1)
		sem <- struct{}{}
		go func(pub *models.Publication) {
			defer wg.Done()
			defer func() { <-sem }()

			res, ok := s.attempt(ctx, post, pub)
			if !ok {
				return
			}
			mu.Lock()
			results[pub.Platform] = res
			mu.Unlock()
		}(pub)
	}

	wg.Wait()
	return results
}

func (s *publisherService) attempt(ctx context.Context, post *models.Post, pub *models.Publication) (*platform.PublishResult, bool) {
	claimed, err := s.pubs.Claim(ctx, pub, models.PublicationPending)
	if err != nil {
		slog.Error("failed to claim publication", "publication_id", pub.ID, "error", err)
		return nil, false
	}
	if !claimed {
		slog.Info("publication already claimed", "publication_id", pub.ID, "platform", pub.Platform)
		return nil, false
	}

	// Once claimed the attempt runs to completion.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res, countRetry := s.dispatch(ctx, post, pub)

	if res.Success {
		pub.ExternalID = res.ExternalID
		pub.PlatformURL = res.PlatformURL
		pub.ResponseData = res.ResponseData
		if err := s.pubs.MarkPublished(ctx, pub); err != nil {
			slog.Error("failed to mark publication published", "publication_id", pub.ID, "error", err)
		}
		slog.Info("published", "post_id", post.ID, "platform", pub.Platform,
			"external_id", res.ExternalID, "duration", time.Since(start))
		return res, true
	}

	pub.ErrorMessage = res.Error()
	pub.ErrorKind = platform.Kind(res.Err)
	pub.ResponseData = res.ResponseData
	if err := s.pubs.MarkFailed(ctx, pub, countRetry); err != nil {
		slog.Error("failed to mark publication failed", "publication_id", pub.ID, "error", err)
	}
	slog.Warn("publish failed", "post_id", post.ID, "platform", pub.Platform,
		"kind", pub.ErrorKind, "error", pub.ErrorMessage, "retry_count", pub.RetryCount)
	return res, true
}

// dispatch never panics and never returns a nil result. countRetry is false
// for configuration failures.
func (s *publisherService) dispatch(ctx context.Context, post *models.Post, pub *models.Publication) (res *platform.PublishResult, countRetry bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("adapter panicked", "platform", pub.Platform, "publication_id", pub.ID, "panic", r)
			res = &platform.PublishResult{Err: fmt.Errorf("unexpected failure: %v", r)}
			countRetry = true
		}
	}()

	adapter, err := s.registry.Get(pub.Platform)
	if err != nil {
		return &platform.PublishResult{Err: &platform.ConfigurationError{Platform: pub.Platform, Reason: serviceUnavailable}}, false
	}

	cred, err := s.creds.GetActiveCredential(ctx, post.UserID, pub.Platform)
	if err != nil {
		return &platform.PublishResult{Err: err}, platform.Kind(err) != platform.KindConfiguration
	}

	res, err = adapter.Publish(ctx, post, cred)
	if err != nil {
		return &platform.PublishResult{Err: err}, platform.Kind(err) != platform.KindConfiguration
	}
	if res == nil {
		res = &platform.PublishResult{Err: errors.New("adapter returned no result")}
	}
	if !res.Success && res.Err == nil {
		res.Err = errors.New("publish failed without an error")
	}
	return res, platform.Kind(res.Err) != platform.KindConfiguration
}

func (s *publisherService) notify(ctx context.Context, postID int64, results map[string]*platform.PublishResult) {
	ctx = context.WithoutCancel(ctx)
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil || post == nil {
		slog.Warn("skipping notification, post not loaded", "post_id", postID, "error", err)
		return
	}
	pubs, err := s.pubs.ListByPostID(ctx, postID)
	if err != nil {
		slog.Warn("skipping notification, publications not loaded", "post_id", postID, "error", err)
		return
	}
	notify.Send(ctx, s.notifier, notify.NewEvent(post, pubs, results))
}

// TestConnections checks every registered platform with the credential a
// publish for userID would use.
func (s *publisherService) TestConnections(ctx context.Context, userID int64) map[string]transfer.ConnectionStatus {
	names := s.registry.Platforms()
	out := make(map[string]transfer.ConnectionStatus, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			status := s.testConnection(ctx, userID, name)
			mu.Lock()
			out[name] = status
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

func (s *publisherService) testConnection(ctx context.Context, userID int64, name string) transfer.ConnectionStatus {
	adapter, err := s.registry.Get(name)
	if err != nil {
		return transfer.ConnectionStatus{Status: "error", Error: serviceUnavailable}
	}
	cred, err := s.creds.GetActiveCredential(ctx, userID, name)
	if err != nil {
		return transfer.ConnectionStatus{Status: "error", Error: err.Error()}
	}
	source := "account"
	if cred.System {
		source = "system"
	}
	if err := adapter.Ping(ctx, cred); err != nil {
		return transfer.ConnectionStatus{Status: "error", Source: source, Error: err.Error()}
	}
	return transfer.ConnectionStatus{Status: "connected", Source: source}
}

// DueScheduled lists what a sweep at now would pick up, without touching it.
func (s *publisherService) DueScheduled(ctx context.Context, now time.Time) ([]transfer.DuePublication, error) {
	due, err := s.pubs.ListDueScheduled(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]transfer.DuePublication, 0, len(due))
	for _, pub := range due {
		item := transfer.DuePublication{ID: pub.ID, PostID: pub.PostID, Platform: pub.Platform}
		if pub.ScheduledFor != nil {
			item.ScheduledFor = *pub.ScheduledFor
		}
		out = append(out, item)
	}
	return out, nil
}
