package service

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/notify"
	"github.com/maheshrc27/crosspost/internal/platform"
	"github.com/maheshrc27/crosspost/internal/repository"
)

// memDB keeps posts and publications in memory. Conditional updates are
// atomic under mu, like the single row UPDATEs of the real repositories.
type memDB struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.Post
	pubs   map[int64]*models.Publication
}

func newMemDB() *memDB {
	return &memDB{posts: map[int64]*models.Post{}, pubs: map[int64]*models.Publication{}}
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func copyPost(p *models.Post) *models.Post {
	c := *p
	c.Photos = slices.Clone(p.Photos)
	c.Videos = slices.Clone(p.Videos)
	c.Platforms = slices.Clone(p.Platforms)
	return &c
}

func copyPub(p *models.Publication) *models.Publication {
	c := *p
	return &c
}

// refresh recomputes the post counters. Callers hold mu.
func (m *memDB) refresh(postID int64) {
	post, ok := m.posts[postID]
	if !ok {
		return
	}
	var list []*models.Publication
	for _, p := range m.pubs {
		if p.PostID == postID {
			list = append(list, p)
		}
	}
	c := models.Summarize(list)
	post.TotalPlatforms, post.PublishedPlatforms, post.FailedPlatforms = c.Total, c.Published, c.Failed
	post.Status = c.Status
}

func (m *memDB) pubsWhere(keep func(*models.Publication) bool) []*models.Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Publication
	for _, p := range m.pubs {
		if keep(p) {
			out = append(out, copyPub(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// post returns the stored post, for assertions.
func (m *memDB) post(id int64) *models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPost(m.posts[id])
}

func (m *memDB) pub(postID int64, name string) *models.Publication {
	for _, p := range m.pubsWhere(func(p *models.Publication) bool { return p.PostID == postID && p.Platform == name }) {
		return p
	}
	return nil
}

type memPosts struct{ *memDB }

func (r memPosts) GetByID(_ context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return copyPost(p), nil
}

func (r memPosts) Create(_ context.Context, _ *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := copyPost(post)
	c.ID = r.id()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	r.posts[c.ID] = c
	return c.ID, nil
}

func (r memPosts) ListByUserID(_ context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memPosts) UpdatePlatforms(_ context.Context, _ *sql.Tx, postID int64, platforms []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[postID]; ok {
		p.Platforms = slices.Clone(platforms)
	}
	return nil
}

func (r memPosts) CheckByUserID(_ context.Context, postID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	return ok && p.UserID == userID, nil
}

func (r memPosts) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	for pid, p := range r.pubs {
		if p.PostID == id {
			delete(r.pubs, pid)
		}
	}
	return nil
}

type memPubs struct{ *memDB }

func (r memPubs) Sync(_ context.Context, _ *sql.Tx, post *models.Post, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[post.ID]; !ok {
		return repository.ErrPostNotFound
	}
	have := map[string]bool{}
	for id, p := range r.pubs {
		if p.PostID != post.ID {
			continue
		}
		if !slices.Contains(post.Platforms, p.Platform) {
			delete(r.pubs, id)
			continue
		}
		have[p.Platform] = true
	}
	for _, name := range post.Platforms {
		if have[name] {
			continue
		}
		pub := &models.Publication{ID: r.id(), PostID: post.ID, Platform: name, Status: models.PublicationPending, UpdatedAt: time.Now()}
		if post.IsFutureScheduled(now) {
			pub.Status = models.PublicationScheduled
			t := *post.ScheduleTime
			pub.ScheduledFor = &t
		}
		r.pubs[pub.ID] = pub
	}
	r.refresh(post.ID)
	return nil
}

func (r memPubs) GetByID(_ context.Context, id int64) (*models.Publication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pubs[id]; ok {
		return copyPub(p), nil
	}
	return nil, nil
}

func (r memPubs) ListByPostID(_ context.Context, postID int64) ([]*models.Publication, error) {
	return r.pubsWhere(func(p *models.Publication) bool { return p.PostID == postID }), nil
}

func (r memPubs) ListByPostAndStatus(_ context.Context, postID int64, statuses ...string) ([]*models.Publication, error) {
	return r.pubsWhere(func(p *models.Publication) bool {
		return p.PostID == postID && slices.Contains(statuses, p.Status)
	}), nil
}

func (r memPubs) ListDueScheduled(_ context.Context, now time.Time) ([]*models.Publication, error) {
	return r.pubsWhere(func(p *models.Publication) bool { return p.IsDue(now) }), nil
}

// update applies fn to the stored row when cond holds.
func (r memPubs) update(pub *models.Publication, cond func(*models.Publication) bool, fn func(*models.Publication)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.pubs[pub.ID]
	if !ok || !cond(stored) {
		return false
	}
	fn(stored)
	stored.UpdatedAt = time.Now()
	*pub = *copyPub(stored)
	r.refresh(stored.PostID)
	return true
}

func (r memPubs) Release(_ context.Context, pub *models.Publication, now time.Time) (bool, error) {
	return r.update(pub, func(p *models.Publication) bool { return p.IsDue(now) },
		func(p *models.Publication) { p.Status = models.PublicationPending }), nil
}

func (r memPubs) Claim(_ context.Context, pub *models.Publication, from ...string) (bool, error) {
	if len(from) == 0 {
		from = models.Claimable
	}
	return r.update(pub, func(p *models.Publication) bool { return slices.Contains(from, p.Status) },
		func(p *models.Publication) { p.Status = models.PublicationPublishing }), nil
}

func (r memPubs) MarkPublished(_ context.Context, pub *models.Publication) error {
	now := time.Now()
	in := *pub
	ok := r.update(pub, func(p *models.Publication) bool { return p.Status == models.PublicationPublishing },
		func(p *models.Publication) {
			p.Status = models.PublicationPublished
			p.ExternalID, p.PlatformURL, p.ResponseData = in.ExternalID, in.PlatformURL, in.ResponseData
			p.ErrorMessage, p.ErrorKind = "", ""
			p.PublishedAt = &now
		})
	if !ok {
		return fmt.Errorf("publication %d is not publishing", pub.ID)
	}
	return nil
}

func (r memPubs) MarkFailed(_ context.Context, pub *models.Publication, countRetry bool) error {
	in := *pub
	ok := r.update(pub, func(p *models.Publication) bool { return p.Status == models.PublicationPublishing },
		func(p *models.Publication) {
			p.Status = models.PublicationFailed
			p.ErrorMessage, p.ErrorKind, p.ResponseData = in.ErrorMessage, in.ErrorKind, in.ResponseData
			if countRetry {
				p.RetryCount = min(p.RetryCount+1, models.MaxRetries)
			}
		})
	if !ok {
		return fmt.Errorf("publication %d is not publishing", pub.ID)
	}
	return nil
}

func (r memPubs) ResetForRetry(_ context.Context, pub *models.Publication) (bool, error) {
	return r.update(pub, func(p *models.Publication) bool { return p.CanRetry() },
		func(p *models.Publication) {
			p.Status = models.PublicationPending
			p.ErrorMessage, p.ErrorKind = "", ""
		}), nil
}

func (r memPubs) ListStale(_ context.Context, before time.Time) ([]*models.Publication, error) {
	return r.pubsWhere(func(p *models.Publication) bool {
		if !p.UpdatedAt.Before(before) {
			return false
		}
		return p.Status == models.PublicationPublishing ||
			(p.Status == models.PublicationPending && p.ScheduledFor != nil)
	}), nil
}

func (r memPubs) FailStale(_ context.Context, pub *models.Publication, before time.Time) (bool, error) {
	in := *pub
	return r.update(pub, func(p *models.Publication) bool {
		return p.Status == models.PublicationPublishing && p.UpdatedAt.Before(before)
	}, func(p *models.Publication) {
		p.Status = models.PublicationFailed
		p.ErrorMessage, p.ErrorKind = in.ErrorMessage, in.ErrorKind
		p.RetryCount = min(p.RetryCount+1, models.MaxRetries)
	}), nil
}

// age backdates a stored record, as if a run stopped touching it at t.
func (m *memDB) age(id int64, status string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubs[id].Status = status
	m.pubs[id].UpdatedAt = t
	m.refresh(m.pubs[id].PostID)
}

// stubAdapter answers with fn and counts calls.
type stubAdapter struct {
	name  string
	calls atomic.Int32
	fn    func(post *models.Post, cred platform.Credential) (*platform.PublishResult, error)
	ping  error
}

func (a *stubAdapter) Platform() string { return a.name }

func (a *stubAdapter) Publish(_ context.Context, post *models.Post, cred platform.Credential) (*platform.PublishResult, error) {
	n := a.calls.Add(1)
	if a.fn != nil {
		return a.fn(post, cred)
	}
	return &platform.PublishResult{
		Success:     true,
		ExternalID:  fmt.Sprintf("%s-%d-%d", a.name, post.ID, n),
		PlatformURL: "https://example.com/" + a.name,
	}, nil
}

func (a *stubAdapter) Ping(context.Context, platform.Credential) error { return a.ping }

func okAdapter(name string) *stubAdapter { return &stubAdapter{name: name} }

type credsFunc func(ctx context.Context, userID int64, name string) (platform.Credential, error)

func (f credsFunc) GetActiveCredential(ctx context.Context, userID int64, name string) (platform.Credential, error) {
	return f(ctx, userID, name)
}

func staticCreds() CredentialService {
	return credsFunc(func(_ context.Context, _ int64, name string) (platform.Credential, error) {
		return platform.Credential{AccessToken: name + "-token", AccountID: name + "-account"}, nil
	})
}

// recordingNotifier keeps every event it was sent.
type recordingNotifier struct {
	mu     sync.Mutex
	events []eventSnapshot
}

type eventSnapshot struct {
	PostID  int64
	Status  string
	Results int
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventSnapshot{PostID: event.Post.ID, Status: event.Post.Status, Results: len(event.Results)})
	return nil
}

// memAccounts is a SocialAccountRepository over a slice.
type memAccounts struct {
	mu       sync.Mutex
	accounts []*models.SocialAccount
	tokens   []tokenUpdate
	removed  []string
}

type tokenUpdate struct {
	ID        int64
	OldAccess string
	Account   models.SocialAccount
}

func (r *memAccounts) Upsert(_ context.Context, sa *models.SocialAccount) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.accounts {
		if a.UserID == sa.UserID && a.Platform == sa.Platform {
			c := *sa
			c.ID = a.ID
			r.accounts[i] = &c
			return a.ID, nil
		}
	}
	c := *sa
	c.ID = int64(len(r.accounts) + 1)
	r.accounts = append(r.accounts, &c)
	return c.ID, nil
}

func (r *memAccounts) GetActive(_ context.Context, userID int64, name string) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.UserID == userID && a.Platform == name && a.IsActive {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memAccounts) ListByUserID(_ context.Context, userID int64) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range r.accounts {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAccounts) ListByTimeInterval(_ context.Context, from, to time.Time) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range r.accounts {
		if a.IsActive && a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(to) {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAccounts) SetToken(_ context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ID == id && a.AccessToken == oldAccessToken {
			a.AccessToken, a.RefreshToken, a.TokenExpiresAt = sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt
			r.tokens = append(r.tokens, tokenUpdate{ID: id, OldAccess: oldAccessToken, Account: *sa})
			return nil
		}
	}
	return fmt.Errorf("no rows affected")
}

func (r *memAccounts) Remove(_ context.Context, userID int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, name)
	r.accounts = slices.DeleteFunc(r.accounts, func(a *models.SocialAccount) bool {
		return a.UserID == userID && a.Platform == name
	})
	return nil
}
