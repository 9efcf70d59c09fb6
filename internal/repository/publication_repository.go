package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost/internal/models"
)

// PublicationRepository owns the per (post, platform) publication rows.
// Every mutation locks the parent post and recomputes its counters in the
// same transaction.
type PublicationRepository interface {
	Sync(ctx context.Context, tx *sql.Tx, post *models.Post, now time.Time) error
	GetByID(ctx context.Context, id int64) (*models.Publication, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.Publication, error)
	ListByPostAndStatus(ctx context.Context, postID int64, statuses ...string) ([]*models.Publication, error)
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Publication, error)
	Release(ctx context.Context, pub *models.Publication, now time.Time) (bool, error)
	Claim(ctx context.Context, pub *models.Publication, from ...string) (bool, error)
	MarkPublished(ctx context.Context, pub *models.Publication) error
	MarkFailed(ctx context.Context, pub *models.Publication, countRetry bool) error
	ResetForRetry(ctx context.Context, pub *models.Publication) (bool, error)
	ListStale(ctx context.Context, before time.Time) ([]*models.Publication, error)
	FailStale(ctx context.Context, pub *models.Publication, before time.Time) (bool, error)
}

type publicationRepository struct {
	db *sql.DB
}

func NewPublicationRepository(db *sql.DB) PublicationRepository {
	return &publicationRepository{db: db}
}

const publicationColumns = `id, post_id, platform, status, COALESCE(external_id, ''), COALESCE(platform_url, ''),
	response_data, COALESCE(error_message, ''), COALESCE(error_kind, ''), published_at, scheduled_for,
	retry_count, created_at, updated_at`

func scanPublication(row rowScanner) (*models.Publication, error) {
	var p models.Publication
	var response []byte
	err := row.Scan(&p.ID, &p.PostID, &p.Platform, &p.Status, &p.ExternalID, &p.PlatformURL,
		&response, &p.ErrorMessage, &p.ErrorKind, &p.PublishedAt, &p.ScheduledFor,
		&p.RetryCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(response) > 0 {
		p.ResponseData = json.RawMessage(response)
	}
	return &p, nil
}

func (r *publicationRepository) list(ctx context.Context, query string, args ...any) ([]*models.Publication, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var pubs []*models.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, rows.Err()
}

// Sync makes the post's publication rows match its platform selection.
// Rows of deselected platforms are deleted, new platforms get a row that
// starts scheduled when the post has a future schedule time. Existing rows
// keep their state. tx must already hold the post row.
func (r *publicationRepository) Sync(ctx context.Context, tx *sql.Tx, post *models.Post, now time.Time) error {
	if tx == nil {
		return inPostTx(ctx, r.db, post.ID, func(tx *sql.Tx) error {
			return r.sync(ctx, tx, post, now)
		})
	}
	if err := r.sync(ctx, tx, post, now); err != nil {
		return err
	}
	_, err := refreshCounters(ctx, tx, post.ID)
	return err
}

func (r *publicationRepository) sync(ctx context.Context, tx *sql.Tx, post *models.Post, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM post_publications WHERE post_id = $1 AND NOT (platform = ANY($2))`,
		post.ID, pq.Array(post.Platforms))
	if err != nil {
		return fmt.Errorf("delete deselected publications: %w", err)
	}

	status := models.PublicationPending
	var scheduledFor *time.Time
	if post.IsFutureScheduled(now) {
		status = models.PublicationScheduled
		scheduledFor = post.ScheduleTime
	}

	insert := `
		INSERT INTO post_publications (post_id, platform, status, scheduled_for)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (post_id, platform) DO NOTHING
	`
	for _, platform := range post.Platforms {
		if _, err := tx.ExecContext(ctx, insert, post.ID, platform, status, scheduledFor); err != nil {
			return fmt.Errorf("create %s publication: %w", platform, err)
		}
	}
	return nil
}

func (r *publicationRepository) GetByID(ctx context.Context, id int64) (*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM post_publications WHERE id = $1`

	p, err := scanPublication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return p, nil
}

func (r *publicationRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.Publication, error) {
	return r.list(ctx, `SELECT `+publicationColumns+` FROM post_publications WHERE post_id = $1 ORDER BY id`, postID)
}

func (r *publicationRepository) ListByPostAndStatus(ctx context.Context, postID int64, statuses ...string) ([]*models.Publication, error) {
	return r.list(ctx,
		`SELECT `+publicationColumns+` FROM post_publications WHERE post_id = $1 AND status = ANY($2) ORDER BY id`,
		postID, pq.Array(statuses))
}

func (r *publicationRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Publication, error) {
	return r.list(ctx,
		`SELECT `+publicationColumns+` FROM post_publications
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for, id`,
		models.PublicationScheduled, now)
}

// ListStale returns rows an interrupted run left behind: publishing rows and
// released pending rows not updated since before.
func (r *publicationRepository) ListStale(ctx context.Context, before time.Time) ([]*models.Publication, error) {
	return r.list(ctx,
		`SELECT `+publicationColumns+` FROM post_publications
		WHERE updated_at < $1 AND (status = $2 OR (status = $3 AND scheduled_for IS NOT NULL))
		ORDER BY id`,
		before, models.PublicationPublishing, models.PublicationPending)
}

// FailStale marks a publishing row failed with pub's error when it has not
// been updated since before. The lost attempt counts as a retry.
func (r *publicationRepository) FailStale(ctx context.Context, pub *models.Publication, before time.Time) (bool, error) {
	query := `
		UPDATE post_publications
		SET status = $1,
			error_message = $2,
			error_kind = NULLIF($3, ''),
			retry_count = LEAST(retry_count + 1, $4),
			updated_at = now()
		WHERE id = $5 AND status = $6 AND updated_at < $7
	`
	ok, err := r.transition(ctx, pub, models.PublicationFailed, query,
		models.PublicationFailed, pub.ErrorMessage, pub.ErrorKind, models.MaxRetries,
		pub.ID, models.PublicationPublishing, before)
	if ok {
		pub.RetryCount = min(pub.RetryCount+1, models.MaxRetries)
	}
	return ok, err
}

// Release moves a due scheduled row to pending.
func (r *publicationRepository) Release(ctx context.Context, pub *models.Publication, now time.Time) (bool, error) {
	query := `
		UPDATE post_publications
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3 AND scheduled_for <= $4
	`
	return r.transition(ctx, pub, models.PublicationPending, query,
		models.PublicationPending, pub.ID, models.PublicationScheduled, now)
}

// Claim atomically moves the row to publishing when it is in one of from.
// A false result means another worker owns the attempt.
func (r *publicationRepository) Claim(ctx context.Context, pub *models.Publication, from ...string) (bool, error) {
	if len(from) == 0 {
		from = models.Claimable
	}
	query := `
		UPDATE post_publications
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`
	return r.transition(ctx, pub, models.PublicationPublishing, query,
		models.PublicationPublishing, pub.ID, pq.Array(from))
}

func (r *publicationRepository) MarkPublished(ctx context.Context, pub *models.Publication) error {
	now := time.Now()
	var response any
	if len(pub.ResponseData) > 0 {
		response = string(pub.ResponseData)
	}
	query := `
		UPDATE post_publications
		SET status = $1,
			external_id = NULLIF($2, ''),
			platform_url = NULLIF($3, ''),
			response_data = $4,
			published_at = $5,
			error_message = NULL,
			error_kind = NULL,
			updated_at = now()
		WHERE id = $6 AND status = $7
	`
	ok, err := r.transition(ctx, pub, models.PublicationPublished, query,
		models.PublicationPublished, pub.ExternalID, pub.PlatformURL, response, now,
		pub.ID, models.PublicationPublishing)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("publication %d is not publishing", pub.ID)
	}
	pub.PublishedAt = &now
	pub.ErrorMessage, pub.ErrorKind = "", ""
	return nil
}

// MarkFailed records the failure. countRetry adds one to retry_count, capped
// at the maximum.
func (r *publicationRepository) MarkFailed(ctx context.Context, pub *models.Publication, countRetry bool) error {
	increment := 0
	if countRetry {
		increment = 1
	}
	var response any
	if len(pub.ResponseData) > 0 {
		response = string(pub.ResponseData)
	}
	query := `
		UPDATE post_publications
		SET status = $1,
			error_message = $2,
			error_kind = NULLIF($3, ''),
			response_data = COALESCE($4, response_data),
			retry_count = LEAST(retry_count + $5, $6),
			updated_at = now()
		WHERE id = $7 AND status = $8
		RETURNING retry_count
	`

	return inPostTx(ctx, r.db, pub.PostID, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, query,
			models.PublicationFailed, pub.ErrorMessage, pub.ErrorKind, response,
			increment, models.MaxRetries, pub.ID, models.PublicationPublishing).Scan(&count)
		if err == sql.ErrNoRows {
			return fmt.Errorf("publication %d is not publishing", pub.ID)
		}
		if err != nil {
			slog.Info(err.Error())
			return err
		}
		pub.Status = models.PublicationFailed
		pub.RetryCount = count
		return nil
	})
}

// ResetForRetry moves a failed row with retries left back to pending and
// clears its error.
func (r *publicationRepository) ResetForRetry(ctx context.Context, pub *models.Publication) (bool, error) {
	query := `
		UPDATE post_publications
		SET status = $1, error_message = NULL, error_kind = NULL, updated_at = now()
		WHERE id = $2 AND status = $3 AND retry_count < $4
	`
	ok, err := r.transition(ctx, pub, models.PublicationPending, query,
		models.PublicationPending, pub.ID, models.PublicationFailed, models.MaxRetries)
	if ok {
		pub.ErrorMessage, pub.ErrorKind = "", ""
	}
	return ok, err
}

// transition runs a conditional single row update inside the post lock and
// sets pub.Status when a row changed.
func (r *publicationRepository) transition(ctx context.Context, pub *models.Publication, to string, query string, args ...any) (bool, error) {
	var changed bool
	err := inPostTx(ctx, r.db, pub.PostID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			slog.Info(err.Error())
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		pub.Status = to
	}
	return changed, nil
}
