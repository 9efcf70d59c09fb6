package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectLock(mock sqlmock.Sqlmock, postID int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM posts WHERE id = $1 FOR UPDATE")).
		WithArgs(postID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(postID))
}

func expectRefresh(mock sqlmock.Sqlmock, postID int64, statuses []string, want models.Counters) {
	rows := sqlmock.NewRows([]string{"status"})
	for _, s := range statuses {
		rows.AddRow(s)
	}
	mock.ExpectQuery(q("SELECT status FROM post_publications WHERE post_id = $1")).
		WithArgs(postID).
		WillReturnRows(rows)
	mock.ExpectExec(q("UPDATE posts SET total_platforms = $1")).
		WithArgs(want.Total, want.Published, want.Failed, want.Status, postID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestClaimWinsAndRefreshesCounters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, Status: models.PublicationPending}

	expectLock(mock, 10)
	mock.ExpectExec(q("UPDATE post_publications SET status = $1, updated_at = now() WHERE id = $2 AND status = ANY($3)")).
		WithArgs(models.PublicationPublishing, int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRefresh(mock, 10,
		[]string{models.PublicationPublishing, models.PublicationPending},
		models.Counters{Total: 2, Status: models.PostStatusPublishing})
	mock.ExpectCommit()

	ok, err := repo.Claim(context.Background(), pub)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.PublicationPublishing, pub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimLost(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, Status: models.PublicationPending}

	expectLock(mock, 10)
	mock.ExpectExec(q("UPDATE post_publications SET status = $1")).
		WithArgs(models.PublicationPublishing, int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectRefresh(mock, 10,
		[]string{models.PublicationPublishing},
		models.Counters{Total: 1, Status: models.PostStatusPublishing})
	mock.ExpectCommit()

	ok, err := repo.Claim(context.Background(), pub)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.PublicationPending, pub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimMissingPostRollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM posts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	ok, err := repo.Claim(context.Background(), &models.Publication{ID: 5, PostID: 10})
	assert.ErrorIs(t, err, ErrPostNotFound)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedCountsRetry(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, Status: models.PublicationPublishing,
		ErrorMessage: "boom", ErrorKind: "rejection"}

	expectLock(mock, 10)
	mock.ExpectQuery(q("UPDATE post_publications SET status = $1, error_message = $2")).
		WithArgs(models.PublicationFailed, "boom", "rejection", nil, 1, models.MaxRetries, int64(5), models.PublicationPublishing).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(1))
	expectRefresh(mock, 10,
		[]string{models.PublicationFailed, models.PublicationPublished},
		models.Counters{Total: 2, Published: 1, Failed: 1, Status: models.PostStatusFailed})
	mock.ExpectCommit()

	require.NoError(t, repo.MarkFailed(context.Background(), pub, true))
	assert.Equal(t, models.PublicationFailed, pub.Status)
	assert.Equal(t, 1, pub.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedWithoutRetryIncrement(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, RetryCount: 2, ErrorMessage: "no token", ErrorKind: "configuration"}

	expectLock(mock, 10)
	mock.ExpectQuery(q("UPDATE post_publications SET status = $1")).
		WithArgs(models.PublicationFailed, "no token", "configuration", nil, 0, models.MaxRetries, int64(5), models.PublicationPublishing).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))
	expectRefresh(mock, 10, []string{models.PublicationFailed},
		models.Counters{Total: 1, Failed: 1, Status: models.PostStatusFailed})
	mock.ExpectCommit()

	require.NoError(t, repo.MarkFailed(context.Background(), pub, false))
	assert.Equal(t, 2, pub.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPublishedRequiresOwnership(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, ExternalID: "123", PlatformURL: "https://www.facebook.com/123"}

	expectLock(mock, 10)
	mock.ExpectExec(q("UPDATE post_publications SET status = $1, external_id = NULLIF($2, '')")).
		WithArgs(models.PublicationPublished, "123", "https://www.facebook.com/123", nil, sqlmock.AnyArg(), int64(5), models.PublicationPublishing).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectRefresh(mock, 10, []string{models.PublicationPending},
		models.Counters{Total: 1, Status: models.PostStatusReadyToPublish})
	mock.ExpectCommit()

	err := repo.MarkPublished(context.Background(), pub)
	assert.ErrorContains(t, err, "not publishing")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncCreatesScheduledRecords(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)
	post := &models.Post{ID: 10, Platforms: []string{"facebook", "telegram"}, ScheduleTime: &at}

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM post_publications WHERE post_id = $1 AND NOT (platform = ANY($2))")).
		WithArgs(int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, p := range post.Platforms {
		mock.ExpectExec(q("INSERT INTO post_publications (post_id, platform, status, scheduled_for)")).
			WithArgs(int64(10), p, models.PublicationScheduled, at).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	expectRefresh(mock, 10,
		[]string{models.PublicationScheduled, models.PublicationScheduled},
		models.Counters{Total: 2, Status: models.PostStatusScheduled})
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.Sync(context.Background(), tx, post, now))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncImmediateRecordsArePending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	now := time.Now()
	past := now.Add(-time.Minute)
	post := &models.Post{ID: 3, Platforms: []string{"instagram"}, ScheduleTime: &past}

	expectLock(mock, 3)
	mock.ExpectExec(q("DELETE FROM post_publications")).
		WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO post_publications")).
		WithArgs(int64(3), "instagram", models.PublicationPending, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectRefresh(mock, 3, []string{models.PublicationPending},
		models.Counters{Total: 1, Status: models.PostStatusReadyToPublish})
	mock.ExpectCommit()

	require.NoError(t, repo.Sync(context.Background(), nil, post, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueScheduled(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	now := time.Now()
	due := now.Add(-time.Minute)

	cols := []string{"id", "post_id", "platform", "status", "external_id", "platform_url", "response_data",
		"error_message", "error_kind", "published_at", "scheduled_for", "retry_count", "created_at", "updated_at"}
	mock.ExpectQuery(q("FROM post_publications WHERE status = $1 AND scheduled_for <= $2")).
		WithArgs(models.PublicationScheduled, now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 10, "facebook", "scheduled", "", "", nil, "", "", nil, due, 0, now, now).
			AddRow(2, 10, "telegram", "scheduled", "", "", []byte(`{"ok":true}`), "", "", nil, due, 1, now, now))

	pubs, err := repo.ListDueScheduled(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, "facebook", pubs[0].Platform)
	assert.Nil(t, pubs[0].PublishedAt)
	require.NotNil(t, pubs[0].ScheduledFor)
	assert.True(t, pubs[0].IsDue(now))
	assert.JSONEq(t, `{"ok":true}`, string(pubs[1].ResponseData))
	assert.Equal(t, 1, pubs[1].RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetForRetry(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	pub := &models.Publication{ID: 5, PostID: 10, Status: models.PublicationFailed, RetryCount: 1, ErrorMessage: "x"}

	expectLock(mock, 10)
	mock.ExpectExec(q("UPDATE post_publications SET status = $1, error_message = NULL")).
		WithArgs(models.PublicationPending, int64(5), models.PublicationFailed, models.MaxRetries).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRefresh(mock, 10, []string{models.PublicationPending},
		models.Counters{Total: 1, Status: models.PostStatusReadyToPublish})
	mock.ExpectCommit()

	ok, err := repo.ResetForRetry(context.Background(), pub)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.PublicationPending, pub.Status)
	assert.Empty(t, pub.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	before := time.Now().Add(-2 * time.Hour)
	old := before.Add(-time.Minute)

	cols := []string{"id", "post_id", "platform", "status", "external_id", "platform_url", "response_data",
		"error_message", "error_kind", "published_at", "scheduled_for", "retry_count", "created_at", "updated_at"}
	mock.ExpectQuery(q("WHERE updated_at < $1 AND (status = $2 OR (status = $3 AND scheduled_for IS NOT NULL))")).
		WithArgs(before, models.PublicationPublishing, models.PublicationPending).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 10, "facebook", "publishing", "", "", nil, "", "", nil, nil, 0, old, old).
			AddRow(2, 11, "telegram", "pending", "", "", nil, "", "", nil, old, 0, old, old))

	pubs, err := repo.ListStale(context.Background(), before)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, models.PublicationPublishing, pubs[0].Status)
	assert.Equal(t, models.PublicationPending, pubs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPublicationRepository(db)
	before := time.Now().Add(-2 * time.Hour)
	pub := &models.Publication{ID: 5, PostID: 10, Status: models.PublicationPublishing, RetryCount: 1,
		ErrorMessage: "publication attempt interrupted", ErrorKind: "unknown"}

	expectLock(mock, 10)
	mock.ExpectExec(q("UPDATE post_publications SET status = $1, error_message = $2")).
		WithArgs(models.PublicationFailed, "publication attempt interrupted", "unknown", models.MaxRetries,
			int64(5), models.PublicationPublishing, before).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRefresh(mock, 10, []string{models.PublicationFailed},
		models.Counters{Total: 1, Failed: 1, Status: models.PostStatusFailed})
	mock.ExpectCommit()

	ok, err := repo.FailStale(context.Background(), pub, before)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.PublicationFailed, pub.Status)
	assert.Equal(t, 2, pub.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
