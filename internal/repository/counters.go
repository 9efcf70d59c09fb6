package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/models"
)

var ErrPostNotFound = errors.New("post not found")

// lockPost serialises every mutation of one post's publications so the
// counter recompute below always sees the other writers' committed rows.
func lockPost(ctx context.Context, tx *sql.Tx, postID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPostNotFound
	}
	return err
}

func refreshCounters(ctx context.Context, tx *sql.Tx, postID int64) (models.Counters, error) {
	rows, err := tx.QueryContext(ctx, `SELECT status FROM post_publications WHERE post_id = $1`, postID)
	if err != nil {
		return models.Counters{}, fmt.Errorf("load publication statuses: %w", err)
	}
	defer rows.Close()

	var pubs []*models.Publication
	for rows.Next() {
		var p models.Publication
		if err := rows.Scan(&p.Status); err != nil {
			return models.Counters{}, err
		}
		pubs = append(pubs, &p)
	}
	if err := rows.Err(); err != nil {
		return models.Counters{}, err
	}

	c := models.Summarize(pubs)
	query := `
		UPDATE posts
		SET total_platforms = $1,
			published_platforms = $2,
			failed_platforms = $3,
			status = $4,
			updated_at = now()
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, query, c.Total, c.Published, c.Failed, c.Status, postID); err != nil {
		return models.Counters{}, fmt.Errorf("update post counters: %w", err)
	}
	return c, nil
}

// inPostTx runs fn with the post row locked and recomputes its counters
// before committing.
func inPostTx(ctx context.Context, db *sql.DB, postID int64, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockPost(ctx, tx, postID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := refreshCounters(ctx, tx, postID); err != nil {
		return err
	}
	return tx.Commit()
}
