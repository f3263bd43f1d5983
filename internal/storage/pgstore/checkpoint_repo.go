package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// The checkpoint is a single row: the instant before the oldest month slice
// fully processed by the current backward crawl. Absence means "no crawl in
// progress".

func (s *Storage) LoadCheckpoint(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `SELECT resume_before FROM sync_checkpoint WHERE id = 1`).Scan(&t)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	t = t.UTC()
	return &t, nil
}

func (s *Storage) SaveCheckpoint(ctx context.Context, resumeBefore time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO sync_checkpoint (id, resume_before, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET resume_before = EXCLUDED.resume_before, updated_at = now()
`, resumeBefore.UTC())
	return errors.Wrap(err, "save checkpoint")
}

func (s *Storage) ClearCheckpoint(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sync_checkpoint WHERE id = 1`)
	return errors.Wrap(err, "clear checkpoint")
}
