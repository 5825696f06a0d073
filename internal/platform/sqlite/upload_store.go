package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phrazzld/coldstore/internal/store"
)

// UploadStore records which parts of a multipart upload have been sent.
// The (upload_id, part_index) pair is unique, so a part reported twice is
// counted once.
type UploadStore struct {
	db     *sql.DB
	policy RetryPolicy
}

// NewUploadStore creates an UploadStore on db.
func NewUploadStore(db *sql.DB) *UploadStore {
	return &UploadStore{db: db, policy: DefaultRetryPolicy()}
}

// Record marks part of uploadID as uploaded and returns the number of
// distinct parts now recorded. inserted is true only for the call that
// actually added the pair; the caller that sees inserted && count == total
// is the one that finalizes the upload.
func (s *UploadStore) Record(ctx context.Context, uploadID string, part int) (count int, inserted bool, err error) {
	err = s.policy.retry(ctx, func() error {
		return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO uploads (upload_id, part_index, recorded) VALUES (?, ?, ?)`,
				uploadID, part, time.Now().UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to record part %d of %s: %w", part, uploadID, err)
			}

			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			inserted = n == 1

			return tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM uploads WHERE upload_id = ?`, uploadID).Scan(&count)
		})
	})
	if err != nil {
		return 0, false, MapError(err)
	}

	return count, inserted, nil
}

// Count returns the number of distinct parts recorded for uploadID.
func (s *UploadStore) Count(ctx context.Context, uploadID string) (int, error) {
	var count int
	err := s.policy.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM uploads WHERE upload_id = ?`, uploadID).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count parts of %s: %w", uploadID, MapError(err))
	}
	return count, nil
}

// Forget removes every record of uploadID.
func (s *UploadStore) Forget(ctx context.Context, uploadID string) error {
	return s.exec(ctx, `DELETE FROM uploads WHERE upload_id = ?`, uploadID)
}

// Release removes the record of one part so that a later Record of the same
// part counts as new again.
func (s *UploadStore) Release(ctx context.Context, uploadID string, part int) error {
	return s.exec(ctx, `DELETE FROM uploads WHERE upload_id = ? AND part_index = ?`, uploadID, part)
}

func (s *UploadStore) exec(ctx context.Context, query string, args ...any) error {
	err := s.policy.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update upload records: %w", MapError(err))
	}
	return nil
}
