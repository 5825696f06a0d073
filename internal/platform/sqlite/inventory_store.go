package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/store"
)

const archiveColumns = `archive_id, vault_arn, parent, name, uploaded, modified, tree_hash, size, is_dir, is_virtual`

// VirtualDirPrefix marks directory rows synthesized for parents that have
// no archive of their own.
const VirtualDirPrefix = "VIRTUAL_DIR "

// InventoryStore keeps the local copy of each vault's archive list.
type InventoryStore struct {
	db     *sql.DB
	policy RetryPolicy
}

// NewInventoryStore creates an InventoryStore on db.
func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db, policy: DefaultRetryPolicy()}
}

// Replace clears the inventory of vaultARN and repopulates it with the
// records that fill passes to put, all in one transaction. Readers see
// either the old inventory or the complete new one.
func (s *InventoryStore) Replace(
	ctx context.Context,
	vaultARN string,
	at time.Time,
	fill func(put func(domain.ArchiveRecord) error) error,
) error {
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM archives WHERE vault_arn = ?`, vaultARN); err != nil {
			return fmt.Errorf("failed to clear inventory: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_meta (vault_arn, vault_name, inventory_date) VALUES (?, ?, ?)
			ON CONFLICT (vault_arn) DO UPDATE SET vault_name = excluded.vault_name, inventory_date = excluded.inventory_date`,
			vaultARN, VaultNameFromARN(vaultARN), at.UnixMilli()); err != nil {
			return fmt.Errorf("failed to update inventory date: %w", err)
		}

		put := func(rec domain.ArchiveRecord) error {
			rec.VaultARN = vaultARN
			return upsertArchive(ctx, tx, rec)
		}

		if err := fill(put); err != nil {
			return err
		}

		return fixVirtualParents(ctx, tx, vaultARN)
	})
}

// Put inserts or updates one archive and creates virtual directories for
// any of its ancestors the inventory does not know.
func (s *InventoryStore) Put(ctx context.Context, rec domain.ArchiveRecord) error {
	if rec.VaultARN == "" || rec.ArchiveID == "" {
		return fmt.Errorf("%w: archive needs vault and archive id", store.ErrInvalidEntity)
	}

	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := upsertArchive(ctx, tx, rec); err != nil {
			return err
		}
		return fixVirtualParents(ctx, tx, rec.VaultARN)
	})
}

// FindByDigest returns the non-directory archives of the vault with the
// given size and tree hash.
func (s *InventoryStore) FindByDigest(ctx context.Context, vaultARN string, size int64, treeHash string) ([]domain.ArchiveRecord, error) {
	return s.query(ctx, `
		SELECT `+archiveColumns+` FROM archives
		WHERE vault_arn = ? AND is_dir = 0 AND size = ? AND tree_hash = ?
		ORDER BY parent, name`,
		vaultARN, size, treeHash)
}

// List returns the direct children of parent, directories first.
func (s *InventoryStore) List(ctx context.Context, vaultARN, parent string) ([]domain.ArchiveRecord, error) {
	return s.query(ctx, `
		SELECT `+archiveColumns+` FROM archives
		WHERE vault_arn = ? AND parent = ?
		ORDER BY is_dir DESC, name ASC`,
		vaultARN, parent)
}

// Search matches names case-insensitively against a LIKE pattern.
func (s *InventoryStore) Search(ctx context.Context, vaultARN, pattern string) ([]domain.ArchiveRecord, error) {
	return s.query(ctx, `
		SELECT `+archiveColumns+` FROM archives
		WHERE vault_arn = ? AND name_search LIKE ? ESCAPE '\'
		ORDER BY is_dir DESC, name ASC`,
		vaultARN, strings.ToUpper(pattern))
}

// FindByPathPrefix returns every record whose full path starts with prefix,
// such as the contents of a directory tree before a download.
func (s *InventoryStore) FindByPathPrefix(ctx context.Context, vaultARN, prefix string) ([]domain.ArchiveRecord, error) {
	return s.query(ctx, `
		SELECT `+archiveColumns+` FROM archives
		WHERE vault_arn = ?1 AND substr(parent || name, 1, length(?2)) = ?2
		ORDER BY parent ASC, is_dir DESC, name ASC`,
		vaultARN, prefix)
}

// Get returns one archive.
func (s *InventoryStore) Get(ctx context.Context, vaultARN, archiveID string) (domain.ArchiveRecord, error) {
	recs, err := s.query(ctx, `
		SELECT `+archiveColumns+` FROM archives WHERE vault_arn = ? AND archive_id = ?`,
		vaultARN, archiveID)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}
	if len(recs) == 0 {
		return domain.ArchiveRecord{}, fmt.Errorf("%w: %s", store.ErrArchiveNotFound, archiveID)
	}
	return recs[0], nil
}

// Vault summarizes the stored inventory of vaultARN.
func (s *InventoryStore) Vault(ctx context.Context, vaultARN string) (domain.VaultInfo, error) {
	var (
		info   domain.VaultInfo
		millis int64
	)

	err := s.policy.retry(ctx, func() error {
		err := s.db.QueryRowContext(ctx, `
			SELECT m.vault_name, m.inventory_date,
			       (SELECT COUNT(*) FROM archives a WHERE a.vault_arn = m.vault_arn AND a.is_dir = 0),
			       (SELECT COALESCE(SUM(size), 0) FROM archives a WHERE a.vault_arn = m.vault_arn AND a.is_dir = 0)
			FROM inventory_meta m WHERE m.vault_arn = ?`, vaultARN,
		).Scan(&info.Name, &millis, &info.ArchiveCount, &info.SizeInBytes)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VaultInfo{}, fmt.Errorf("%w: %s", store.ErrVaultNotFound, vaultARN)
	}
	if err != nil {
		return domain.VaultInfo{}, fmt.Errorf("failed to read inventory of %s: %w", vaultARN, MapError(err))
	}

	info.ARN = vaultARN
	info.LastInventoryDate = time.UnixMilli(millis).UTC()
	return info, nil
}

// VaultNameFromARN returns the last path element of a vault ARN.
func VaultNameFromARN(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

func (s *InventoryStore) write(ctx context.Context, fn store.TxFn) error {
	err := s.policy.retry(ctx, func() error {
		return store.RunInTransaction(ctx, s.db, fn)
	})
	return MapError(err)
}

func (s *InventoryStore) query(ctx context.Context, query string, args ...any) ([]domain.ArchiveRecord, error) {
	var out []domain.ArchiveRecord

	err := s.policy.retry(ctx, func() error {
		out = out[:0]

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			rec, err := scanArchive(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", MapError(err))
	}

	return out, nil
}

func upsertArchive(ctx context.Context, tx store.DBTX, rec domain.ArchiveRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO archives (`+archiveColumns+`, name_search)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vault_arn, archive_id) DO UPDATE SET
			parent = excluded.parent,
			name = excluded.name,
			name_search = excluded.name_search,
			uploaded = excluded.uploaded,
			modified = excluded.modified,
			tree_hash = excluded.tree_hash,
			size = excluded.size,
			is_dir = excluded.is_dir,
			is_virtual = excluded.is_virtual`,
		rec.ArchiveID,
		rec.VaultARN,
		rec.Parent,
		rec.Name,
		toMillis(rec.Uploaded),
		toMillis(rec.Modified),
		rec.TreeHash,
		rec.Size,
		boolToInt(rec.IsDir),
		boolToInt(rec.IsVirtual),
		strings.ToUpper(rec.Name),
	)
	if err != nil {
		return fmt.Errorf("failed to store archive %s: %w", rec.ArchiveID, err)
	}
	return nil
}

// fixVirtualParents adds a virtual directory row for every parent path
// that has no directory row of its own, walking up to the root.
func fixVirtualParents(ctx context.Context, tx store.DBTX, vaultARN string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT parent FROM archives WHERE vault_arn = ? AND parent != ''`, vaultARN)
	if err != nil {
		return fmt.Errorf("failed to list parents: %w", err)
	}

	var pending []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return err
		}
		pending = append(pending, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if seen[dir] || dir == "" {
			continue
		}
		seen[dir] = true

		parent, name, _ := domain.SplitPath(dir)

		var found int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM archives WHERE vault_arn = ? AND parent = ? AND name = ?`,
			vaultARN, parent, name).Scan(&found); err != nil {
			return fmt.Errorf("failed to look up directory %s: %w", dir, err)
		}

		if found == 0 {
			id := VirtualDirPrefix + uuid.NewString()
			err := upsertArchive(ctx, tx, domain.ArchiveRecord{
				ArchiveID: id,
				VaultARN:  vaultARN,
				Parent:    parent,
				Name:      name,
				TreeHash:  id,
				IsDir:     true,
				IsVirtual: true,
			})
			if err != nil {
				return err
			}
		}

		pending = append(pending, parent)
	}

	return nil
}

func scanArchive(row rowScanner) (domain.ArchiveRecord, error) {
	var (
		rec       domain.ArchiveRecord
		uploaded  int64
		modified  int64
		isDir     int
		isVirtual int
	)

	err := row.Scan(
		&rec.ArchiveID,
		&rec.VaultARN,
		&rec.Parent,
		&rec.Name,
		&uploaded,
		&modified,
		&rec.TreeHash,
		&rec.Size,
		&isDir,
		&isVirtual,
	)
	if err != nil {
		return domain.ArchiveRecord{}, err
	}

	rec.Uploaded = fromMillis(uploaded)
	rec.Modified = fromMillis(modified)
	rec.IsDir = isDir == 1
	rec.IsVirtual = isVirtual == 1
	return rec, nil
}
