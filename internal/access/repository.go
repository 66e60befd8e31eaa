package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/housekeeping/internal/platform/db"
)

const entryColumns = `id, facility, role, page_name, is_enabled, updated_at`

// PGRepository implements Store using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get fetches the entry for the triple.
func (r *PGRepository) Get(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM page_permissions
		WHERE facility = $1 AND role = $2 AND page_name = $3`,
		string(facility), string(role), NormalizePage(page))
	entry, err := scanEntry(row)
	if err != nil {
		return PermissionEntry{}, mapRowError("get entry", err)
	}
	return entry, nil
}

// GetByID fetches the entry by id.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (PermissionEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM page_permissions WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return PermissionEntry{}, mapRowError("get entry", err)
	}
	return entry, nil
}

// ListByFacility returns entries ordered guest, housekeeper, admin and by
// page name within a role.
func (r *PGRepository) ListByFacility(ctx context.Context, facility Facility) ([]PermissionEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM page_permissions
		WHERE facility = $1
		ORDER BY CASE role WHEN 'guest' THEN 0 WHEN 'housekeeper' THEN 1 WHEN 'admin' THEN 2 ELSE 3 END, page_name`,
		string(facility))
	if err != nil {
		return nil, persistenceError("list entries", err)
	}
	defer rows.Close()
	var entries []PermissionEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, persistenceError("scan entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list entries", err)
	}
	return entries, nil
}

// UpsertSeed inserts an enabled entry unless the triple already exists.
func (r *PGRepository) UpsertSeed(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error) {
	if err := validateTriple(facility, role, page); err != nil {
		return PermissionEntry{}, err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO page_permissions (id, facility, role, page_name, is_enabled, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (facility, role, page_name) DO NOTHING`,
		uuid.New(), string(facility), string(role), NormalizePage(page))
	if err != nil {
		return PermissionEntry{}, persistenceError("seed entry", err)
	}
	return r.Get(ctx, facility, role, page)
}

// SetEnabled writes the flag of a single entry.
func (r *PGRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (PermissionEntry, error) {
	row := r.pool.QueryRow(ctx, `UPDATE page_permissions SET is_enabled = $2, updated_at = NOW()
		WHERE id = $1 RETURNING `+entryColumns, id, enabled)
	entry, err := scanEntry(row)
	if err != nil {
		return PermissionEntry{}, mapRowError("set entry", err)
	}
	return entry, nil
}

// SetEnabledBulk updates the whole (facility, role) scope in one transaction.
func (r *PGRepository) SetEnabledBulk(ctx context.Context, facility Facility, role Role, enabled bool) (int, error) {
	var count int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE page_permissions SET is_enabled = $3, updated_at = NOW()
			WHERE facility = $1 AND role = $2`, string(facility), string(role), enabled)
		if err != nil {
			return err
		}
		count = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, persistenceError("bulk set", err)
	}
	return count, nil
}

func scanEntry(row pgx.Row) (PermissionEntry, error) {
	var (
		entry    PermissionEntry
		facility string
		role     string
	)
	if err := row.Scan(&entry.ID, &facility, &role, &entry.PageName, &entry.IsEnabled, &entry.UpdatedAt); err != nil {
		return PermissionEntry{}, err
	}
	entry.Facility = Facility(facility)
	entry.Role = Role(role)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func mapRowError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return persistenceError(op, err)
}

var _ Store = (*PGRepository)(nil)
