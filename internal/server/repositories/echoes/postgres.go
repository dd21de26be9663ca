// Package echoes provides the PostgreSQL-backed repository for echo metadata:
// conditional creates, point reads, ordered paginated queries and the id
// windows used for random selection.
package echoes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/echovault/echovault/internal/common"
	"github.com/echovault/echovault/internal/dbx"
	"github.com/echovault/echovault/internal/server/models"
)

// PostgresRepository implements echo metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateIfAbsent inserts an echo row guarded by ON CONFLICT DO NOTHING on the
// (user_id, id) primary key. Zero rows affected means another commit for the
// same id already won; common.ErrConflict is returned. This is the single
// synchronization point for duplicate commits, enforced by the store itself.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, echo *models.Echo) error {
	tags, err := json.Marshal(echo.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var location any
	if echo.Location != nil {
		b, err := json.Marshal(echo.Location)
		if err != nil {
			return fmt.Errorf("marshal location: %w", err)
		}
		location = b
	}

	query := `
		INSERT INTO echoes (id, user_id, emotion, blob_key, duration_seconds, tags, transcript, detected_mood, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, id) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query,
		echo.ID, echo.UserID, string(echo.Emotion), echo.BlobKey, echo.DurationSeconds,
		tags, echo.Transcript, echo.DetectedMood, location, echo.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

const echoColumns = `id, user_id, emotion, blob_key, duration_seconds, tags, transcript, detected_mood, location, created_at`

func scanEcho(row interface{ Scan(dest ...any) error }) (*models.Echo, error) {
	var (
		item     models.Echo
		emotion  string
		tags     []byte
		location []byte
	)
	if err := row.Scan(
		&item.ID, &item.UserID, &emotion, &item.BlobKey, &item.DurationSeconds,
		&tags, &item.Transcript, &item.DetectedMood, &location, &item.CreatedAt,
	); err != nil {
		return nil, err
	}
	item.Emotion = models.Emotion(emotion)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(location) > 0 {
		loc := &models.Location{}
		if err := json.Unmarshal(location, loc); err != nil {
			return nil, fmt.Errorf("unmarshal location: %w", err)
		}
		item.Location = loc
	}
	return &item, nil
}

// Get returns the echo for (userID, echoID). The owner is part of the lookup
// key, so a record belonging to someone else is indistinguishable from a
// missing one.
func (r *PostgresRepository) Get(ctx context.Context, userID, echoID string) (*models.Echo, error) {
	query := `SELECT ` + echoColumns + ` FROM echoes WHERE user_id=$1 AND id=$2`

	item, err := scanEcho(r.db.QueryRowContext(ctx, query, userID, echoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select echo: %w", err)
	}
	return item, nil
}

// Delete removes the echo row for (userID, echoID).
func (r *PostgresRepository) Delete(ctx context.Context, userID, echoID string) error {
	query := `DELETE FROM echoes WHERE user_id=$1 AND id=$2`

	res, err := r.db.ExecContext(ctx, query, userID, echoID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// QueryByOwner returns one page of the owner's echoes, most recent first.
// The emotion filter stays scoped to the owner via the composite
// (user_id, emotion, created_at) index; no cross-owner rows can surface.
func (r *PostgresRepository) QueryByOwner(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]*models.Echo, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if emotion != "" {
		query := `SELECT ` + echoColumns + ` FROM echoes
			WHERE user_id=$1 AND emotion=$2
			ORDER BY created_at DESC, id DESC
			OFFSET $3 LIMIT $4`
		rows, err = r.db.QueryContext(ctx, query, userID, string(emotion), offset, limit)
	} else {
		query := `SELECT ` + echoColumns + ` FROM echoes
			WHERE user_id=$1
			ORDER BY created_at DESC, id DESC
			OFFSET $2 LIMIT $3`
		rows, err = r.db.QueryContext(ctx, query, userID, offset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select echoes: %w", err)
	}
	defer rows.Close()

	var result []*models.Echo
	for rows.Next() {
		item, err := scanEcho(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountByOwner returns the total number of the owner's echoes, optionally
// narrowed to one emotion.
func (r *PostgresRepository) CountByOwner(ctx context.Context, userID string, emotion models.Emotion) (int64, error) {
	var (
		count int64
		err   error
	)
	if emotion != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM echoes WHERE user_id=$1 AND emotion=$2`,
			userID, string(emotion)).Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM echoes WHERE user_id=$1`,
			userID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count echoes: %w", err)
	}
	return count, nil
}

// SelectIDWindow returns up to limit ids from the ordered owner set starting
// at offset. Only ids travel over the wire, so sampling windows stay cheap
// even for large collections.
func (r *PostgresRepository) SelectIDWindow(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if emotion != "" {
		query := `SELECT id FROM echoes
			WHERE user_id=$1 AND emotion=$2
			ORDER BY created_at DESC, id DESC
			OFFSET $3 LIMIT $4`
		rows, err = r.db.QueryContext(ctx, query, userID, string(emotion), offset, limit)
	} else {
		query := `SELECT id FROM echoes
			WHERE user_id=$1
			ORDER BY created_at DESC, id DESC
			OFFSET $2 LIMIT $3`
		rows, err = r.db.QueryContext(ctx, query, userID, offset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select echo ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SelectCreatedBefore returns one page of echoes committed before cutoff,
// oldest first, across all owners. The reconciliation sweeper walks these
// pages to find metadata whose blob never arrived.
func (r *PostgresRepository) SelectCreatedBefore(ctx context.Context, cutoff time.Time, offset, limit int) ([]*models.Echo, error) {
	query := `SELECT ` + echoColumns + ` FROM echoes
		WHERE created_at < $1
		ORDER BY created_at ASC, id ASC
		OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, cutoff, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select echoes: %w", err)
	}
	defer rows.Close()

	var result []*models.Echo
	for rows.Next() {
		item, err := scanEcho(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
