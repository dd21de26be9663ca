package echoes

import (
	"context"
	"time"

	"github.com/echovault/echovault/internal/server/models"
)

// Repository is the metadata-store boundary for echo records.
//
// The emotion argument on the query methods narrows results to one emotion;
// the empty value means unfiltered. All queries are scoped to a single owner
// and ordered by recency (created_at DESC, id DESC) so page iteration is
// stable even when timestamps collide.
type Repository interface {
	// CreateIfAbsent inserts the record only if no row exists for
	// (UserID, ID). A losing duplicate commit gets common.ErrConflict.
	CreateIfAbsent(ctx context.Context, echo *models.Echo) error

	// Get returns the record for (userID, echoID) or common.ErrNotFound.
	Get(ctx context.Context, userID, echoID string) (*models.Echo, error)

	// Delete removes the record for (userID, echoID); common.ErrNotFound if absent.
	Delete(ctx context.Context, userID, echoID string) error

	// QueryByOwner returns one ordered page of the owner's echoes.
	QueryByOwner(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]*models.Echo, error)

	// CountByOwner returns the size of the (optionally filtered) owner set.
	CountByOwner(ctx context.Context, userID string, emotion models.Emotion) (int64, error)

	// SelectIDWindow returns up to limit echo ids from the ordered owner set,
	// starting at offset. Used by random selection.
	SelectIDWindow(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]string, error)

	// SelectCreatedBefore returns one page of records committed before cutoff,
	// across all owners, for reconciliation sweeps.
	SelectCreatedBefore(ctx context.Context, cutoff time.Time, offset, limit int) ([]*models.Echo, error)
}
