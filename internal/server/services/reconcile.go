package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echovault/echovault/internal/common"
	"github.com/echovault/echovault/internal/logging"
	sc "github.com/echovault/echovault/internal/server/config"
	"github.com/echovault/echovault/internal/server/repositories/repomanager"
	"github.com/echovault/echovault/internal/server/storage/blob"
)

const sweepPageSize = 500

// SweepStats summarizes one reconciliation pass.
type SweepStats struct {
	BlobsScanned          int
	OrphanBlobsDeleted    int
	MetadataScanned       int
	OrphanMetadataDeleted int
}

// Reconciler cleans up the two orphan cases the upload/commit saga can leave
// behind: blobs that were uploaded but never committed, and metadata whose
// blob never arrived (lenient commit mode). It runs outside the request path
// on a fixed interval and only touches objects older than the configured
// thresholds, so in-flight sessions are never disturbed.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blob.Store
	config      *sc.Config
	logger      logging.Logger
}

func NewReconciler(db *sql.DB, m repomanager.RepositoryManager, blobs blob.Store, config *sc.Config, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		config:      config,
		logger:      logger.With("module", "reconciler"),
	}
}

// splitBlobKey decomposes "{owner}/{echoID}.{ext}" into its parts. Objects
// with a different shape do not belong to the upload flow.
func splitBlobKey(key string) (ownerID, echoID string, ok bool) {
	ownerID, rest, found := strings.Cut(key, "/")
	if !found || ownerID == "" || strings.Contains(rest, "/") {
		return "", "", false
	}
	echoID, _, found = strings.Cut(rest, ".")
	if !found || echoID == "" {
		return "", "", false
	}
	return ownerID, echoID, true
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	r.logger.Info(ctx, "reconciler started", "interval", r.config.SweepInterval.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "reconciler stopped")
			return
		case <-ticker.C:
			stats, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error(ctx, "sweep failed", "error", err.Error())
				continue
			}
			r.logger.Info(ctx, "sweep finished",
				"blobs_scanned", stats.BlobsScanned,
				"orphan_blobs_deleted", stats.OrphanBlobsDeleted,
				"metadata_scanned", stats.MetadataScanned,
				"orphan_metadata_deleted", stats.OrphanMetadataDeleted)
		}
	}
}

// Sweep runs both reconciliation passes once.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{}

	if err := r.sweepOrphanBlobs(ctx, stats); err != nil {
		return stats, fmt.Errorf("sweep orphan blobs: %w", err)
	}
	if err := r.sweepOrphanMetadata(ctx, stats); err != nil {
		return stats, fmt.Errorf("sweep orphan metadata: %w", err)
	}
	return stats, nil
}

// sweepOrphanBlobs deletes blobs older than OrphanBlobAge that have no
// matching metadata record.
func (r *Reconciler) sweepOrphanBlobs(ctx context.Context, stats *SweepStats) error {
	repo := r.repomanager.Echoes(r.db)
	cutoff := timeNow().UTC().Add(-r.config.OrphanBlobAge)

	cursor := ""
	for {
		objects, err := r.blobs.List(ctx, "", cursor, sweepPageSize)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return nil
		}

		for _, obj := range objects {
			stats.BlobsScanned++

			if !obj.LastModified.Before(cutoff) {
				continue
			}
			ownerID, echoID, ok := splitBlobKey(obj.Key)
			if !ok {
				r.logger.Warn(ctx, "skipping foreign object", "key", obj.Key)
				continue
			}

			_, err := repo.Get(ctx, ownerID, echoID)
			if err == nil {
				continue
			}
			if !errors.Is(err, common.ErrNotFound) {
				return err
			}

			if err := r.blobs.Delete(ctx, obj.Key); err != nil {
				return err
			}
			stats.OrphanBlobsDeleted++
			r.logger.Info(ctx, "deleted orphan blob", "key", obj.Key)
		}

		cursor = objects[len(objects)-1].Key
	}
}

// sweepOrphanMetadata deletes metadata older than OrphanMetadataAge whose
// blob cannot be found.
func (r *Reconciler) sweepOrphanMetadata(ctx context.Context, stats *SweepStats) error {
	repo := r.repomanager.Echoes(r.db)
	cutoff := timeNow().UTC().Add(-r.config.OrphanMetadataAge)

	offset := 0
	for {
		page, err := repo.SelectCreatedBefore(ctx, cutoff, offset, sweepPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		kept := 0
		for _, echo := range page {
			stats.MetadataScanned++

			exists, err := r.blobs.Exists(ctx, echo.BlobKey)
			if err != nil {
				return err
			}
			if exists {
				kept++
				continue
			}

			if err := repo.Delete(ctx, echo.UserID, echo.ID); err != nil {
				return err
			}
			stats.OrphanMetadataDeleted++
			r.logger.Info(ctx, "deleted orphan metadata", "owner", echo.UserID, "echo", echo.ID)
		}

		// deletions shrink the result set, so advance only past kept rows
		offset += kept
	}
}
