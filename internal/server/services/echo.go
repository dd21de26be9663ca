package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/echovault/echovault/internal/common"
	"github.com/echovault/echovault/internal/logging"
	sc "github.com/echovault/echovault/internal/server/config"
	"github.com/echovault/echovault/internal/server/models"
	"github.com/echovault/echovault/internal/server/repositories/repomanager"
	"github.com/echovault/echovault/internal/server/storage/blob"
)

// timeNow is a seam for tests.
var timeNow = time.Now

const (
	minDurationSeconds  = 0.1
	maxDurationSeconds  = 300.0
	maxTags             = 10
	maxTagLength        = 50
	maxTranscriptLength = 5000
	maxMoodLength       = 100

	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateEchoParams carries the client-supplied fields of a commit. The blob
// key is intentionally absent: it is derived from the owner, the echo id and
// FileExtension, never taken from the caller.
type CreateEchoParams struct {
	EchoID          string
	Emotion         models.Emotion
	FileExtension   string
	DurationSeconds float64
	Tags            []string
	Transcript      string
	DetectedMood    string
	Location        *models.Location
}

// EchoService orchestrates commit, lookup, listing, random selection and
// deletion of echoes against the metadata store and the blob store.
//
// Consistency policy: in strict mode (Config.VerifyBlobOnCreate) a commit is
// rejected unless the blob already exists; in lenient mode (the default) the
// commit is accepted unconditionally and metadata whose blob never arrived is
// reclaimed later by the reconciliation sweep. The two stores share no
// transaction; the conditional create at the metadata store is the only
// synchronization point.
type EchoService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blob.Store
	config      *sc.Config
	logger      logging.Logger
}

func NewEchoService(db *sql.DB, m repomanager.RepositoryManager, blobs blob.Store, config *sc.Config, logger logging.Logger) *EchoService {
	return &EchoService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		config:      config,
		logger:      logger.With("module", "echo_service"),
	}
}

func validateCreateParams(p *CreateEchoParams) error {
	if _, err := uuid.Parse(p.EchoID); err != nil {
		return common.NewValidationError("echoId", "must be a UUID issued by upload initialization")
	}
	if _, ok := allowedExtensions[normalizeExtension(p.FileExtension)]; !ok {
		return common.NewValidationError("fileExtension",
			fmt.Sprintf("unsupported extension %q; supported: %s", p.FileExtension, supportedExtensions()))
	}
	if !p.Emotion.Valid() {
		return common.NewValidationError("emotion",
			fmt.Sprintf("unknown emotion %q", p.Emotion))
	}
	if p.DurationSeconds < minDurationSeconds || p.DurationSeconds > maxDurationSeconds {
		return common.NewValidationError("durationSeconds",
			fmt.Sprintf("must be between %v and %v", minDurationSeconds, maxDurationSeconds))
	}
	if len(p.Tags) > maxTags {
		return common.NewValidationError("tags",
			fmt.Sprintf("at most %d tags allowed", maxTags))
	}
	for _, tag := range p.Tags {
		if tag == "" {
			return common.NewValidationError("tags", "empty tags are not allowed")
		}
		if len(tag) > maxTagLength {
			return common.NewValidationError("tags",
				fmt.Sprintf("tag %q exceeds %d characters", tag, maxTagLength))
		}
	}
	if len(p.Transcript) > maxTranscriptLength {
		return common.NewValidationError("transcript",
			fmt.Sprintf("must not exceed %d characters", maxTranscriptLength))
	}
	if len(p.DetectedMood) > maxMoodLength {
		return common.NewValidationError("detectedMood",
			fmt.Sprintf("must not exceed %d characters", maxMoodLength))
	}
	if p.Location != nil {
		if p.Location.Lat < -90 || p.Location.Lat > 90 {
			return common.NewValidationError("location.lat", "must be between -90 and 90")
		}
		if p.Location.Lng < -180 || p.Location.Lng > 180 {
			return common.NewValidationError("location.lng", "must be between -180 and 180")
		}
	}
	return nil
}

// CreateEcho commits the metadata record for a previously uploaded blob.
// Duplicate commits for the same echo id are resolved by the store's
// conditional create: exactly one caller wins, the rest get ErrConflict.
// A commit whose upload session has already expired by wall clock is still
// accepted; the server does not track session state.
func (s *EchoService) CreateEcho(ctx context.Context, ownerID string, p CreateEchoParams) (*models.Echo, error) {
	if ownerID == "" {
		return nil, common.NewValidationError("ownerId", "must not be empty")
	}
	if err := validateCreateParams(&p); err != nil {
		return nil, err
	}

	key := blobKey(ownerID, p.EchoID, normalizeExtension(p.FileExtension))

	if s.config.VerifyBlobOnCreate {
		exists, err := s.blobs.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("verify blob: %w", err)
		}
		if !exists {
			return nil, common.NewValidationError("echoId",
				"no uploaded audio found for this echo; the upload may have expired")
		}
	}

	echo := &models.Echo{
		ID:              p.EchoID,
		UserID:          ownerID,
		Emotion:         p.Emotion,
		BlobKey:         key,
		DurationSeconds: p.DurationSeconds,
		Tags:            p.Tags,
		Transcript:      p.Transcript,
		DetectedMood:    p.DetectedMood,
		Location:        p.Location,
		CreatedAt:       timeNow().UTC(),
	}

	repo := s.repomanager.Echoes(s.db)
	if err := repo.CreateIfAbsent(ctx, echo); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("create echo: %w", err)
	}

	s.logger.Info(ctx, "echo committed", "owner", ownerID, "echo", echo.ID, "emotion", echo.Emotion)

	return echo, nil
}

// GetEcho returns the owner's echo. A record that is missing and a record
// that belongs to another owner produce the same ErrNotFound, so existence
// never leaks across users. A malformed id is treated the same way.
func (s *EchoService) GetEcho(ctx context.Context, ownerID, echoID string) (*models.Echo, error) {
	if _, err := uuid.Parse(echoID); err != nil {
		return nil, common.ErrNotFound
	}

	repo := s.repomanager.Echoes(s.db)
	echo, err := repo.Get(ctx, ownerID, echoID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get echo: %w", err)
	}
	return echo, nil
}

// ListEchoes returns one page of the owner's echoes, most recent first,
// optionally narrowed to a single emotion. pageSize is clamped to [1,100]
// with a default of 20; iterating pages from 1 until HasMore is false yields
// every echo exactly once.
func (s *EchoService) ListEchoes(ctx context.Context, ownerID string, emotion models.Emotion, page, pageSize int) (*models.EchoPage, error) {
	if emotion != "" && !emotion.Valid() {
		return nil, common.NewValidationError("emotion",
			fmt.Sprintf("unknown emotion %q", emotion))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	repo := s.repomanager.Echoes(s.db)

	total, err := repo.CountByOwner(ctx, ownerID, emotion)
	if err != nil {
		return nil, fmt.Errorf("count echoes: %w", err)
	}

	items, err := repo.QueryByOwner(ctx, ownerID, emotion, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list echoes: %w", err)
	}

	return &models.EchoPage{
		Echoes:     items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		HasMore:    int64(page*pageSize) < total,
	}, nil
}

// GetRandomEcho picks one of the owner's echoes, optionally narrowed to one
// emotion, without loading the full collection. When the filtered set fits in
// the configured candidate window the pick is exactly uniform; above that, a
// uniformly chosen offset selects a window of ids and the pick is uniform
// within it, which approximates global uniformity. Returns ErrNotFound when
// the set is empty.
func (s *EchoService) GetRandomEcho(ctx context.Context, ownerID string, emotion models.Emotion) (*models.Echo, error) {
	if emotion != "" && !emotion.Valid() {
		return nil, common.NewValidationError("emotion",
			fmt.Sprintf("unknown emotion %q", emotion))
	}

	repo := s.repomanager.Echoes(s.db)

	total, err := repo.CountByOwner(ctx, ownerID, emotion)
	if err != nil {
		return nil, fmt.Errorf("count echoes: %w", err)
	}
	if total == 0 {
		return nil, common.ErrNotFound
	}

	window := s.config.RandomSampleWindow
	if window <= 0 {
		window = 256
	}

	offset := 0
	if total > int64(window) {
		offset = int(rand.Int64N(total - int64(window) + 1))
	}

	ids, err := repo.SelectIDWindow(ctx, ownerID, emotion, offset, window)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	if len(ids) == 0 {
		// the set shrank between count and select
		return nil, common.ErrNotFound
	}

	echoID := ids[rand.IntN(len(ids))]

	echo, err := repo.Get(ctx, ownerID, echoID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get echo: %w", err)
	}
	return echo, nil
}

// DeleteEcho removes the owner's echo, blob first. If the blob delete fails
// the metadata record is kept so the echo stays retrievable; if the metadata
// delete fails after the blob is gone, the dangling record is flagged for
// cleanup rather than silently ignored.
func (s *EchoService) DeleteEcho(ctx context.Context, ownerID, echoID string) error {
	if _, err := uuid.Parse(echoID); err != nil {
		return common.ErrNotFound
	}

	repo := s.repomanager.Echoes(s.db)

	echo, err := repo.Get(ctx, ownerID, echoID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("get echo: %w", err)
	}

	if err := s.blobs.Delete(ctx, echo.BlobKey); err != nil {
		// metadata kept; the echo remains playable
		return fmt.Errorf("delete blob: %w", err)
	}

	if err := repo.Delete(ctx, ownerID, echoID); err != nil {
		s.logger.Warn(ctx, "dangling metadata after blob delete",
			"owner", ownerID, "echo", echoID, "key", echo.BlobKey, "error", err.Error())
		return fmt.Errorf("delete metadata: %w", err)
	}

	s.logger.Info(ctx, "echo deleted", "owner", ownerID, "echo", echoID)
	return nil
}
