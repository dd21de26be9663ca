// Package services implements the upload-coordination and query core:
// issuing upload sessions, committing and querying echo metadata, and the
// orphan reconciliation sweeps.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/echovault/echovault/internal/common"
	"github.com/echovault/echovault/internal/logging"
	sc "github.com/echovault/echovault/internal/server/config"
	"github.com/echovault/echovault/internal/server/models"
	"github.com/echovault/echovault/internal/server/storage/blob"
)

// allowedExtensions maps each accepted audio file extension to its canonical
// content type. The commit path accepts the same set.
var allowedExtensions = map[string]string{
	"webm": "audio/webm",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"m4a":  "audio/mp4",
	"ogg":  "audio/ogg",
}

func supportedExtensions() string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

// normalizeExtension lowercases ext and strips a leading dot.
func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// blobKey derives the object-storage key for an echo. The key is always
// rebuilt server-side from the owner and echo id; client-supplied keys are
// never trusted.
func blobKey(ownerID, echoID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", ownerID, echoID, ext)
}

// UploadCoordinator issues upload sessions: a fresh echo id plus a presigned
// URL the client PUTs the audio blob to. It is stateless; an unused session
// simply expires with its URL.
type UploadCoordinator struct {
	blobs  blob.Store
	config *sc.Config
	logger logging.Logger
}

func NewUploadCoordinator(blobs blob.Store, config *sc.Config, logger logging.Logger) *UploadCoordinator {
	return &UploadCoordinator{
		blobs:  blobs,
		config: config,
		logger: logger.With("module", "upload_coordinator"),
	}
}

// InitUpload validates the extension/content-type pair, generates a fresh
// echo id and returns the presigned upload session. Nothing is persisted;
// callers may discard unused sessions freely.
func (c *UploadCoordinator) InitUpload(ctx context.Context, ownerID, fileExtension, contentType string) (*models.UploadSession, error) {
	if ownerID == "" {
		return nil, common.NewValidationError("ownerId", "must not be empty")
	}

	ext := normalizeExtension(fileExtension)
	canonical, ok := allowedExtensions[ext]
	if !ok {
		return nil, common.NewValidationError("fileExtension",
			fmt.Sprintf("unsupported extension %q; supported: %s", fileExtension, supportedExtensions()))
	}
	if contentType != canonical {
		return nil, common.NewValidationError("contentType",
			fmt.Sprintf("content type %q does not match extension %q (expected %s)", contentType, ext, canonical))
	}

	echoID := uuid.NewString()
	key := blobKey(ownerID, echoID, ext)

	url, err := c.blobs.GenerateUploadURL(ctx, key, canonical, c.config.UploadMaxBytes, c.config.UploadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("generate upload url: %w", err)
	}

	c.logger.Info(ctx, "issued upload session", "owner", ownerID, "echo", echoID, "key", key)

	return &models.UploadSession{
		EchoID:           echoID,
		BlobKey:          key,
		UploadURL:        url,
		ExpiresInSeconds: int64(c.config.UploadURLExpiry.Seconds()),
	}, nil
}
