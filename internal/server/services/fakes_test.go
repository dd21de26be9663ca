package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/echovault/echovault/internal/common"
	"github.com/echovault/echovault/internal/dbx"
	"github.com/echovault/echovault/internal/logging"
	"github.com/echovault/echovault/internal/server/models"
	"github.com/echovault/echovault/internal/server/repositories/echoes"
	"github.com/echovault/echovault/internal/server/repositories/repomanager"
	"github.com/echovault/echovault/internal/server/storage/blob"
)

// -------- test fakes --------

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeEchoRepo struct {
	store map[string]*models.Echo

	createErr error
	getErr    error
	deleteErr error

	deleted []string
	opLog   *[]string
}

func newFakeEchoRepo() *fakeEchoRepo {
	return &fakeEchoRepo{store: make(map[string]*models.Echo)}
}

func (f *fakeEchoRepo) key(userID, echoID string) string { return userID + "/" + echoID }

func (f *fakeEchoRepo) logOp(op string) {
	if f.opLog != nil {
		*f.opLog = append(*f.opLog, op)
	}
}

func (f *fakeEchoRepo) CreateIfAbsent(ctx context.Context, echo *models.Echo) error {
	if f.createErr != nil {
		return f.createErr
	}
	k := f.key(echo.UserID, echo.ID)
	if _, exists := f.store[k]; exists {
		return common.ErrConflict
	}
	cp := *echo
	f.store[k] = &cp
	return nil
}

func (f *fakeEchoRepo) Get(ctx context.Context, userID, echoID string) (*models.Echo, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	echo, ok := f.store[f.key(userID, echoID)]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *echo
	return &cp, nil
}

func (f *fakeEchoRepo) Delete(ctx context.Context, userID, echoID string) error {
	f.logOp("metadata-delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	k := f.key(userID, echoID)
	if _, ok := f.store[k]; !ok {
		return common.ErrNotFound
	}
	delete(f.store, k)
	f.deleted = append(f.deleted, k)
	return nil
}

func (f *fakeEchoRepo) ownedSorted(userID string, emotion models.Emotion) []*models.Echo {
	var result []*models.Echo
	for _, echo := range f.store {
		if echo.UserID != userID {
			continue
		}
		if emotion != "" && echo.Emotion != emotion {
			continue
		}
		result = append(result, echo)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (f *fakeEchoRepo) QueryByOwner(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]*models.Echo, error) {
	owned := f.ownedSorted(userID, emotion)
	if offset >= len(owned) {
		return nil, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (f *fakeEchoRepo) CountByOwner(ctx context.Context, userID string, emotion models.Emotion) (int64, error) {
	return int64(len(f.ownedSorted(userID, emotion))), nil
}

func (f *fakeEchoRepo) SelectIDWindow(ctx context.Context, userID string, emotion models.Emotion, offset, limit int) ([]string, error) {
	owned := f.ownedSorted(userID, emotion)
	if offset >= len(owned) {
		return nil, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	ids := make([]string, 0, end-offset)
	for _, echo := range owned[offset:end] {
		ids = append(ids, echo.ID)
	}
	return ids, nil
}

func (f *fakeEchoRepo) SelectCreatedBefore(ctx context.Context, cutoff time.Time, offset, limit int) ([]*models.Echo, error) {
	var result []*models.Echo
	for _, echo := range f.store {
		if echo.CreatedAt.Before(cutoff) {
			result = append(result, echo)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	repo *fakeEchoRepo
}

func (m *fakeRepoManager) Echoes(db dbx.DBTX) echoes.Repository { return m.repo }

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

type fakeBlobStore struct {
	objects map[string]blob.ObjectInfo

	urlErr    error
	existsErr error
	deleteErr error
	listErr   error

	existsCalls []string
	deleted     []string
	opLog       *[]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string]blob.ObjectInfo)}
}

func (f *fakeBlobStore) put(key string, lastModified time.Time) {
	f.objects[key] = blob.ObjectInfo{Key: key, LastModified: lastModified}
}

func (f *fakeBlobStore) logOp(op string) {
	if f.opLog != nil {
		*f.opLog = append(*f.opLog, op)
	}
}

func (f *fakeBlobStore) GenerateUploadURL(ctx context.Context, key, contentType string, maxSizeBytes int64, expiry time.Duration) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://blobs.test/" + key + "?sig=test", nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	f.existsCalls = append(f.existsCalls, key)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.logOp("blob-delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobStore) List(ctx context.Context, prefix, startAfter string, limit int32) ([]blob.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if int32(len(keys)) > limit {
		keys = keys[:limit]
	}
	out := make([]blob.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.objects[k])
	}
	return out, nil
}

func (f *fakeBlobStore) Health(ctx context.Context) error { return nil }
