package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echovault/echovault/internal/common"
	sc "github.com/echovault/echovault/internal/server/config"
	"github.com/echovault/echovault/internal/server/models"
)

type reconcileTestEnv struct {
	rec   *Reconciler
	repo  *fakeEchoRepo
	blobs *fakeBlobStore
	cfg   *sc.Config
}

func newReconcileTestEnv(t *testing.T) *reconcileTestEnv {
	t.Helper()
	cfg := &sc.Config{}
	cfg.LoadDefaults()
	repo := newFakeEchoRepo()
	blobs := newFakeBlobStore()
	rec := NewReconciler(nil, &fakeRepoManager{repo: repo}, blobs, cfg, testLogger())
	return &reconcileTestEnv{rec: rec, repo: repo, blobs: blobs, cfg: cfg}
}

func (env *reconcileTestEnv) addEcho(t *testing.T, ownerID string, createdAt time.Time, withBlob bool) *models.Echo {
	t.Helper()
	id := uuid.NewString()
	echo := &models.Echo{
		ID:              id,
		UserID:          ownerID,
		Emotion:         models.EmotionCalm,
		BlobKey:         ownerID + "/" + id + ".webm",
		DurationSeconds: 10,
		CreatedAt:       createdAt,
	}
	require.NoError(t, env.repo.CreateIfAbsent(context.Background(), echo))
	if withBlob {
		env.blobs.put(echo.BlobKey, createdAt)
	}
	return echo
}

func TestSplitBlobKey(t *testing.T) {
	tests := []struct {
		key       string
		wantOwner string
		wantEcho  string
		wantOK    bool
	}{
		{"u1/abc.webm", "u1", "abc", true},
		{"u1/abc.tag.webm", "u1", "abc", true},
		{"noslash.webm", "", "", false},
		{"u1/nested/abc.webm", "", "", false},
		{"u1/noext", "", "", false},
		{"/abc.webm", "", "", false},
	}
	for _, tc := range tests {
		owner, echo, ok := splitBlobKey(tc.key)
		assert.Equal(t, tc.wantOK, ok, "key %q", tc.key)
		assert.Equal(t, tc.wantOwner, owner, "key %q", tc.key)
		assert.Equal(t, tc.wantEcho, echo, "key %q", tc.key)
	}
}

func TestSweep_DeletesOldOrphanBlobs(t *testing.T) {
	env := newReconcileTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	// uploaded but never committed, past the threshold
	env.blobs.put("u1/"+uuid.NewString()+".webm", old)
	// uploaded recently; the session may still be in flight
	freshKey := "u1/" + uuid.NewString() + ".webm"
	env.blobs.put(freshKey, now.Add(-time.Minute))
	// old but committed
	committed := env.addEcho(t, "u1", old, true)

	stats, err := env.rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OrphanBlobsDeleted)
	_, stillFresh := env.blobs.objects[freshKey]
	assert.True(t, stillFresh, "recent blobs must not be touched")
	_, stillCommitted := env.blobs.objects[committed.BlobKey]
	assert.True(t, stillCommitted, "committed blobs must not be touched")
}

func TestSweep_SkipsForeignObjects(t *testing.T) {
	env := newReconcileTestEnv(t)

	env.blobs.put("backup.tar.gz", time.Now().UTC().Add(-72*time.Hour))

	stats, err := env.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.OrphanBlobsDeleted)
	_, kept := env.blobs.objects["backup.tar.gz"]
	assert.True(t, kept)
}

func TestSweep_DeletesOldOrphanMetadata(t *testing.T) {
	env := newReconcileTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	// committed but the blob never arrived, past the threshold
	orphan := env.addEcho(t, "u1", old, false)
	// committed with a blob
	healthy := env.addEcho(t, "u1", old, true)
	// blobless but recent; strict commits are not possible for it yet
	recent := env.addEcho(t, "u1", now.Add(-time.Minute), false)

	stats, err := env.rec.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OrphanMetadataDeleted)

	_, err = env.repo.Get(ctx, "u1", orphan.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = env.repo.Get(ctx, "u1", healthy.ID)
	assert.NoError(t, err)
	_, err = env.repo.Get(ctx, "u1", recent.ID)
	assert.NoError(t, err)
}

func TestSweep_CountsScans(t *testing.T) {
	env := newReconcileTestEnv(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	env.addEcho(t, "u1", old, true)
	env.addEcho(t, "u2", old, true)

	stats, err := env.rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BlobsScanned)
	assert.Equal(t, 2, stats.MetadataScanned)
	assert.Equal(t, 0, stats.OrphanBlobsDeleted)
	assert.Equal(t, 0, stats.OrphanMetadataDeleted)
}

func TestSweep_BlobStoreFailureAborts(t *testing.T) {
	env := newReconcileTestEnv(t)
	env.blobs.listErr = common.ErrUnavailable

	_, err := env.rec.Sweep(context.Background())
	require.ErrorIs(t, err, common.ErrUnavailable)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	env := newReconcileTestEnv(t)
	env.cfg.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.rec.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancellation")
	}
}
