package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/restaurant-iam/pkg/audit"
	"github.com/platinummonkey/restaurant-iam/pkg/iam"
	"github.com/platinummonkey/restaurant-iam/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

type fakeAuditStore struct {
	data       []byte
	exportErr  error
	cleanupErr error

	exported *audit.SearchFilter
	cutoff   *time.Time
}

func (s *fakeAuditStore) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error) {
	return nil, nil
}

func (s *fakeAuditStore) Export(ctx context.Context, filter audit.SearchFilter, format audit.ExportFormat) ([]byte, error) {
	s.exported = &filter
	return s.data, s.exportErr
}

func (s *fakeAuditStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = &cutoff
	return 3, s.cleanupErr
}

type fakeUploader struct {
	err  error
	keys []string
	data [][]byte
}

func (u *fakeUploader) Key(t time.Time, name string) string {
	return t.Format("2006/01/02") + "/" + name
}

func (u *fakeUploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if u.err != nil {
		return u.err
	}
	u.keys = append(u.keys, key)
	u.data = append(u.data, data)
	return nil
}

func newArchiveJob(store audit.Store, uploader Uploader, days int) *AuditArchiveJob {
	job := NewAuditArchiveJob(store, uploader, audit.RetentionPolicy{RetentionDays: days}, nil)
	job.now = func() time.Time { return fixedNow }
	return job
}

func TestAuditArchiveJob(t *testing.T) {
	store := &fakeAuditStore{data: []byte("{\"id\":1}\n")}
	uploader := &fakeUploader{}

	require.NoError(t, newArchiveJob(store, uploader, 30).Run(context.Background()))

	cutoff := fixedNow.AddDate(0, 0, -30)
	require.NotNil(t, store.exported)
	assert.Equal(t, cutoff, *store.exported.EndTime)
	require.Len(t, uploader.keys, 1)
	assert.Equal(t, "2024/06/01/audit-before-20240502T030000Z.ndjson", uploader.keys[0])
	assert.Equal(t, store.data, uploader.data[0])
	require.NotNil(t, store.cutoff)
	assert.Equal(t, cutoff, *store.cutoff)
}

func TestAuditArchiveJob_KeepsRecordsOnFailure(t *testing.T) {
	t.Run("export", func(t *testing.T) {
		store := &fakeAuditStore{exportErr: errors.New("db down")}
		err := newArchiveJob(store, &fakeUploader{}, 30).Run(context.Background())
		assert.ErrorContains(t, err, "failed to export")
		assert.Nil(t, store.cutoff)
	})

	t.Run("upload", func(t *testing.T) {
		store := &fakeAuditStore{data: []byte("x\n")}
		err := newArchiveJob(store, &fakeUploader{err: errors.New("403")}, 30).Run(context.Background())
		assert.ErrorContains(t, err, "failed to archive")
		assert.Nil(t, store.cutoff)
	})
}

func TestAuditArchiveJob_Variants(t *testing.T) {
	t.Run("no uploader deletes without export", func(t *testing.T) {
		store := &fakeAuditStore{data: []byte("x\n")}
		require.NoError(t, newArchiveJob(store, nil, 30).Run(context.Background()))
		assert.Nil(t, store.exported)
		assert.NotNil(t, store.cutoff)
	})

	t.Run("nothing to archive", func(t *testing.T) {
		store := &fakeAuditStore{}
		uploader := &fakeUploader{}
		require.NoError(t, newArchiveJob(store, uploader, 30).Run(context.Background()))
		assert.Empty(t, uploader.keys)
		assert.NotNil(t, store.cutoff)
	})

	t.Run("retention disabled", func(t *testing.T) {
		store := &fakeAuditStore{}
		require.NoError(t, newArchiveJob(store, &fakeUploader{}, 0).Run(context.Background()))
		assert.Nil(t, store.exported)
		assert.Nil(t, store.cutoff)
	})

	t.Run("cleanup error", func(t *testing.T) {
		store := &fakeAuditStore{cleanupErr: errors.New("locked")}
		err := newArchiveJob(store, nil, 30).Run(context.Background())
		assert.ErrorContains(t, err, "failed to clean up")
	})
}

type stubExpirer struct {
	n   int
	err error
	at  time.Time
}

func (e *stubExpirer) ExpireTrials(ctx context.Context, now time.Time) (int, error) {
	e.at = now
	return e.n, e.err
}

func TestTrialExpiryJob_Errors(t *testing.T) {
	expirer := &stubExpirer{err: errors.New("boom")}
	job := NewTrialExpiryJob(expirer, nil)
	job.now = func() time.Time { return fixedNow }

	assert.ErrorContains(t, job.Run(context.Background()), "failed to expire trials")
	assert.Equal(t, fixedNow, expirer.at)
	assert.Equal(t, "trial-expiry", job.Name())
}

func TestTrialExpiryJob_LocksEndedTrials(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	restaurant := uuid.New()

	module := iam.Module{Key: "loyalty", Name: "Loyalty"}
	require.NoError(t, store.UpsertModule(ctx, &module))
	other := iam.Module{Key: "reports", Name: "Reports"}
	require.NoError(t, store.UpsertModule(ctx, &other))

	_, err := store.UpsertEntitlements(ctx, []iam.Entitlement{
		{
			RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: module.ID, Status: iam.StatusTrial,
			Metadata: map[string]interface{}{iam.TrialMetadataKey: fixedNow.Add(-time.Hour).Format(time.RFC3339)},
		},
		{
			RestaurantID: restaurant, EntityType: iam.EntityModule, EntityID: other.ID, Status: iam.StatusTrial,
			Metadata: map[string]interface{}{iam.TrialMetadataKey: fixedNow.Add(time.Hour).Format(time.RFC3339)},
		},
	})
	require.NoError(t, err)

	job := NewTrialExpiryJob(iam.NewService(store.Repositories(), nil), nil)
	job.now = func() time.Time { return fixedNow }
	require.NoError(t, job.Run(ctx))

	entitlements, err := store.ListEntitlements(ctx, restaurant)
	require.NoError(t, err)
	statuses := make(map[uuid.UUID]iam.EntitlementStatus)
	for _, e := range entitlements {
		statuses[e.EntityID] = e.Status
	}
	assert.Equal(t, iam.StatusLocked, statuses[module.ID])
	assert.Equal(t, iam.StatusTrial, statuses[other.ID])

	version, err := store.PermVersion(ctx, restaurant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}
