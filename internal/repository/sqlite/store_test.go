package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atd/signal-comms/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testBatch(runAt time.Time, ids ...string) domain.PublishBatch {
	runID := domain.NewRunID(domain.DeviceTypeDetector, runAt)
	batch := domain.PublishBatch{RunID: runID, RunAt: runAt, DeviceType: domain.DeviceTypeDetector, Env: "dev"}
	for _, id := range ids {
		batch.Records = append(batch.Records, domain.Record{
			ID:         domain.RecordID(id, domain.DeviceTypeDetector, runAt),
			DeviceID:   id,
			IPAddress:  "10.2.0." + id,
			StatusCode: 1,
			StatusDesc: "online",
			Attempts:   1,
			DeviceType: string(domain.DeviceTypeDetector),
			RunID:      runID,
		})
	}
	return batch
}

func TestPersist_TwiceKeepsOneRecordPerDevice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := testBatch(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "1", "2", "3")

	_, err := store.Persist(ctx, batch)
	require.NoError(t, err)
	ack, err := store.Persist(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, 3, ack.Records)
	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := store.RecordsForRun(ctx, batch.RunID)
	require.NoError(t, err)
	assert.Equal(t, batch.Records, records)
}

func TestPersist_DistinctRunsAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)

	_, err := store.Persist(ctx, testBatch(first, "1", "2"))
	require.NoError(t, err)
	_, err = store.Persist(ctx, testBatch(first.Add(time.Hour), "1", "2"))
	require.NoError(t, err)

	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPendingBatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	older := testBatch(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), "1")
	newer := testBatch(time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC), "1", "2")

	require.NoError(t, store.SavePending(ctx, newer, errors.New("bucket unavailable")))
	require.NoError(t, store.SavePending(ctx, older, nil))
	require.NoError(t, store.SavePending(ctx, older, errors.New("again")))

	pending, err := store.PendingBatches(ctx, domain.DeviceTypeDetector)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.RunID, pending[0].RunID)
	assert.Equal(t, newer.Records, pending[1].Records)

	other, err := store.PendingBatches(ctx, domain.DeviceTypeCamera)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.DeletePending(ctx, older.RunID))
	pending, err = store.PendingBatches(ctx, domain.DeviceTypeDetector)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, newer.RunID, pending[0].RunID)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")

	store, err := New(path)
	require.NoError(t, err)
	_, err = store.Persist(context.Background(), testBatch(time.Now().UTC(), "9"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
