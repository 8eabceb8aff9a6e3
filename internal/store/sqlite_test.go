package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimda/radsync/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "radsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radsync.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestCustomerRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exists, err := db.CustomerExists(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := db.CreateCustomer(ctx, &model.Customer{
		Username: "alice",
		Password: "pw",
		Status:   model.StatusActive,
		Service:  model.ServicePPPoE,
		Package:  model.Package{ProfileName: "basic-10M", RateLimit: "10M/5M"},
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	exists, err = db.CustomerExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	// Usernames are unique.
	_, err = db.CreateCustomer(ctx, &model.Customer{
		Username: "alice", Password: "pw2",
		Status: model.StatusActive, Service: model.ServicePPPoE,
	})
	assert.Error(t, err)
}

func TestProfileUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	profile := &model.Profile{RouterID: 1, Name: "basic-10M", RateLimit: "10M/5M"}
	created, err := db.UpsertProfile(ctx, profile)
	require.NoError(t, err)
	assert.True(t, created)
	require.Positive(t, profile.ID)

	// Second upsert refreshes in place.
	profile.RateLimit = "20M/10M"
	created, err = db.UpsertProfile(ctx, profile)
	require.NoError(t, err)
	assert.False(t, created)

	loaded, err := db.ProfileByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "20M/10M", loaded.RateLimit)

	_, err = db.ProfileByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPoolAndAllocations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	poolID, err := db.CreatePool(ctx, &model.IPPool{Name: "pool-a", StartIP: "10.9.0.1", EndIP: "10.9.0.10"})
	require.NoError(t, err)

	for _, addr := range []string{"10.9.0.1", "10.9.0.2", "10.9.0.3"} {
		_, err := db.CreateAllocation(ctx, &model.Allocation{PoolID: poolID, Address: addr})
		require.NoError(t, err)
	}

	count, err := db.CountAllocations(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	exists, err := db.AllocationExists(ctx, "10.9.0.2")
	require.NoError(t, err)
	assert.True(t, exists)

	// Addresses are globally unique across pools.
	otherID, err := db.CreatePool(ctx, &model.IPPool{Name: "pool-b", StartIP: "10.9.1.1", EndIP: "10.9.1.10"})
	require.NoError(t, err)
	_, err = db.CreateAllocation(ctx, &model.Allocation{PoolID: otherID, Address: "10.9.0.2"})
	assert.Error(t, err)

	allocs, err := db.AllocationsByPool(ctx, poolID)
	require.NoError(t, err)
	require.Len(t, allocs, 3)

	require.NoError(t, db.ReassignAllocation(ctx, allocs[0].ID, otherID, 7))
	moved, err := db.AllocationsByPool(ctx, otherID)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, int64(7), moved[0].ProfileID)
}

func TestImportRunGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	active, err := db.ActiveImportExists(ctx, 1, "secrets", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, active)

	run := &ImportRun{RouterID: 1, Kind: "secrets", Day: "2026-08-28"}
	_, err = db.CreateImportRun(ctx, run)
	require.NoError(t, err)

	active, err = db.ActiveImportExists(ctx, 1, "secrets", "2026-08-28")
	require.NoError(t, err)
	assert.True(t, active)

	// Different router or day is unaffected.
	active, err = db.ActiveImportExists(ctx, 2, "secrets", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, db.UpdateImportProgress(ctx, run.ID, 10, 8, 1, 1))
	require.NoError(t, db.FinishImportRun(ctx, run.ID, "completed"))

	active, err = db.ActiveImportExists(ctx, 1, "secrets", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, active, "finished runs release the guard")
}

func TestJobAndJournal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &MigrationJob{
		ID:        "9b3c2a34-0000-4000-8000-000000000001",
		OldPoolID: 1, NewPoolID: 2, ProfileID: 3,
		Status: JobRunning, Total: 2,
	}
	require.NoError(t, db.CreateJob(ctx, job))

	for seq, allocID := range []int64{101, 102} {
		require.NoError(t, db.AppendJournal(ctx, &JournalEntry{
			JobID:          job.ID,
			AllocationID:   allocID,
			PreviousPoolID: 1,
			Seq:            seq,
		}))
	}

	require.NoError(t, db.SetJobProgress(ctx, job.ID, 2))
	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, JobCompleted, "done"))

	loaded, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.Migrated)

	entries, err := db.JournalEntries(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(102), entries[0].AllocationID, "journal replays newest-first")

	require.NoError(t, db.DeleteJournalEntry(ctx, entries[0].ID))
	entries, err = db.JournalEntries(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = db.GetJob(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}
