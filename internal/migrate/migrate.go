// Package migrate moves a cohort of IP allocations from one pool/profile
// pairing to another, with progress reporting and journal-backed rollback.
package migrate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/nimda/radsync/internal/store"
	"github.com/nimda/radsync/pkg/utils"
)

// Migrator runs pool migrations against the billing datastore. The worker
// loop is synchronous; dispatching it onto a background job is the
// caller's concern.
type Migrator struct {
	jobs     store.JobStore
	pools    store.PoolStore
	profiles store.ProfileStore
}

// New builds a Migrator.
func New(jobs store.JobStore, pools store.PoolStore, profiles store.ProfileStore) *Migrator {
	return &Migrator{jobs: jobs, pools: pools, profiles: profiles}
}

// Validation is the outcome of a pre-flight check. Warnings do not block
// the migration.
type Validation struct {
	Allocations int
	Capacity    int
	Warnings    []string
}

// Validate checks a proposed migration without mutating anything: distinct
// pools, destination capacity, and a usable target profile.
func (m *Migrator) Validate(ctx context.Context, oldPoolID, newPoolID, profileID int64) (Validation, error) {
	var v Validation

	if oldPoolID == newPoolID {
		return v, utils.NewValidationError("new_pool", "destination pool equals source pool")
	}

	if _, err := m.pools.PoolByID(ctx, oldPoolID); err != nil {
		return v, utils.NewValidationError("old_pool", fmt.Sprintf("pool %d: %v", oldPoolID, err))
	}
	newPool, err := m.pools.PoolByID(ctx, newPoolID)
	if err != nil {
		return v, utils.NewValidationError("new_pool", fmt.Sprintf("pool %d: %v", newPoolID, err))
	}

	profile, err := m.profiles.ProfileByID(ctx, profileID)
	if err != nil {
		return v, utils.NewValidationError("profile", fmt.Sprintf("profile %d: %v", profileID, err))
	}
	if profile.Disabled {
		return v, utils.NewValidationError("profile", "target profile "+profile.Name+" is disabled")
	}

	v.Allocations, err = m.pools.CountAllocations(ctx, oldPoolID)
	if err != nil {
		return v, err
	}
	used, err := m.pools.CountAllocations(ctx, newPoolID)
	if err != nil {
		return v, err
	}
	v.Capacity = newPool.Capacity() - used
	if v.Capacity < v.Allocations {
		return v, utils.NewCapacityError(v.Allocations, v.Capacity)
	}

	if remaining := v.Capacity - v.Allocations; remaining < v.Allocations/10 {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("destination pool %s will be nearly full after migration (%d addresses left)",
				newPool.Name, remaining))
	}
	return v, nil
}

// Start validates, creates the job, and runs the migration loop. Every
// allocation's previous assignment is journaled and committed before the
// allocation itself is mutated, so rollback stays possible even if the
// process dies mid-run. Returns the job id.
func (m *Migrator) Start(ctx context.Context, oldPoolID, newPoolID, profileID int64) (string, error) {
	validation, err := m.Validate(ctx, oldPoolID, newPoolID, profileID)
	if err != nil {
		return "", err
	}

	job := &store.MigrationJob{
		ID:        uuid.NewString(),
		OldPoolID: oldPoolID,
		NewPoolID: newPoolID,
		ProfileID: profileID,
		Status:    store.JobRunning,
		Total:     validation.Allocations,
	}
	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	zlog.Info().
		Str("job", job.ID).
		Int64("old_pool", oldPoolID).
		Int64("new_pool", newPoolID).
		Int("allocations", job.Total).
		Msg("Starting pool migration")

	allocs, err := m.pools.AllocationsByPool(ctx, oldPoolID)
	if err != nil {
		return job.ID, m.fail(ctx, job.ID, err)
	}

	for i, alloc := range allocs {
		// Cancellation is observed between allocations, never mid-step.
		current, err := m.jobs.GetJob(ctx, job.ID)
		if err != nil {
			return job.ID, m.fail(ctx, job.ID, err)
		}
		if current.Status == store.JobCancelled {
			zlog.Info().
				Str("job", job.ID).
				Int("migrated", i).
				Msg("Migration cancelled")
			return job.ID, nil
		}

		entry := &store.JournalEntry{
			JobID:             job.ID,
			AllocationID:      alloc.ID,
			PreviousPoolID:    alloc.PoolID,
			PreviousProfileID: alloc.ProfileID,
			Seq:               i,
		}
		if err := m.jobs.AppendJournal(ctx, entry); err != nil {
			return job.ID, m.fail(ctx, job.ID, err)
		}
		if err := m.pools.ReassignAllocation(ctx, alloc.ID, newPoolID, profileID); err != nil {
			return job.ID, m.fail(ctx, job.ID, err)
		}
		if err := m.jobs.SetJobProgress(ctx, job.ID, i+1); err != nil {
			return job.ID, m.fail(ctx, job.ID, err)
		}
	}

	if err := m.jobs.UpdateJobStatus(ctx, job.ID, store.JobCompleted, ""); err != nil {
		return job.ID, err
	}
	zlog.Info().
		Str("job", job.ID).
		Int("migrated", len(allocs)).
		Msg("Migration completed")
	return job.ID, nil
}

func (m *Migrator) fail(ctx context.Context, jobID string, cause error) error {
	if err := m.jobs.UpdateJobStatus(ctx, jobID, store.JobFailed, cause.Error()); err != nil {
		zlog.Error().Str("job", jobID).Err(err).Msg("Failed to mark job failed")
	}
	return cause
}

// Progress is the pollable view of a job.
type Progress struct {
	Status   store.JobStatus
	Migrated int
	Total    int
	Percent  int
	Message  string
}

// GetProgress reports a job's state; safe to poll concurrently with the
// running worker.
func (m *Migrator) GetProgress(ctx context.Context, jobID string) (Progress, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{
		Status:   job.Status,
		Migrated: job.Migrated,
		Total:    job.Total,
		Message:  job.Message,
	}
	if job.Total > 0 {
		p.Percent = job.Migrated * 100 / job.Total
	} else {
		p.Percent = 100
	}
	return p, nil
}

// Cancel marks a running job cancelled; the worker loop stops before the
// next allocation. Already-migrated allocations stay moved until Rollback.
func (m *Migrator) Cancel(ctx context.Context, jobID string) error {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobRunning {
		return utils.NewValidationError("job",
			fmt.Sprintf("job %s is %s, only running jobs can be cancelled", jobID, job.Status))
	}
	return m.jobs.UpdateJobStatus(ctx, jobID, store.JobCancelled, "cancelled by operator")
}

// RollbackResult counts the journal replay outcome.
type RollbackResult struct {
	Restored int
	Failed   int
}

// Rollback replays the job's journal in reverse, restoring every journaled
// allocation to its previous pool and profile. Safe on partially-completed
// migrations, and idempotent: restored entries are consumed, so a second
// call finds an empty journal.
func (m *Migrator) Rollback(ctx context.Context, jobID string) (RollbackResult, error) {
	var result RollbackResult

	if _, err := m.jobs.GetJob(ctx, jobID); err != nil {
		return result, err
	}

	entries, err := m.jobs.JournalEntries(ctx, jobID)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if err := m.pools.ReassignAllocation(ctx, entry.AllocationID,
			entry.PreviousPoolID, entry.PreviousProfileID); err != nil {
			result.Failed++
			zlog.Error().
				Str("job", jobID).
				Int64("allocation", entry.AllocationID).
				Err(err).
				Msg("Failed to restore allocation")
			continue
		}
		if err := m.jobs.DeleteJournalEntry(ctx, entry.ID); err != nil {
			result.Failed++
			continue
		}
		result.Restored++
	}

	if result.Failed == 0 {
		if err := m.jobs.UpdateJobStatus(ctx, jobID, store.JobRolledBack, ""); err != nil {
			return result, err
		}
	}

	zlog.Info().
		Str("job", jobID).
		Int("restored", result.Restored).
		Int("failed", result.Failed).
		Msg("Migration rollback finished")
	return result, nil
}
