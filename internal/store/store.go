// Package store is the persistence boundary to the billing datastore. The
// interfaces here are what importer and migrate consume; the shipped
// implementation is sqlite, a billing application may substitute its own.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nimda/radsync/internal/model"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// JobStatus is the lifecycle state of a migration job.
type JobStatus string

const (
	JobValidating JobStatus = "validating"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRolledBack JobStatus = "rolled_back"
	JobCancelled  JobStatus = "cancelled"
)

// MigrationJob tracks one pool-to-pool migration.
type MigrationJob struct {
	ID        string // uuid
	OldPoolID int64
	NewPoolID int64
	ProfileID int64
	Status    JobStatus
	Total     int
	Migrated  int
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry records an allocation's pre-migration assignment. It is
// committed before the allocation is mutated so rollback survives a crash
// mid-migration.
type JournalEntry struct {
	ID                int64
	JobID             string
	AllocationID      int64
	PreviousPoolID    int64
	PreviousProfileID int64
	Seq               int
}

// ImportRun is the bookkeeping row behind one import job.
type ImportRun struct {
	ID        int64
	RouterID  int64
	Kind      string // pools, profiles, secrets
	Day       string // YYYY-MM-DD, the duplicate-run guard key
	Status    string // in_progress, completed, failed
	Processed int
	Imported  int
	Skipped   int
	Failed    int
}

// CustomerStore persists customers created by router imports.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer *model.Customer) (int64, error)
	CustomerExists(ctx context.Context, username string) (bool, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
}

// ProfileStore persists profiles imported from routers.
type ProfileStore interface {
	// UpsertProfile inserts or refreshes a profile keyed by (router, name).
	// Returns true when a new row was created.
	UpsertProfile(ctx context.Context, profile *model.Profile) (bool, error)
	ProfileByID(ctx context.Context, id int64) (*model.Profile, error)
}

// PoolStore persists IP pools and their allocations.
type PoolStore interface {
	CreatePool(ctx context.Context, pool *model.IPPool) (int64, error)
	PoolByID(ctx context.Context, id int64) (*model.IPPool, error)
	CreateAllocation(ctx context.Context, alloc *model.Allocation) (int64, error)
	AllocationExists(ctx context.Context, address string) (bool, error)
	AllocationsByPool(ctx context.Context, poolID int64) ([]model.Allocation, error)
	CountAllocations(ctx context.Context, poolID int64) (int, error)
	ReassignAllocation(ctx context.Context, allocationID, poolID, profileID int64) error
}

// ImportStore tracks import runs for the duplicate-run guard and progress
// reporting.
type ImportStore interface {
	ActiveImportExists(ctx context.Context, routerID int64, kind, day string) (bool, error)
	CreateImportRun(ctx context.Context, run *ImportRun) (int64, error)
	UpdateImportProgress(ctx context.Context, runID int64, processed, imported, skipped, failed int) error
	FinishImportRun(ctx context.Context, runID int64, status string) error
}

// JobStore persists migration jobs and their journals.
type JobStore interface {
	CreateJob(ctx context.Context, job *MigrationJob) error
	GetJob(ctx context.Context, id string) (*MigrationJob, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus, message string) error
	SetJobProgress(ctx context.Context, id string, migrated int) error
	// AppendJournal must be durably committed before the caller mutates the
	// corresponding allocation.
	AppendJournal(ctx context.Context, entry *JournalEntry) error
	// JournalEntries returns a job's journal newest-first, ready for
	// reverse replay.
	JournalEntries(ctx context.Context, jobID string) ([]JournalEntry, error)
	DeleteJournalEntry(ctx context.Context, id int64) error
}
