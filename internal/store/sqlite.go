package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nimda/radsync/internal/model"
)

// DB is the sqlite implementation of every store interface.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. The schema statements are idempotent, so opening an existing
// database is safe.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &DB{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DB) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			status TEXT NOT NULL,
			service TEXT NOT NULL,
			profile_name TEXT NOT NULL,
			rate_limit TEXT NOT NULL DEFAULT '',
			static_ip TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			router_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			local_address TEXT NOT NULL DEFAULT '',
			remote_address TEXT NOT NULL DEFAULT '',
			rate_limit TEXT NOT NULL DEFAULT '',
			session_timeout TEXT NOT NULL DEFAULT '',
			disabled INTEGER NOT NULL DEFAULT 0,
			UNIQUE(router_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS pools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			start_ip TEXT NOT NULL,
			end_ip TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS allocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pool_id INTEGER NOT NULL,
			profile_id INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS import_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			router_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			day TEXT NOT NULL,
			status TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			imported INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS migration_jobs (
			id TEXT PRIMARY KEY,
			old_pool_id INTEGER NOT NULL,
			new_pool_id INTEGER NOT NULL,
			profile_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			migrated INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS migration_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			allocation_id INTEGER NOT NULL,
			previous_pool_id INTEGER NOT NULL,
			previous_profile_id INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_pool ON allocations(pool_id);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_job ON migration_journal(job_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_import_runs_guard ON import_runs(router_id, kind, day, status);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- CustomerStore ---

func (s *DB) CreateCustomer(ctx context.Context, customer *model.Customer) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (username, password, status, service, profile_name, rate_limit, static_ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.Username, customer.Password, string(customer.Status), string(customer.Service),
		customer.Package.ProfileName, customer.Package.RateLimit, customer.StaticIP, nowUTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) CustomerExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM customers WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

func (s *DB) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password, status, service, profile_name, rate_limit, static_ip FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		var status, service string
		if err := rows.Scan(&c.ID, &c.Username, &c.Password, &status, &service,
			&c.Package.ProfileName, &c.Package.RateLimit, &c.StaticIP); err != nil {
			return nil, err
		}
		c.Status = model.CustomerStatus(status)
		c.Service = model.ServiceType(service)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// --- ProfileStore ---

func (s *DB) UpsertProfile(ctx context.Context, profile *model.Profile) (bool, error) {
	var existingID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM profiles WHERE router_id = ? AND name = ?`,
		profile.RouterID, profile.Name).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO profiles (router_id, name, local_address, remote_address, rate_limit, session_timeout, disabled)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			profile.RouterID, profile.Name, profile.LocalAddress, profile.RemoteAddress,
			profile.RateLimit, profile.SessionTimeout, boolInt(profile.Disabled))
		if err != nil {
			return false, err
		}
		profile.ID, err = res.LastInsertId()
		return true, err
	case err != nil:
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE profiles SET local_address = ?, remote_address = ?, rate_limit = ?, session_timeout = ?, disabled = ?
		 WHERE id = ?`,
		profile.LocalAddress, profile.RemoteAddress, profile.RateLimit,
		profile.SessionTimeout, boolInt(profile.Disabled), existingID)
	profile.ID = existingID
	return false, err
}

// ProfileByID loads one profile row.
func (s *DB) ProfileByID(ctx context.Context, id int64) (*model.Profile, error) {
	profile := &model.Profile{}
	var disabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, router_id, name, local_address, remote_address, rate_limit, session_timeout, disabled
		 FROM profiles WHERE id = ?`, id).
		Scan(&profile.ID, &profile.RouterID, &profile.Name, &profile.LocalAddress,
			&profile.RemoteAddress, &profile.RateLimit, &profile.SessionTimeout, &disabled)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	profile.Disabled = disabled != 0
	return profile, nil
}

// --- PoolStore ---

func (s *DB) CreatePool(ctx context.Context, pool *model.IPPool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pools (name, start_ip, end_ip) VALUES (?, ?, ?)`,
		pool.Name, pool.StartIP, pool.EndIP)
	if err != nil {
		return 0, err
	}
	pool.ID, err = res.LastInsertId()
	return pool.ID, err
}

func (s *DB) PoolByID(ctx context.Context, id int64) (*model.IPPool, error) {
	pool := &model.IPPool{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_ip, end_ip FROM pools WHERE id = ?`, id).
		Scan(&pool.ID, &pool.Name, &pool.StartIP, &pool.EndIP)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *DB) CreateAllocation(ctx context.Context, alloc *model.Allocation) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO allocations (pool_id, profile_id, username, address) VALUES (?, ?, ?, ?)`,
		alloc.PoolID, alloc.ProfileID, alloc.Username, alloc.Address)
	if err != nil {
		return 0, err
	}
	alloc.ID, err = res.LastInsertId()
	return alloc.ID, err
}

func (s *DB) AllocationExists(ctx context.Context, address string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM allocations WHERE address = ?`, address).Scan(&n)
	return n > 0, err
}

func (s *DB) AllocationsByPool(ctx context.Context, poolID int64) ([]model.Allocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pool_id, profile_id, username, address FROM allocations WHERE pool_id = ? ORDER BY id`,
		poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []model.Allocation
	for rows.Next() {
		var a model.Allocation
		if err := rows.Scan(&a.ID, &a.PoolID, &a.ProfileID, &a.Username, &a.Address); err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (s *DB) CountAllocations(ctx context.Context, poolID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM allocations WHERE pool_id = ?`, poolID).Scan(&n)
	return n, err
}

func (s *DB) ReassignAllocation(ctx context.Context, allocationID, poolID, profileID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE allocations SET pool_id = ?, profile_id = ? WHERE id = ?`,
		poolID, profileID, allocationID)
	return err
}

// --- ImportStore ---

func (s *DB) ActiveImportExists(ctx context.Context, routerID int64, kind, day string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM import_runs WHERE router_id = ? AND kind = ? AND day = ? AND status = 'in_progress'`,
		routerID, kind, day).Scan(&n)
	return n > 0, err
}

func (s *DB) CreateImportRun(ctx context.Context, run *ImportRun) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (router_id, kind, day, status, started_at) VALUES (?, ?, ?, 'in_progress', ?)`,
		run.RouterID, run.Kind, run.Day, nowUTC())
	if err != nil {
		return 0, err
	}
	run.ID, err = res.LastInsertId()
	run.Status = "in_progress"
	return run.ID, err
}

func (s *DB) UpdateImportProgress(ctx context.Context, runID int64, processed, imported, skipped, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET processed = ?, imported = ?, skipped = ?, failed = ? WHERE id = ?`,
		processed, imported, skipped, failed, runID)
	return err
}

func (s *DB) FinishImportRun(ctx context.Context, runID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, nowUTC(), runID)
	return err
}

// --- JobStore ---

func (s *DB) CreateJob(ctx context.Context, job *MigrationJob) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO migration_jobs (id, old_pool_id, new_pool_id, profile_id, status, total, migrated, message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OldPoolID, job.NewPoolID, job.ProfileID, string(job.Status),
		job.Total, job.Migrated, job.Message, now, now)
	return err
}

func (s *DB) GetJob(ctx context.Context, id string) (*MigrationJob, error) {
	job := &MigrationJob{}
	var status, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, old_pool_id, new_pool_id, profile_id, status, total, migrated, message, created_at, updated_at
		 FROM migration_jobs WHERE id = ?`, id).
		Scan(&job.ID, &job.OldPoolID, &job.NewPoolID, &job.ProfileID, &status,
			&job.Total, &job.Migrated, &job.Message, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return job, nil
}

func (s *DB) UpdateJobStatus(ctx context.Context, id string, status JobStatus, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE migration_jobs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(status), message, nowUTC(), id)
	return err
}

func (s *DB) SetJobProgress(ctx context.Context, id string, migrated int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE migration_jobs SET migrated = ?, updated_at = ? WHERE id = ?`,
		migrated, nowUTC(), id)
	return err
}

func (s *DB) AppendJournal(ctx context.Context, entry *JournalEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO migration_journal (job_id, allocation_id, previous_pool_id, previous_profile_id, seq)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.JobID, entry.AllocationID, entry.PreviousPoolID, entry.PreviousProfileID, entry.Seq)
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

func (s *DB) JournalEntries(ctx context.Context, jobID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, allocation_id, previous_pool_id, previous_profile_id, seq
		 FROM migration_journal WHERE job_id = ? ORDER BY seq DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.AllocationID, &e.PreviousPoolID, &e.PreviousProfileID, &e.Seq); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *DB) DeleteJournalEntry(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM migration_journal WHERE id = ?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ CustomerStore = (*DB)(nil)
	_ ProfileStore  = (*DB)(nil)
	_ PoolStore     = (*DB)(nil)
	_ ImportStore   = (*DB)(nil)
	_ JobStore      = (*DB)(nil)
)
