package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/castellansec/castellan/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists job records in a single sqlite database. It
// fills the remote key/value role of the design: durable storage that
// survives process restarts independently of the flat-file layout.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) jobs.db under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "jobs.db")

	// Pragmas in the DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize job schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		repo_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		findings TEXT NOT NULL DEFAULT '[]',
		files TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the full record.
func (s *SQLiteStore) Save(ctx context.Context, job models.JobRecord) error {
	findings, files, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, repo_ref, status, message, findings, files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_ref = excluded.repo_ref,
			status = excluded.status,
			message = excluded.message,
			findings = excluded.findings,
			files = excluded.files,
			created_at = excluded.created_at`,
		job.ID, job.RepoRef, string(job.Status), job.Message, findings, files,
		job.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (models.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_ref, status, message, findings, files, created_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns all records newest first, served by the created_at
// index rather than a sorted scan.
func (s *SQLiteStore) List(ctx context.Context) ([]models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_ref, status, message, findings, files, created_at
		FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateStatus runs the read-merge-write inside one transaction so
// partial-field merges never lose updates.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.Status, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update for job %s: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, repo_ref, status, message, findings, files, created_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", id, err)
	}
	if job.Status.IsTerminal() {
		return ErrTerminal
	}

	applyPatch(&job, status, patch)
	findings, files, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, message = ?, findings = ?, files = ? WHERE id = ?`,
		string(job.Status), job.Message, findings, files, id); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return tx.Commit()
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.JobRecord, error) {
	var (
		job       models.JobRecord
		status    string
		findings  string
		files     sql.NullString
		createdAt int64
	)
	if err := row.Scan(&job.ID, &job.RepoRef, &status, &job.Message, &findings, &files, &createdAt); err != nil {
		return models.JobRecord{}, err
	}
	job.Status = models.Status(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := json.Unmarshal([]byte(findings), &job.Findings); err != nil {
		return models.JobRecord{}, fmt.Errorf("decode findings for job %s: %w", job.ID, err)
	}
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &job.Files); err != nil {
			return models.JobRecord{}, fmt.Errorf("decode files for job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func marshalJobBlobs(job models.JobRecord) (findings string, files any, err error) {
	fb, err := json.Marshal(job.Findings)
	if err != nil {
		return "", nil, fmt.Errorf("encode findings for job %s: %w", job.ID, err)
	}
	if job.Files == nil {
		return string(fb), nil, nil
	}
	cb, err := json.Marshal(job.Files)
	if err != nil {
		return "", nil, fmt.Errorf("encode files for job %s: %w", job.ID, err)
	}
	return string(fb), string(cb), nil
}
