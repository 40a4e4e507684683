package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/narratelabs/narrate-core/internal/config"
)

// Status mirrors the orchestrator phases plus the cancelled terminal state.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusLoadingModel Status = "loading_model"
	StatusGenerating   Status = "generating"
	StatusStitching    Status = "stitching"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// ErrNotFound indicates an unknown job id.
var ErrNotFound = errors.New("job not found")

// timeLayout is fixed-width so stored timestamps order lexicographically;
// RFC3339Nano trims trailing fractional zeros and breaks SQL string
// comparison within a second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Job is the persisted record of one generation run.
type Job struct {
	ID               string
	ProjectID        string
	Status           Status
	Progress         float64
	CurrentChunk     int
	TotalChunks      int
	OutputPath       string
	ErrorMessage     string
	AudioDurationSec float64
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Store wraps a SQLite-backed job record table. The generation core never
// touches it directly; the worker updates it from progress snapshots.
type Store struct {
	db    *sql.DB
	cfg   config.JobStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the job store according to config.
func Open(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("job store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    project_id TEXT,
    status TEXT NOT NULL,
    progress REAL NOT NULL DEFAULT 0,
    current_chunk INTEGER NOT NULL DEFAULT 0,
    total_chunks INTEGER NOT NULL DEFAULT 0,
    output_path TEXT,
    error_message TEXT,
    audio_duration_seconds REAL,
    created_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a fresh job row in the queued state.
func (s *Store) Create(ctx context.Context, id, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, project_id, status, created_at) VALUES(?, ?, ?, ?)`,
		id, projectID, StatusQueued, s.timestamp())
	return err
}

// MarkStarted records the run start time.
func (s *Store) MarkStarted(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		StatusLoadingModel, s.timestamp(), id)
}

// UpdateProgress reflects one progress snapshot into the row.
func (s *Store) UpdateProgress(ctx context.Context, id string, status Status, progress float64, currentChunk, totalChunks int) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, progress = ?, current_chunk = ?, total_chunks = ? WHERE id = ?`,
		status, progress, currentChunk, totalChunks, id)
}

// MarkCompleted finalizes a successful run.
func (s *Store) MarkCompleted(ctx context.Context, id, outputPath string, audioDurationSec float64) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, progress = 100, output_path = ?, audio_duration_seconds = ?, completed_at = ? WHERE id = ?`,
		StatusCompleted, outputPath, audioDurationSec, s.timestamp(), id)
}

// MarkFailed finalizes a failed run with its message.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, message, s.timestamp(), id)
}

// MarkCancelled finalizes a cancelled run.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`,
		StatusCancelled, s.timestamp(), id)
}

func (s *Store) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get retrieves one job record.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, status, progress, current_chunk, total_chunks,
		        output_path, error_message, audio_duration_seconds,
		        created_at, started_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, err
}

// ListRecent returns up to limit jobs ordered newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, status, progress, current_chunk, total_chunks,
		        output_path, error_message, audio_duration_seconds,
		        created_at, started_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Prune deletes terminal jobs older than the retention window.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`,
		cutoff.UTC().Format(timeLayout), StatusCompleted, StatusFailed, StatusCancelled)
	return err
}

func (s *Store) timestamp() string {
	return s.clock().UTC().Format(timeLayout)
}

func scanJob(scan func(...any) error) (Job, error) {
	var j Job
	var projectID, outputPath, errorMessage sql.NullString
	var duration sql.NullFloat64
	var created string
	var started, completed sql.NullString
	err := scan(&j.ID, &projectID, &j.Status, &j.Progress, &j.CurrentChunk, &j.TotalChunks,
		&outputPath, &errorMessage, &duration, &created, &started, &completed)
	if err != nil {
		return Job{}, err
	}
	j.ProjectID = projectID.String
	j.OutputPath = outputPath.String
	j.ErrorMessage = errorMessage.String
	j.AudioDurationSec = duration.Float64
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		j.CreatedAt = ts
	}
	if started.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, started.String); err == nil {
			j.StartedAt = &ts
		}
	}
	if completed.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
			j.CompletedAt = &ts
		}
	}
	return j, nil
}
