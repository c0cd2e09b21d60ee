package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, job *Job) (bool, error)
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRunAt time.Time, result string) error
	MarkError(ctx context.Context, id string, attempts int, result string) error
	ResetAbandoned(ctx context.Context) (int64, error)
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByStatus(ctx context.Context, status Status) ([]Job, error)
	CountByStatus(ctx context.Context) (*Stats, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, status, attempts, payload, result, next_run_at, created_at`

// Insert creates the job if its id is not already present. Returns true when
// a row was created, false when the id already existed. Redelivery of the
// same remote message id is therefore a safe no-op, never an error.
func (r *PostgresRepo) Insert(ctx context.Context, job *Job) (bool, error) {
	query := `INSERT INTO jobs (id, payload) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, job.ID, []byte(job.Payload))
	if err != nil {
		return false, fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimBatch selects up to limit pending jobs whose next_run_at has passed,
// oldest first, and flips them to processing in the same statement. The
// FOR UPDATE SKIP LOCKED subselect keeps concurrent claimers disjoint even
// when two worker processes race against the same table.
func (r *PostgresRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	query := `UPDATE jobs SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND next_run_at <= $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE jobs SET status = 'done', updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// MarkRetry returns a claimed job to the pool with its attempt count and
// backoff deadline advanced, keeping the latest diagnostic text.
func (r *PostgresRepo) MarkRetry(ctx context.Context, id string, attempts int, nextRunAt time.Time, result string) error {
	query := `UPDATE jobs SET status = 'pending', attempts = $2, next_run_at = $3, result = $4, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, attempts, nextRunAt, result)
	return err
}

func (r *PostgresRepo) MarkError(ctx context.Context, id string, attempts int, result string) error {
	query := `UPDATE jobs SET status = 'error', attempts = $2, result = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, attempts, result)
	return err
}

// ResetAbandoned returns jobs stranded in processing by a crash to pending.
// Run once at startup, before the dispatcher claims anything.
func (r *PostgresRepo) ResetAbandoned(ctx context.Context) (int64, error) {
	query := `UPDATE jobs SET status = 'pending', updated_at = NOW() WHERE status = 'processing'`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reset abandoned jobs: %w", err)
	}
	return res.RowsAffected()
}

// Reset makes an errored job immediately claimable again. Attempts are kept:
// the count only ever increases over the life of a job.
func (r *PostgresRepo) Reset(ctx context.Context, id string) error {
	query := `UPDATE jobs SET status = 'pending', next_run_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'error'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanJob(row)
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (*Stats, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusDone:
			stats.Done = count
		case StatusError:
			stats.Error = count
		}
	}
	return &stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var payload []byte
	if err := s.Scan(&j.ID, &j.Status, &j.Attempts, &payload, &j.Result, &j.NextRunAt, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return &j, nil
}
