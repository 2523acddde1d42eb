package jobstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS relayer_jobs (
    job_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    failed_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL,
    observed BOOLEAN NOT NULL DEFAULT FALSE
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, jobID string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT job_id, state, tx_hash, failed_reason, created_at, finished_at, updated_at, observed
FROM relayer_jobs
WHERE job_id = $1
`, jobID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.JobID == "" {
		return errors.New("job id is empty")
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO relayer_jobs (job_id, state, tx_hash, failed_reason, created_at, finished_at, updated_at, observed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO UPDATE
SET state = EXCLUDED.state,
    tx_hash = EXCLUDED.tx_hash,
    failed_reason = EXCLUDED.failed_reason,
    created_at = EXCLUDED.created_at,
    finished_at = EXCLUDED.finished_at,
    updated_at = EXCLUDED.updated_at,
    observed = EXCLUDED.observed
WHERE relayer_jobs.state = $9
`, record.JobID, record.State, record.TxHash, record.FailedReason, record.CreatedAt, record.FinishedAt, record.UpdatedAt, record.Observed, StatePending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettled
	}
	return nil
}

func (p *PostgresStore) Pending(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT job_id, state, tx_hash, failed_reason, created_at, finished_at, updated_at, observed
FROM relayer_jobs
WHERE state = $1
ORDER BY created_at, job_id
`, StatePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.JobID, &rec.State, &rec.TxHash, &rec.FailedReason, &rec.CreatedAt, &rec.FinishedAt, &rec.UpdatedAt, &rec.Observed)
	return rec, err
}
