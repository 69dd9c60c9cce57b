package joblog

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/enablr/escrowd/internal/escrow"
)

// PostgresStore persists job runs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, run *escrow.JobRun) error {
	var resultJSON []byte
	if run.Result != nil {
		resultJSON, _ = json.Marshal(run.Result)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_name, executed_at, status, result, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.JobName, run.ExecutedAt, run.Status, resultJSON, nullString(run.Error),
	)
	return err
}

func (p *PostgresStore) List(ctx context.Context, jobName string, limit int) ([]*escrow.JobRun, error) {
	query := `
		SELECT id, job_name, executed_at, status, result, error
		FROM job_runs`
	args := []interface{}{limit}
	if jobName != "" {
		query += ` WHERE job_name = $2`
		args = append(args, jobName)
	}
	query += ` ORDER BY executed_at DESC LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*escrow.JobRun
	for rows.Next() {
		run := &escrow.JobRun{}
		var (
			resultJSON []byte
			runErr     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.JobName, &run.ExecutedAt, &run.Status, &resultJSON, &runErr); err != nil {
			return nil, err
		}
		run.Error = runErr.String
		if len(resultJSON) > 0 {
			_ = json.Unmarshal(resultJSON, &run.Result)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertions.
var (
	_ Store         = (*PostgresStore)(nil)
	_ escrow.JobLog = (*PostgresStore)(nil)
)
