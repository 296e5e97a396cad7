package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mobility-cli/internal/db"
	"github.com/sells-group/mobility-cli/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects a pool and wraps it in a store.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, dsn, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, which is how the tests inject
// pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	inputs     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'aggregating',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS run_cells (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	hex_id         TEXT NOT NULL,
	device_count   BIGINT NOT NULL,
	ping_count     BIGINT NOT NULL,
	mean_timestamp DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, hex_id)
);
`

var runCellColumns = []string{"run_id", "hex_id", "device_count", "ping_count", "mean_timestamp"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error) {
	run := model.NewRun(inputs)

	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal inputs")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, inputs, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, inputsJSON, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	result := &model.RunResult{}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return s.finishRun(ctx, runID, model.RunStatusFailed, result)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var (
		r          model.Run
		inputsJSON []byte
		resultJSON *[]byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, inputs, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &inputsJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(inputsJSON, &r.Inputs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal inputs")
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, inputs, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r          model.Run
			inputsJSON []byte
			resultJSON *[]byte
		)
		if err := rows.Scan(&r.ID, &inputsJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(inputsJSON, &r.Inputs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal inputs")
		}
		if resultJSON != nil {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveCellFeatures upserts one aggregated feature table under a run ID.
// Re-saving the same run overwrites cell by cell, so a re-aggregation is
// idempotent.
func (s *PostgresStore) SaveCellFeatures(ctx context.Context, runID string, cells []model.CellFeatures) (int64, error) {
	rows := make([][]any, len(cells))
	for i, c := range cells {
		rows[i] = []any{runID, c.HexID, c.DeviceCount, c.PingCount, c.MeanTimestamp}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "run_cells",
		Columns:      runCellColumns,
		ConflictKeys: []string{"run_id", "hex_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save cell features %s", runID)
	}
	return n, nil
}

func (s *PostgresStore) LoadCellFeatures(ctx context.Context, runID string) ([]model.CellFeatures, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, hex_id, device_count, ping_count, mean_timestamp FROM run_cells WHERE run_id = $1 ORDER BY hex_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load cell features %s", runID)
	}
	defer rows.Close()

	var cells []model.CellFeatures
	for rows.Next() {
		var c model.CellFeatures
		if err := rows.Scan(&c.RunID, &c.HexID, &c.DeviceCount, &c.PingCount, &c.MeanTimestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cell features")
		}
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "postgres: load cell features iterate")
}
