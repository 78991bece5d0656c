package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/db"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

const phoneConstraint = "contacts_phone_key"

// PostgresTable implements Backend using a pgx pool.
type PostgresTable struct {
	pool    db.Pool
	closeFn func()
	schema  model.KeySchema
	upsert  string
	keyEq   string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresTable with a connection pool.
func NewPostgres(ctx context.Context, connString string, schema model.KeySchema, poolCfg *PoolConfig) (*PostgresTable, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresTable(pool, pool.Close, schema), nil
}

func newPostgresTable(pool db.Pool, closeFn func(), schema model.KeySchema) *PostgresTable {
	ph := func(i int) string { return fmt.Sprintf("$%d", i) }
	return &PostgresTable{
		pool:    pool,
		closeFn: closeFn,
		schema:  schema,
		upsert:  upsertSQL(schema, ph),
		keyEq:   keyPredicate(schema, ph),
	}
}

const postgresRunsDDL = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	passes      INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	settled     INTEGER NOT NULL,
	complete    BOOLEAN NOT NULL,
	outcomes    JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS point_failures (
	run_id   TEXT NOT NULL REFERENCES ingest_runs(run_id),
	point_id TEXT NOT NULL,
	kind     TEXT NOT NULL,
	reason   TEXT NOT NULL,
	pass     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_point_failures_run_id ON point_failures(run_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at DESC);
`

// Migrate creates the tables and pins the key schema.
func (s *PostgresTable) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, contactsDDL(s.schema, "TIMESTAMPTZ")+postgresRunsDDL); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO store_meta (key, value) VALUES ('key_schema', $1) ON CONFLICT (key) DO NOTHING`, string(s.schema)); err != nil {
		return eris.Wrap(err, "postgres: migrate: pin key schema")
	}
	var pinned string
	if err := s.pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE key = 'key_schema'`).Scan(&pinned); err != nil {
		return eris.Wrap(err, "postgres: migrate: read key schema")
	}
	if pinned != string(s.schema) {
		return eris.Errorf("postgres: database uses key schema %q, configured %q", pinned, s.schema)
	}
	return nil
}

func (s *PostgresTable) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresTable) Schema() model.KeySchema {
	return s.schema
}

func (s *PostgresTable) fail(op string, err error) error {
	if db.IsUniqueViolation(err, phoneConstraint) {
		return resilience.E(resilience.KindStorageConflict, "postgres: "+op, err)
	}
	return resilience.E(resilience.KindStorageFatal, "postgres: "+op, err)
}

func (s *PostgresTable) PutIfPhoneAbsent(ctx context.Context, rec model.ContactRecord) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx, s.upsert+` RETURNING (xmax = 0)`, recordArgs(rec, time.Now().UTC())...).Scan(&created)
	if err != nil {
		return false, s.fail("put", err)
	}
	return created, nil
}

func (s *PostgresTable) FindByPhone(ctx context.Context, phone string) (*model.StoredRecord, error) {
	if phone == "" {
		return nil, nil
	}
	return s.getOne(ctx, "find by phone", `SELECT `+selectColumns+` FROM contacts WHERE phone = $1`, phone)
}

func (s *PostgresTable) Get(ctx context.Context, key model.Key) (*model.StoredRecord, error) {
	return s.getOne(ctx, "get", `SELECT `+selectColumns+` FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, key)...)
}

func (s *PostgresTable) getOne(ctx context.Context, op, query string, args ...any) (*model.StoredRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

func (s *PostgresTable) Delete(ctx context.Context, key model.Key) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, key)...); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

func (s *PostgresTable) Replace(ctx context.Context, old model.Key, rec model.ContactRecord) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, old)...); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, s.upsert, recordArgs(rec, time.Now().UTC())...)
		return err
	})
	if err != nil {
		return s.fail("replace", err)
	}
	return nil
}

func (s *PostgresTable) Scan(ctx context.Context) ([]model.StoredRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM contacts ORDER BY name, email`)
	if err != nil {
		return nil, s.fail("scan", err)
	}
	defer rows.Close()

	var out []model.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.fail("scan", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("scan", err)
	}
	return out, nil
}

func (s *PostgresTable) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

var failureColumns = []string{"run_id", "point_id", "kind", "reason", "pass"}

// RecordRun inserts the run and COPYs its failures in one transaction.
func (s *PostgresTable) RecordRun(ctx context.Context, run RunSummary, failures []PointFailure) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outcomes")
	}
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ingest_runs (run_id, mode, started_at, finished_at, passes, total, settled, complete, outcomes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.RunID, run.Mode, run.StartedAt.UTC(), run.FinishedAt.UTC(),
			run.Passes, run.Total, run.Settled, run.Complete, outcomes,
		); err != nil {
			return err
		}
		rows := make([][]any, len(failures))
		for i, f := range failures {
			rows[i] = []any{run.RunID, f.PointID, f.Kind, f.Reason, f.Pass}
		}
		_, err := db.CopyFrom(ctx, tx, "point_failures", failureColumns, rows)
		return err
	})
	if err != nil {
		return s.fail("record run", err)
	}
	return nil
}

func (s *PostgresTable) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, mode, started_at, finished_at, passes, total, settled, complete, outcomes
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, s.fail("list runs", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var outcomes []byte
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Passes, &r.Total, &r.Settled, &r.Complete, &outcomes); err != nil {
			return nil, s.fail("list runs", err)
		}
		if err := json.Unmarshal(outcomes, &r.Outcomes); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode outcomes of run %s", r.RunID)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list runs", err)
	}
	return out, nil
}

func (s *PostgresTable) RunFailures(ctx context.Context, runID string) ([]PointFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT point_id, kind, reason, pass FROM point_failures WHERE run_id = $1 ORDER BY pass, point_id`, runID)
	if err != nil {
		return nil, s.fail("run failures", err)
	}
	defer rows.Close()

	var out []PointFailure
	for rows.Next() {
		var f PointFailure
		if err := rows.Scan(&f.PointID, &f.Kind, &f.Reason, &f.Pass); err != nil {
			return nil, s.fail("run failures", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("run failures", err)
	}
	return out, nil
}
