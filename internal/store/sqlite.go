package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

// SQLiteTable implements Backend using modernc.org/sqlite.
type SQLiteTable struct {
	db     *sql.DB
	schema model.KeySchema
	upsert string
	keyEq  string
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string, schema model.KeySchema) (*SQLiteTable, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteTable{
		db:     db,
		schema: schema,
		upsert: upsertSQL(schema, func(int) string { return "?" }),
		keyEq:  keyPredicate(schema, func(int) string { return "?" }),
	}, nil
}

// upsertSQL builds INSERT ... ON CONFLICT (key) DO UPDATE for the schema.
// A different key holding the phone still violates contacts_phone_key.
func upsertSQL(schema model.KeySchema, ph func(i int) string) string {
	cols := strings.Split(strings.ReplaceAll(selectColumns, " ", ""), ",")
	keys := keyColumns(schema)
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	placeholders := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		placeholders[i] = ph(i + 1)
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO contacts (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(keys, ", "), strings.Join(sets, ", "))
}

func keyPredicate(schema model.KeySchema, ph func(i int) string) string {
	keys := keyColumns(schema)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s = %s", k, ph(i+1))
	}
	return strings.Join(parts, " AND ")
}

func contactsDDL(schema model.KeySchema, timeType string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS contacts (
	name          TEXT NOT NULL,
	phone         TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	street_number TEXT NOT NULL DEFAULT '',
	street_name   TEXT NOT NULL DEFAULT '',
	postal_code   TEXT NOT NULL DEFAULT '',
	town_name     TEXT NOT NULL DEFAULT '',
	updated_at    %[2]s NOT NULL,
	PRIMARY KEY (%[1]s)
);

CREATE UNIQUE INDEX IF NOT EXISTS contacts_phone_key ON contacts(phone) WHERE phone <> '';

CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`, strings.Join(keyColumns(schema), ", "), timeType)
}

const sqliteRunsDDL = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	passes      INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	settled     INTEGER NOT NULL,
	complete    INTEGER NOT NULL,
	outcomes    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS point_failures (
	run_id   TEXT NOT NULL REFERENCES ingest_runs(run_id),
	point_id TEXT NOT NULL,
	kind     TEXT NOT NULL,
	reason   TEXT NOT NULL,
	pass     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_point_failures_run_id ON point_failures(run_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

// Migrate creates the tables and pins the key schema. Reopening a database
// with a different schema is an error.
func (s *SQLiteTable) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, contactsDDL(s.schema, "DATETIME")+sqliteRunsDDL); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_meta (key, value) VALUES ('key_schema', ?)`, string(s.schema)); err != nil {
		return eris.Wrap(err, "sqlite: migrate: pin key schema")
	}
	var pinned string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'key_schema'`).Scan(&pinned); err != nil {
		return eris.Wrap(err, "sqlite: migrate: read key schema")
	}
	if pinned != string(s.schema) {
		return eris.Errorf("sqlite: database uses key schema %q, configured %q", pinned, s.schema)
	}
	return nil
}

func (s *SQLiteTable) Close() error {
	return s.db.Close()
}

func (s *SQLiteTable) Schema() model.KeySchema {
	return s.schema
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

func (s *SQLiteTable) fail(op string, err error) error {
	if isSQLiteUnique(err) {
		return resilience.E(resilience.KindStorageConflict, "sqlite: "+op, err)
	}
	return resilience.E(resilience.KindStorageFatal, "sqlite: "+op, err)
}

func (s *SQLiteTable) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(op, eris.Wrap(err, "begin tx"))
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return s.fail(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail(op, eris.Wrap(err, "commit tx"))
	}
	return nil
}

func (s *SQLiteTable) PutIfPhoneAbsent(ctx context.Context, rec model.ContactRecord) (bool, error) {
	var created bool
	err := s.inTx(ctx, "put", func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM contacts WHERE `+s.keyEq+`)`,
			keyArgs(s.schema, rec.Key(s.schema))...,
		).Scan(&exists); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.upsert, recordArgs(rec, time.Now().UTC())...); err != nil {
			return err
		}
		created = !exists
		return nil
	})
	return created, err
}

func (s *SQLiteTable) FindByPhone(ctx context.Context, phone string) (*model.StoredRecord, error) {
	if phone == "" {
		return nil, nil
	}
	return s.getOne(ctx, "find by phone", `SELECT `+selectColumns+` FROM contacts WHERE phone = ?`, phone)
}

func (s *SQLiteTable) Get(ctx context.Context, key model.Key) (*model.StoredRecord, error) {
	return s.getOne(ctx, "get", `SELECT `+selectColumns+` FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, key)...)
}

func (s *SQLiteTable) getOne(ctx context.Context, op, query string, args ...any) (*model.StoredRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return rec, nil
}

func (s *SQLiteTable) Delete(ctx context.Context, key model.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, key)...); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

func (s *SQLiteTable) Replace(ctx context.Context, old model.Key, rec model.ContactRecord) error {
	return s.inTx(ctx, "replace", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE `+s.keyEq, keyArgs(s.schema, old)...); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.upsert, recordArgs(rec, time.Now().UTC())...)
		return err
	})
}

func (s *SQLiteTable) Scan(ctx context.Context) ([]model.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM contacts ORDER BY name, email`)
	if err != nil {
		return nil, s.fail("scan", err)
	}
	defer rows.Close() //nolint:errcheck

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

func (s *SQLiteTable) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, s.fail("count", err)
	}
	return n, nil
}

func (s *SQLiteTable) RecordRun(ctx context.Context, run RunSummary, failures []PointFailure) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outcomes")
	}
	return s.inTx(ctx, "record run", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingest_runs (run_id, mode, started_at, finished_at, passes, total, settled, complete, outcomes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Mode, run.StartedAt.UTC(), run.FinishedAt.UTC(),
			run.Passes, run.Total, run.Settled, run.Complete, string(outcomes),
		); err != nil {
			return err
		}
		if len(failures) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO point_failures (run_id, point_id, kind, reason, pass) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck
		for _, f := range failures {
			if _, err := stmt.ExecContext(ctx, run.RunID, f.PointID, f.Kind, f.Reason, f.Pass); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteTable) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, mode, started_at, finished_at, passes, total, settled, complete, outcomes
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, s.fail("list runs", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var outcomes string
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Passes, &r.Total, &r.Settled, &r.Complete, &outcomes); err != nil {
			return nil, s.fail("list runs", err)
		}
		if err := json.Unmarshal([]byte(outcomes), &r.Outcomes); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode outcomes of run %s", r.RunID)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list runs", err)
	}
	return out, nil
}

func (s *SQLiteTable) RunFailures(ctx context.Context, runID string) ([]PointFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_id, kind, reason, pass FROM point_failures WHERE run_id = ? ORDER BY pass, rowid`, runID)
	if err != nil {
		return nil, s.fail("run failures", err)
	}
	defer rows.Close() //nolint:errcheck

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
