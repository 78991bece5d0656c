// Package store persists contact records in a key-value table that holds at
// most one record per non-empty phone number.
package store

import (
	"context"
	"time"

	"github.com/sells-group/thotem-cli/internal/model"
)

// Table is a key-value table of contact records with a secondary index on
// phone. Implementations enforce phone uniqueness natively, so a write that
// would give a second key the same non-empty phone fails with a
// resilience.KindStorageConflict error. Other failures are
// resilience.KindStorageFatal.
type Table interface {
	// Schema returns the primary key schema the table was opened with.
	Schema() model.KeySchema

	// PutIfPhoneAbsent writes rec under its key unless another key holds
	// rec.Phone. created is false when an existing record under the same key
	// was overwritten.
	PutIfPhoneAbsent(ctx context.Context, rec model.ContactRecord) (created bool, err error)

	// FindByPhone returns the record holding phone, or nil.
	FindByPhone(ctx context.Context, phone string) (*model.StoredRecord, error)

	// Get returns the record under key, or nil.
	Get(ctx context.Context, key model.Key) (*model.StoredRecord, error)

	// Delete removes the record under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key model.Key) error

	// Replace deletes old and writes rec in one transaction.
	Replace(ctx context.Context, old model.Key, rec model.ContactRecord) error

	// Scan returns every record ordered by key.
	Scan(ctx context.Context) ([]model.StoredRecord, error)

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// RunSummary is the persisted outcome of one ingestion run.
type RunSummary struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Mode       string         `json:"mode" yaml:"mode"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Passes     int            `json:"passes" yaml:"passes"`
	Total      int            `json:"total" yaml:"total"`
	Settled    int            `json:"settled" yaml:"settled"`
	Complete   bool           `json:"complete" yaml:"complete"`
	Outcomes   map[string]int `json:"outcomes" yaml:"outcomes"`
}

// PointFailure records why a point was not settled in a run.
type PointFailure struct {
	PointID string `json:"point_id" yaml:"point_id"`
	Kind    string `json:"kind" yaml:"kind"`
	Reason  string `json:"reason" yaml:"reason"`
	Pass    int    `json:"pass" yaml:"pass"`
}

// RunLog keeps a history of ingestion runs next to the contacts table.
type RunLog interface {
	RecordRun(ctx context.Context, run RunSummary, failures []PointFailure) error
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	RunFailures(ctx context.Context, runID string) ([]PointFailure, error)
}

// Backend is a Table that also records run history. Both shipped backends
// implement it.
type Backend interface {
	Table
	RunLog
}

// Key columns per schema, in primary key order.
func keyColumns(schema model.KeySchema) []string {
	if schema == model.KeyByNameEmail {
		return []string{"name", "email"}
	}
	return []string{"name"}
}

func keyArgs(schema model.KeySchema, k model.Key) []any {
	if schema == model.KeyByNameEmail {
		return []any{k.Name, k.Email}
	}
	return []any{k.Name}
}

func recordArgs(rec model.ContactRecord, now time.Time) []any {
	return []any{rec.Name, rec.Phone, rec.Email, rec.StreetNumber, rec.StreetName, rec.PostalCode, rec.TownName, now}
}

const selectColumns = `name, phone, email, street_number, street_name, postal_code, town_name, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.StoredRecord, error) {
	var r model.StoredRecord
	if err := row.Scan(&r.Name, &r.Phone, &r.Email, &r.StreetNumber, &r.StreetName, &r.PostalCode, &r.TownName, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}
