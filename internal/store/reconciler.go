package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/resilience"
)

// DefaultConflictRetries bounds how often one upsert re-runs the conflict
// protocol when concurrent writers keep taking the phone.
const DefaultConflictRetries = 5

// Reconciler writes records to a Table so that each non-empty phone is held
// by at most one record, the most recently written one.
type Reconciler struct {
	table Table
	locks *keyLock
	retry resilience.RetryConfig
}

// NewReconciler wraps table. conflictRetries <= 0 uses DefaultConflictRetries.
func NewReconciler(table Table, conflictRetries int) *Reconciler {
	if conflictRetries <= 0 {
		conflictRetries = DefaultConflictRetries
	}
	cfg := resilience.ConflictRetryConfig(conflictRetries)
	cfg.OnRetry = resilience.RetryLogger("store", "reconcile")
	return &Reconciler{
		table: table,
		locks: newKeyLock(),
		retry: cfg,
	}
}

// Table returns the underlying table.
func (r *Reconciler) Table() Table {
	return r.table
}

// Upsert stores rec and reports what happened:
//
//	empty phone                     -> Skipped, nothing written
//	key new, phone free             -> Inserted
//	key exists, phone free or own   -> Superseded
//	phone held by another key       -> ConflictResolved, holder deleted
//
// A conflict that persists after the bounded retries is returned as a
// KindStorageConflict error; any other storage error is KindStorageFatal.
func (r *Reconciler) Upsert(ctx context.Context, rec model.ContactRecord) (model.Outcome, error) {
	if rec.Phone == "" {
		return model.Skipped, nil
	}
	if err := rec.Validate(); err != nil {
		return model.Skipped, resilience.E(resilience.KindNoData, "upsert", err)
	}

	unlock := r.locks.Lock(rec.Phone)
	defer unlock()

	return resilience.DoVal(ctx, r.retry, func(ctx context.Context) (model.Outcome, error) {
		return r.reconcile(ctx, rec)
	})
}

func (r *Reconciler) reconcile(ctx context.Context, rec model.ContactRecord) (model.Outcome, error) {
	created, err := r.table.PutIfPhoneAbsent(ctx, rec)
	if err == nil {
		if created {
			return model.Inserted, nil
		}
		return model.Superseded, nil
	}
	if !resilience.IsConflict(err) {
		return 0, err
	}

	holder, err := r.table.FindByPhone(ctx, rec.Phone)
	if err != nil {
		return 0, err
	}
	if holder == nil {
		// Holder vanished between the failed put and the lookup; retry the put.
		return 0, resilience.E(resilience.KindStorageConflict, "reconcile",
			eris.Errorf("holder of phone %s disappeared", rec.Phone))
	}

	schema := r.table.Schema()
	oldKey := holder.Key(schema)
	if err := r.table.Replace(ctx, oldKey, rec); err != nil {
		return 0, err
	}

	zap.L().Info("phone conflict resolved",
		zap.String("component", "store"),
		zap.String("phone", rec.Phone),
		zap.String("replaced", oldKey.String()),
		zap.String("by", rec.Key(schema).String()),
	)
	return model.ConflictResolved, nil
}

// Records returns every stored record ordered by key.
func (r *Reconciler) Records(ctx context.Context) ([]model.StoredRecord, error) {
	return r.table.Scan(ctx)
}

// IsRecoverable reports whether an Upsert error concerns only the record,
// either a missing name or a conflict that outlasted the retries, so the
// caller can move on to the next record.
func IsRecoverable(err error) bool {
	switch resilience.KindOf(err) {
	case resilience.KindNoData, resilience.KindStorageConflict:
		return true
	default:
		return false
	}
}
