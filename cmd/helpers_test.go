package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/store"
)

// newTestBackend opens a migrated sqlite store in a temp dir.
func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	b, err := openStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "thotem.db"), "name")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seedContacts(t *testing.T, table store.Table, records ...model.ContactRecord) {
	t.Helper()
	r := store.NewReconciler(table, 0)
	for _, rec := range records {
		_, err := r.Upsert(context.Background(), rec)
		require.NoError(t, err)
	}
}

func testContact(name, phone, postal, town string) model.ContactRecord {
	return model.ContactRecord{
		Name:         name,
		Phone:        phone,
		Email:        "contact@" + name + ".fr",
		StreetNumber: "4",
		StreetName:   "Quai de la Douane",
		PostalCode:   postal,
		TownName:     town,
	}
}
