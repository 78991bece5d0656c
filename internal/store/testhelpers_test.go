package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/model"
)

func newTestSQLite(t *testing.T, schema model.KeySchema) *SQLiteTable {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "contacts.db"), schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func contact(name, phone string) model.ContactRecord {
	return model.ContactRecord{
		Name:         name,
		Phone:        phone,
		Email:        name + "@example.fr",
		StreetNumber: "12",
		StreetName:   "Rue de la Paix",
		PostalCode:   "29200",
		TownName:     "Brest",
	}
}
