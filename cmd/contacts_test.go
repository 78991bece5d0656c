package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thotem-cli/internal/export"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/store"
)

func TestWriteContacts_Table(t *testing.T) {
	b := newTestBackend(t)
	seedContacts(t, b,
		testContact("alpha", "33611111111", "29200", "Brest"),
		testContact("bravo", "33622222222", "35000", "Rennes"),
	)
	stored, err := b.Scan(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeContacts(&buf, "table", stored))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "4 Quai de la Douane, 29200 Brest")
	assert.True(t, strings.HasSuffix(out, "\n2 contacts\n"))
}

func TestWriteContacts_Formats(t *testing.T) {
	stored := []model.StoredRecord{{ContactRecord: testContact("alpha", "33611111111", "29200", "Brest")}}

	var js bytes.Buffer
	require.NoError(t, writeContacts(&js, "json", stored))
	var got []model.ContactRecord
	require.NoError(t, json.Unmarshal(js.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "33611111111", got[0].Phone)

	var y bytes.Buffer
	require.NoError(t, writeContacts(&y, "yaml", stored))
	assert.Contains(t, y.String(), "phone: \"33611111111\"")

	var c bytes.Buffer
	require.NoError(t, writeContacts(&c, "csv", stored))
	assert.Len(t, strings.Split(strings.TrimSpace(c.String()), "\n"), 2)

	assert.Error(t, writeContacts(&bytes.Buffer{}, "xml", stored))
}

func TestUpsertAll_CopiesBetweenStores(t *testing.T) {
	ctx := context.Background()
	src := newTestBackend(t)
	seedContacts(t, src,
		testContact("alpha", "33611111111", "29200", "Brest"),
		testContact("bravo", "33622222222", "35000", "Rennes"),
	)
	dst := newTestBackend(t)
	// bravo's phone is already held by someone else in the target.
	seedContacts(t, dst, testContact("zulu", "33622222222", "56000", "Vannes"))

	stored, err := src.Scan(ctx)
	require.NoError(t, err)

	counts, err := upsertAll(ctx, store.NewReconciler(dst, 0), export.Contacts(stored))
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.Inserted])
	assert.Equal(t, 1, counts[model.ConflictResolved])

	n, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	holder, err := dst.FindByPhone(ctx, "33622222222")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "bravo", holder.Name)
}

func TestUpsertAll_SkipsRecordsWithoutName(t *testing.T) {
	dst := newTestBackend(t)
	records := []model.ContactRecord{
		testContact("", "33611111111", "29200", "Brest"),
		testContact("alpha", "", "29200", "Brest"),
	}

	counts, err := upsertAll(context.Background(), store.NewReconciler(dst, 0), records)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.Skipped])
	assert.Zero(t, counts[model.Inserted])
}

func TestPrintCounts(t *testing.T) {
	var buf bytes.Buffer
	printCounts(&buf, map[model.Outcome]int{model.Inserted: 3, model.Skipped: 1})

	out := buf.String()
	assert.Contains(t, out, model.Inserted.String())
	assert.Contains(t, out, "3")
	assert.Contains(t, out, model.ConflictResolved.String())
}

func TestReadContacts_ByExtension(t *testing.T) {
	ctx := context.Background()
	recs := []model.ContactRecord{testContact("alpha", "33611111111", "29200", "Brest")}

	var js bytes.Buffer
	require.NoError(t, export.WriteJSON(&js, recs))
	got, err := readContacts(ctx, "contacts.json", &js)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	var c bytes.Buffer
	require.NoError(t, export.WriteCSV(&c, recs))
	got, err = readContacts(ctx, "Contacts.CSV", &c)
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	_, err = readContacts(ctx, "contacts.xlsx", strings.NewReader(""))
	assert.Error(t, err)
}
