// Package export writes stored contact records as CSV, XLSX, JSON or YAML,
// reads CSV and JSON exports back, and filters exported CSV files by region.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/thotem-cli/internal/fetcher"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/normalize"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Contacts"

// Contacts strips the storage metadata from stored records.
func Contacts(stored []model.StoredRecord) []model.ContactRecord {
	out := make([]model.ContactRecord, len(stored))
	for i, s := range stored {
		out[i] = s.ContactRecord
	}
	return out
}

// WriteCSV writes a header of the record field names followed by one row
// per record.
func WriteCSV(w io.Writer, records []model.ContactRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes the records to a single Contacts sheet with the same
// columns as WriteCSV.
func WriteXLSX(w io.Writer, records []model.ContactRecord) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, model.Columns)
	for _, r := range records {
		addRow(sheet, r.Row())
	}
	if err := file.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WriteJSON writes the records as an indented JSON array.
func WriteJSON(w io.Writer, records []model.ContactRecord) error {
	if records == nil {
		records = []model.ContactRecord{}
	}
	return EncodeJSON(w, records)
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "export: write json")
}

// WriteYAML writes the records as a YAML sequence.
func WriteYAML(w io.Writer, records []model.ContactRecord) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return eris.Wrap(err, "export: write yaml")
	}
	return eris.Wrap(enc.Close(), "export: close yaml")
}

// ReadJSON reads a JSON array written by WriteJSON.
func ReadJSON(r io.Reader) ([]model.ContactRecord, error) {
	recs, err := fetcher.DecodeJSON[[]model.ContactRecord](r, 0)
	if err != nil {
		return nil, eris.Wrap(err, "export: read json")
	}
	return recs, nil
}

// ReadCSV reads a CSV written by WriteCSV. Columns are matched by header
// name, so reordered or partial files load; unknown columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader) ([]model.ContactRecord, error) {
	in, err := fetcher.OpenCSV(r, fetcher.CSVOptions{TrimSpace: true})
	if err != nil {
		return nil, eris.Wrap(err, "export: read csv")
	}
	if in.Header == nil {
		return nil, nil
	}
	known := 0
	for _, c := range model.Columns {
		if in.Column(c) >= 0 {
			known++
		}
	}
	if known == 0 {
		return nil, eris.Errorf("export: csv header %v has none of %v", in.Header, model.Columns)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := in.Rows(ctx)

	var out []model.ContactRecord
	values := make([]string, len(model.Columns))
	for row := range rowCh {
		for i, c := range model.Columns {
			values[i] = in.Get(row, c)
		}
		out = append(out, model.RecordFromRow(values))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "export: read csv")
	}
	return out, nil
}

// FilterStats counts what FilterRegion did.
type FilterStats struct {
	Read       int
	Kept       int
	Duplicates int
}

// FilterRegion copies the rows of an exported CSV whose postal code falls in
// region, dropping rows identical to one already written. The header is
// copied as is. Without a postal_code header the column is assumed to sit
// where WriteCSV puts it. charset names the input encoding ("" for UTF-8);
// the output is always UTF-8.
func FilterRegion(ctx context.Context, r io.Reader, region normalize.Region, charset string, w io.Writer) (FilterStats, error) {
	var stats FilterStats

	in, err := fetcher.OpenCSV(r, fetcher.CSVOptions{Charset: charset})
	if err != nil {
		return stats, eris.Wrap(err, "export: read csv")
	}
	if in.Header == nil {
		return stats, nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(in.Header); err != nil {
		return stats, eris.Wrap(err, "export: write header")
	}
	postalIdx := in.Column("postal_code")
	if postalIdx < 0 {
		postalIdx = slices.Index(model.Columns, "postal_code")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := in.Rows(ctx)

	seen := make(map[string]struct{})
	for row := range rowCh {
		stats.Read++
		if postalIdx >= len(row.Fields) || !region.Contains(row.Fields[postalIdx]) {
			continue
		}
		key := strings.Join(row.Fields, "\x1f")
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		if err := cw.Write(row.Fields); err != nil {
			return stats, eris.Wrapf(err, "export: write row from line %d", row.Line)
		}
		stats.Kept++
	}
	if err := <-errCh; err != nil {
		return stats, eris.Wrap(err, "export: read csv")
	}
	cw.Flush()
	return stats, eris.Wrap(cw.Error(), "export: flush csv")
}
