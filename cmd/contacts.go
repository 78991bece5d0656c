package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/export"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/store"
)

var (
	contactsFormat   string
	contactsToDriver string
	contactsToDSN    string
	contactsIn       string
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Inspect and move stored contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contacts and their count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		records, err := backend.Scan(ctx)
		if err != nil {
			return err
		}
		return writeContacts(cmd.OutOrStdout(), contactsFormat, records)
	},
}

var contactsCopyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy every contact into another store",
	Long:  "Reads all contacts from the configured store and upserts them into the target store, keeping one record per phone there too.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if contactsToDSN == "" {
			return eris.New("--to-dsn is required")
		}
		src, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		dst, err := openStore(ctx, contactsToDriver, contactsToDSN, cfg.Store.KeySchema)
		if err != nil {
			return eris.Wrap(err, "open target store")
		}
		defer dst.Close() //nolint:errcheck

		records, err := src.Scan(ctx)
		if err != nil {
			return err
		}
		counts, err := upsertAll(ctx, store.NewReconciler(dst, cfg.Ingest.ConflictRetries), export.Contacts(records))
		if err != nil {
			return err
		}
		printCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

var contactsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert contacts from a JSON or CSV export",
	Long:  "Reads a file written by contacts list --format json|csv or export csv and upserts every record, keeping one record per phone. The format follows the file extension.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(contactsIn)
		if err != nil {
			return eris.Wrap(err, "open input")
		}
		defer f.Close() //nolint:errcheck

		records, err := readContacts(ctx, contactsIn, f)
		if err != nil {
			return err
		}

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		counts, err := upsertAll(ctx, store.NewReconciler(backend, cfg.Ingest.ConflictRetries), records)
		if err != nil {
			return err
		}
		printCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

func readContacts(ctx context.Context, name string, r io.Reader) ([]model.ContactRecord, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return export.ReadCSV(ctx, r)
	case ".json", "":
		return export.ReadJSON(r)
	default:
		return nil, eris.Errorf("cannot import %s: want a .json or .csv file", name)
	}
}

// upsertAll writes records in order through the reconciler. Records the
// store rejects are logged and skipped; fatal storage errors stop the copy.
func upsertAll(ctx context.Context, r *store.Reconciler, records []model.ContactRecord) (map[model.Outcome]int, error) {
	counts := make(map[model.Outcome]int)
	for _, rec := range records {
		outcome, err := r.Upsert(ctx, rec)
		if err != nil {
			if !store.IsRecoverable(err) {
				return counts, eris.Wrapf(err, "upsert %s", rec.Name)
			}
			zap.L().Warn("contact not written", zap.String("name", rec.Name), zap.Error(err))
			continue
		}
		counts[outcome]++
	}
	return counts, nil
}

func printCounts(out io.Writer, counts map[model.Outcome]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, o := range []model.Outcome{model.Inserted, model.Superseded, model.ConflictResolved, model.Skipped} {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", o, counts[o])
	}
	_ = w.Flush()
}

func writeContacts(out io.Writer, format string, stored []model.StoredRecord) error {
	records := export.Contacts(stored)
	switch format {
	case "json":
		return export.WriteJSON(out, records)
	case "yaml":
		return export.WriteYAML(out, records)
	case "csv":
		return export.WriteCSV(out, records)
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tPHONE\tEMAIL\tADDRESS\tUPDATED")
		_, _ = fmt.Fprintln(w, "----\t-----\t-----\t-------\t-------")
		for _, r := range stored {
			addr := fmt.Sprintf("%s %s, %s %s", r.StreetNumber, r.StreetName, r.PostalCode, r.TownName)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Phone, r.Email, addr, r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		_ = w.Flush()
		_, _ = fmt.Fprintf(out, "\n%d contacts\n", len(stored))
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json, yaml or csv)", format)
	}
}

func init() {
	contactsListCmd.Flags().StringVar(&contactsFormat, "format", "table", "output format: table, json, yaml or csv")
	contactsCopyCmd.Flags().StringVar(&contactsToDriver, "to-driver", "sqlite", "target store driver")
	contactsCopyCmd.Flags().StringVar(&contactsToDSN, "to-dsn", "", "target database path or URL")
	contactsImportCmd.Flags().StringVar(&contactsIn, "in", "", "JSON or CSV file written by contacts list or export csv")
	_ = contactsImportCmd.MarkFlagRequired("in")

	contactsCmd.AddCommand(contactsListCmd, contactsCopyCmd, contactsImportCmd)
	rootCmd.AddCommand(contactsCmd)
}
