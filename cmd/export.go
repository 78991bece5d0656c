package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/export"
	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/normalize"
)

var (
	exportOut     string
	exportIn      string
	exportRegion  string
	exportCharset string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored contacts to files",
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write all contacts to a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportTo(cmd, exportOut, export.WriteCSV)
	},
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx",
	Short: "Write all contacts to an Excel workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportTo(cmd, exportOut, export.WriteXLSX)
	},
}

var exportFilterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Keep the rows of an exported CSV that belong to a region",
	RunE: func(cmd *cobra.Command, args []string) error {
		region, err := normalize.LookupRegion(exportRegion)
		if err != nil {
			return err
		}
		in, err := os.Open(exportIn)
		if err != nil {
			return eris.Wrap(err, "open input")
		}
		defer in.Close() //nolint:errcheck

		var stats export.FilterStats
		err = writeOutput(cmd.Context(), exportOut, func(w io.Writer) error {
			var ferr error
			stats, ferr = export.FilterRegion(cmd.Context(), in, region, exportCharset, w)
			return ferr
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows kept for %s (%d duplicates dropped) -> %s\n",
			stats.Kept, stats.Read, region.Name, stats.Duplicates, exportOut)
		return nil
	},
}

func exportTo(cmd *cobra.Command, path string, write func(w io.Writer, records []model.ContactRecord) error) error {
	ctx := cmd.Context()
	backend, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	stored, err := backend.Scan(ctx)
	if err != nil {
		return err
	}

	records := export.Contacts(stored)
	if err := writeOutput(ctx, path, func(w io.Writer) error { return write(w, records) }); err != nil {
		return err
	}

	zap.L().Info("contacts exported", zap.String("path", path), zap.Int("records", len(stored)))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d contacts written to %s\n", len(stored), path)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{exportCSVCmd, exportXLSXCmd} {
		c.Flags().StringVar(&exportOut, "out", "", "output file or ftp:// URL")
		_ = c.MarkFlagRequired("out")
	}
	exportFilterCmd.Flags().StringVar(&exportIn, "in", "", "CSV file written by export csv")
	exportFilterCmd.Flags().StringVar(&exportOut, "out", "", "output file or ftp:// URL")
	exportFilterCmd.Flags().StringVar(&exportRegion, "region", "bretagne", "region name (bretagne, pays_de_la_loire)")
	exportFilterCmd.Flags().StringVar(&exportCharset, "charset", "", "input encoding, e.g. iso-8859-1 (default UTF-8)")
	_ = exportFilterCmd.MarkFlagRequired("in")
	_ = exportFilterCmd.MarkFlagRequired("out")

	exportCmd.AddCommand(exportCSVCmd, exportXLSXCmd, exportFilterCmd)
	rootCmd.AddCommand(exportCmd)
}
