package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/crm"
	"github.com/sells-group/thotem-cli/internal/export"
	"github.com/sells-group/thotem-cli/internal/store"
	"github.com/sells-group/thotem-cli/pkg/notion"
	sfpkg "github.com/sells-group/thotem-cli/pkg/salesforce"
)

var contactsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Mirror stored contacts into a CRM, keyed by phone",
}

var pushNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Create or update one Notion page per phone",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("push-notion"); err != nil {
			return err
		}
		client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimitRPS))
		return runPush(cmd, crm.NewNotionSink(client, cfg.Notion.DatabaseID))
	},
}

var pushSalesforceCmd = &cobra.Command{
	Use:   "salesforce",
	Short: "Create or update one Salesforce Lead per phone",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("push-salesforce"); err != nil {
			return err
		}
		client, err := initSalesforce()
		if err != nil {
			return err
		}
		return runPush(cmd, crm.NewSalesforceSink(client, cfg.Salesforce.LeadSource))
	},
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimitRPS)), nil
}

func runPush(cmd *cobra.Command, sink crm.Sink) error {
	ctx := cmd.Context()
	backend, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	stats, err := pushContacts(ctx, backend, sink)
	printPushStats(cmd.OutOrStdout(), sink.Name(), stats)
	return err
}

// pushContacts sends every stored contact to sink.
func pushContacts(ctx context.Context, table store.Table, sink crm.Sink) (crm.Stats, error) {
	records, err := table.Scan(ctx)
	if err != nil {
		return crm.Stats{}, err
	}
	stats, err := sink.Push(ctx, export.Contacts(records))
	zap.L().Info("crm push finished",
		zap.String("sink", sink.Name()),
		zap.Int("contacts", len(records)),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
	)
	if err != nil {
		return stats, eris.Wrapf(err, "push to %s", sink.Name())
	}
	return stats, nil
}

func printPushStats(w io.Writer, name string, s crm.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SINK\tCREATED\tUPDATED\tUNCHANGED\tSKIPPED\tFAILED\n")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", name, s.Created, s.Updated, s.Unchanged, s.Skipped, s.Failed)
	_ = tw.Flush()
}

func init() {
	contactsPushCmd.AddCommand(pushNotionCmd, pushSalesforceCmd)
	contactsCmd.AddCommand(contactsPushCmd)
}
