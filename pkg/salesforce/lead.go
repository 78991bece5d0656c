package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxBatchSize is the Collections API limit per request.
const MaxBatchSize = 200

// phonesPerQuery keeps the IN clause well under the SOQL length limit.
const phonesPerQuery = 100

// Lead is the part of a Salesforce Lead the sync reads back.
type Lead struct {
	ID      string `json:"Id" salesforce:"Id"`
	Company string `json:"Company" salesforce:"Company"`
	Phone   string `json:"Phone" salesforce:"Phone"`
	Email   string `json:"Email" salesforce:"Email"`
}

// FindLeadsByPhone returns the existing leads whose Phone is one of phones,
// keyed by phone. When several leads share a phone the first one returned
// wins.
func FindLeadsByPhone(ctx context.Context, c Client, phones []string) (map[string]Lead, error) {
	out := make(map[string]Lead, len(phones))
	for start := 0; start < len(phones); start += phonesPerQuery {
		end := min(start+phonesPerQuery, len(phones))
		quoted := make([]string, 0, end-start)
		for _, p := range phones[start:end] {
			quoted = append(quoted, "'"+escapeSoql(p)+"'")
		}
		soql := fmt.Sprintf("SELECT Id, Company, Phone, Email FROM Lead WHERE Phone IN (%s)", strings.Join(quoted, ", "))

		var leads []Lead
		if err := c.Query(ctx, soql, &leads); err != nil {
			return nil, eris.Wrapf(err, "sf: find leads by phone %d-%d", start, end)
		}
		for _, l := range leads {
			if _, seen := out[l.Phone]; !seen {
				out[l.Phone] = l
			}
		}
	}
	return out, nil
}

// InsertLeads creates leads in batches of MaxBatchSize.
func InsertLeads(ctx context.Context, c Client, records []map[string]any) ([]CollectionResult, error) {
	var all []CollectionResult
	for start := 0; start < len(records); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(records))
		res, err := c.InsertCollection(ctx, "Lead", records[start:end])
		if err != nil {
			return all, eris.Wrapf(err, "sf: insert leads batch %d-%d", start, end)
		}
		all = append(all, res...)
	}
	return all, nil
}

// UpdateLeads updates leads in batches of MaxBatchSize.
func UpdateLeads(ctx context.Context, c Client, records []CollectionRecord) ([]CollectionResult, error) {
	var all []CollectionResult
	for start := 0; start < len(records); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(records))
		res, err := c.UpdateCollection(ctx, "Lead", records[start:end])
		if err != nil {
			return all, eris.Wrapf(err, "sf: update leads batch %d-%d", start, end)
		}
		all = append(all, res...)
	}
	return all, nil
}

// escapeSoql escapes single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
