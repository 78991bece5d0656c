package crm

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/pkg/salesforce"
)

// DefaultLeadSource tags leads created by the sync.
const DefaultLeadSource = "Qualifelec IRVE"

// SalesforceSink keeps one Lead per phone.
type SalesforceSink struct {
	client     salesforce.Client
	leadSource string
}

// NewSalesforceSink returns a sink writing Leads. An empty leadSource uses
// DefaultLeadSource.
func NewSalesforceSink(c salesforce.Client, leadSource string) *SalesforceSink {
	if leadSource == "" {
		leadSource = DefaultLeadSource
	}
	return &SalesforceSink{client: c, leadSource: leadSource}
}

func (s *SalesforceSink) Name() string { return "salesforce" }

// Push inserts a Lead for each new phone and updates the Lead already
// holding a known phone.
func (s *SalesforceSink) Push(ctx context.Context, records []model.ContactRecord) (Stats, error) {
	var stats Stats
	log := zap.L().With(zap.String("component", "crm.salesforce"))

	phones := make([]string, 0, len(records))
	for _, r := range records {
		if r.Phone != "" {
			phones = append(phones, r.Phone)
		}
	}
	existing, err := salesforce.FindLeadsByPhone(ctx, s.client, phones)
	if err != nil {
		return stats, eris.Wrap(err, "crm: find salesforce leads")
	}

	var inserts []map[string]any
	var updates []salesforce.CollectionRecord
	for _, r := range records {
		if r.Phone == "" {
			stats.Skipped++
			continue
		}
		fields := s.leadFields(r)
		if lead, ok := existing[r.Phone]; ok {
			// LeadSource records where a lead first came from.
			delete(fields, "LeadSource")
			updates = append(updates, salesforce.CollectionRecord{ID: lead.ID, Fields: fields})
			continue
		}
		inserts = append(inserts, fields)
	}

	created, err := salesforce.InsertLeads(ctx, s.client, inserts)
	stats.Created, stats.Failed = countResults(log, "insert", created, stats.Failed)
	if err != nil {
		return stats, eris.Wrap(err, "crm: insert salesforce leads")
	}
	updated, err := salesforce.UpdateLeads(ctx, s.client, updates)
	stats.Updated, stats.Failed = countResults(log, "update", updated, stats.Failed)
	if err != nil {
		return stats, eris.Wrap(err, "crm: update salesforce leads")
	}
	return stats, nil
}

func (s *SalesforceSink) leadFields(r model.ContactRecord) map[string]any {
	return map[string]any{
		"Company":    r.Name,
		"LastName":   r.Name,
		"Phone":      r.Phone,
		"Email":      r.Email,
		"Street":     street(r),
		"PostalCode": r.PostalCode,
		"City":       r.TownName,
		"Country":    "France",
		"LeadSource": s.leadSource,
	}
}

func countResults(log *zap.Logger, op string, results []salesforce.CollectionResult, failed int) (ok, stillFailed int) {
	for _, r := range results {
		if r.Success {
			ok++
			continue
		}
		failed++
		log.Warn("lead "+op+" rejected", zap.String("id", r.ID), zap.Strings("errors", r.Errors))
	}
	return ok, failed
}
