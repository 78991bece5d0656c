package crm

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/pkg/notion"
)

// Notion database property names.
const (
	PropName       = "Name"
	PropPhone      = "Phone"
	PropEmail      = "Email"
	PropStreet     = "Street"
	PropPostalCode = "Postal Code"
	PropTown       = "Town"
)

// NotionSink keeps one page per phone in a Notion database.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink returns a sink writing to database dbID.
func NewNotionSink(c notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: c, dbID: dbID}
}

func (s *NotionSink) Name() string { return "notion" }

// Push creates a page for each new phone and rewrites pages whose fields
// differ from the record. Pages for phones no longer stored are left alone.
func (s *NotionSink) Push(ctx context.Context, records []model.ContactRecord) (Stats, error) {
	var stats Stats
	log := zap.L().With(zap.String("component", "crm.notion"), zap.String("database", s.dbID))

	pages, err := notion.QueryAll(ctx, s.client, s.dbID, nil)
	if err != nil {
		return stats, eris.Wrap(err, "crm: list notion pages")
	}
	byPhone := make(map[string]notionapi.Page, len(pages))
	for _, p := range pages {
		if phone := notion.PlainText(p.Properties[PropPhone]); phone != "" {
			byPhone[phone] = p
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "crm: notion push cancelled")
		}
		if rec.Phone == "" {
			stats.Skipped++
			continue
		}
		props := notionProperties(rec)

		page, ok := byPhone[rec.Phone]
		switch {
		case ok && samePage(page.Properties, props):
			stats.Unchanged++
		case ok:
			if _, err := s.client.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{Properties: props}); err != nil {
				log.Warn("update page failed", zap.String("phone", rec.Phone), zap.Error(err))
				stats.Failed++
				continue
			}
			stats.Updated++
		default:
			req := &notionapi.PageCreateRequest{
				Parent: notionapi.Parent{
					Type:       notionapi.ParentTypeDatabaseID,
					DatabaseID: notionapi.DatabaseID(s.dbID),
				},
				Properties: createProperties(props),
			}
			if _, err := s.client.CreatePage(ctx, req); err != nil {
				log.Warn("create page failed", zap.String("phone", rec.Phone), zap.Error(err))
				stats.Failed++
				continue
			}
			stats.Created++
		}
	}
	return stats, nil
}

func notionProperties(r model.ContactRecord) notionapi.Properties {
	props := notionapi.Properties{
		PropName:       notion.Title(r.Name),
		PropPhone:      notion.Phone(r.Phone),
		PropStreet:     notion.Text(street(r)),
		PropPostalCode: notion.Text(r.PostalCode),
		PropTown:       notion.Text(r.TownName),
	}
	if r.Email != "" {
		props[PropEmail] = notion.Email(r.Email)
	} else {
		props[PropEmail] = notion.NullEmail{}
	}
	return props
}

// createProperties drops cleared fields, which a new page has no use for.
func createProperties(props notionapi.Properties) notionapi.Properties {
	out := make(notionapi.Properties, len(props))
	for k, v := range props {
		if _, null := v.(notion.NullEmail); !null {
			out[k] = v
		}
	}
	return out
}

func samePage(have, want notionapi.Properties) bool {
	for k, v := range want {
		if notion.PlainText(have[k]) != notion.PlainText(v) {
			return false
		}
	}
	return true
}
