package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll pages through a database query and returns every result.
func QueryAll(ctx context.Context, c Client, dbID string, filter notionapi.Filter) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor
	for {
		resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
			Filter:      filter,
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// Text builds a rich text property.
func Text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// Phone builds a phone number property.
func Phone(s string) notionapi.PhoneNumberProperty {
	return notionapi.PhoneNumberProperty{Type: notionapi.PropertyTypePhoneNumber, PhoneNumber: s}
}

// Email builds an email property.
func Email(s string) notionapi.EmailProperty {
	return notionapi.EmailProperty{Type: notionapi.PropertyTypeEmail, Email: s}
}

// NullEmail is an email property that encodes as {"email": null}. Notion
// rejects an empty email string; null clears the field.
type NullEmail struct{}

func (NullEmail) GetID() string { return "" }

func (NullEmail) GetType() notionapi.PropertyType { return notionapi.PropertyTypeEmail }

func (NullEmail) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"email","email":null}`), nil
}

// PlainText returns the text of a title, rich text, phone or email property.
// Pages decoded from the API hold pointer properties; locally built ones hold
// values, so both are accepted.
func PlainText(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(v.Title)
	case notionapi.TitleProperty:
		return joinRichText(v.Title)
	case *notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	case notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	case *notionapi.PhoneNumberProperty:
		return v.PhoneNumber
	case notionapi.PhoneNumberProperty:
		return v.PhoneNumber
	case *notionapi.EmailProperty:
		return v.Email
	case notionapi.EmailProperty:
		return v.Email
	default:
		return ""
	}
}

func joinRichText(parts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range parts {
		if rt.Text != nil {
			sb.WriteString(rt.Text.Content)
		} else {
			sb.WriteString(rt.PlainText)
		}
	}
	return sb.String()
}
