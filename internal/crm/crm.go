// Package crm mirrors stored contacts into external CRMs. Every sink keys
// records by phone, the field the store already keeps unique.
package crm

import (
	"context"

	"github.com/sells-group/thotem-cli/internal/model"
)

// Stats counts what a push did.
type Stats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Skipped records have no phone and so no key in the CRM.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sink receives the full contact list.
type Sink interface {
	Name() string
	Push(ctx context.Context, records []model.ContactRecord) (Stats, error)
}

// street joins the street number and name the way an address line reads.
func street(r model.ContactRecord) string {
	switch {
	case r.StreetNumber == "":
		return r.StreetName
	case r.StreetName == "":
		return r.StreetNumber
	default:
		return r.StreetNumber + " " + r.StreetName
	}
}
