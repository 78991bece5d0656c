// Package model defines the contact records collected from the charging-point
// feed and the outcomes of writing them to the store.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PointID is the opaque identifier of a charging point in the feed, with the
// "placemark" prefix already removed.
type PointID string

// InvalidField is written to every address field when the raw address could
// not be parsed.
const InvalidField = "invalid"

// ContactRecord is one installer correspondent. Field order matches the
// export column order.
type ContactRecord struct {
	Name         string `json:"name" yaml:"name"`
	Phone        string `json:"phone" yaml:"phone"`
	Email        string `json:"email" yaml:"email"`
	StreetNumber string `json:"street_number" yaml:"street_number"`
	StreetName   string `json:"street_name" yaml:"street_name"`
	PostalCode   string `json:"postal_code" yaml:"postal_code"`
	TownName     string `json:"town_name" yaml:"town_name"`
}

// Columns lists the record fields in export order.
var Columns = []string{"name", "phone", "email", "street_number", "street_name", "postal_code", "town_name"}

// Row returns the field values in Columns order.
func (r ContactRecord) Row() []string {
	return []string{r.Name, r.Phone, r.Email, r.StreetNumber, r.StreetName, r.PostalCode, r.TownName}
}

// RecordFromRow builds a record from values in Columns order. Missing
// trailing values are left empty.
func RecordFromRow(row []string) ContactRecord {
	get := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	return ContactRecord{
		Name:         get(0),
		Phone:        get(1),
		Email:        get(2),
		StreetNumber: get(3),
		StreetName:   get(4),
		PostalCode:   get(5),
		TownName:     get(6),
	}
}

// Validate checks the record can be stored: a primary key needs a name.
func (r ContactRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return eris.New("model: contact record has an empty name")
	}
	return nil
}

// HasValidPhone reports whether the phone is a normalized French number:
// eleven digits starting with 33.
func (r ContactRecord) HasValidPhone() bool {
	if len(r.Phone) != 11 || !strings.HasPrefix(r.Phone, "33") {
		return false
	}
	for _, c := range r.Phone {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// HasAddress reports whether the address fields were parsed successfully.
func (r ContactRecord) HasAddress() bool {
	return r.StreetNumber != InvalidField && r.PostalCode != InvalidField
}

// KeySchema selects which fields form the store's primary key.
type KeySchema string

const (
	KeyByName      KeySchema = "name"
	KeyByNameEmail KeySchema = "name_email"
)

// ParseKeySchema validates a configured key schema. Empty means KeyByName.
func ParseKeySchema(s string) (KeySchema, error) {
	switch KeySchema(s) {
	case "", KeyByName:
		return KeyByName, nil
	case KeyByNameEmail:
		return KeyByNameEmail, nil
	default:
		return "", eris.Errorf("model: unknown key schema %q (want name or name_email)", s)
	}
}

// Key is the primary key of a stored record. Email is always empty under
// KeyByName.
type Key struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (k Key) String() string {
	if k.Email == "" {
		return k.Name
	}
	return k.Name + " <" + k.Email + ">"
}

// Key returns the record's primary key under schema.
func (r ContactRecord) Key(schema KeySchema) Key {
	if schema == KeyByNameEmail {
		return Key{Name: r.Name, Email: r.Email}
	}
	return Key{Name: r.Name}
}

// StoredRecord is a record as persisted, with its last write time.
type StoredRecord struct {
	ContactRecord
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Outcome is the result of reconciling one record into the store.
type Outcome int

const (
	// Inserted means a new key was created.
	Inserted Outcome = iota
	// Superseded means an existing record under the same key was overwritten.
	Superseded
	// Skipped means the record had no phone and nothing was written.
	Skipped
	// ConflictResolved means a record under another key held the phone and
	// was replaced by this one.
	ConflictResolved
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Superseded:
		return "superseded"
	case Skipped:
		return "skipped"
	case ConflictResolved:
		return "conflict_resolved"
	default:
		return "unknown"
	}
}

// Written reports whether the outcome changed the store.
func (o Outcome) Written() bool {
	return o != Skipped
}
