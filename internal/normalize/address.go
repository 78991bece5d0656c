package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thotem-cli/internal/model"
)

// AddressSeparator joins the street, postal code and town in raw addresses.
const AddressSeparator = " - "

var (
	// ErrMalformedAddress means the address did not split into street,
	// postal code and town.
	ErrMalformedAddress = eris.New("address does not have three components")
	// ErrMalformedStreet means the street component has no leading number.
	ErrMalformedStreet = eris.New("street has no leading number")
)

var streetRe = regexp.MustCompile(`^(\d+)\s+(.*)$`)

// Address is a parsed correspondent address.
type Address struct {
	StreetNumber string
	StreetName   string
	PostalCode   string
	TownName     string
}

// InvalidAddress has every field set to model.InvalidField.
var InvalidAddress = Address{
	StreetNumber: model.InvalidField,
	StreetName:   model.InvalidField,
	PostalCode:   model.InvalidField,
	TownName:     model.InvalidField,
}

// ParseAddress splits "12 Rue de la Paix - 75002 - Paris" into its parts.
// The split is bounded to three parts so a town containing the separator
// stays whole. On ErrMalformedAddress or ErrMalformedStreet the returned
// Address is InvalidAddress, never a partial value.
func ParseAddress(raw string) (Address, error) {
	parts := strings.SplitN(raw, AddressSeparator, 3)
	if len(parts) != 3 {
		return InvalidAddress, ErrMalformedAddress
	}

	m := streetRe.FindStringSubmatch(parts[0])
	if m == nil {
		return InvalidAddress, ErrMalformedStreet
	}

	return Address{
		StreetNumber: m[1],
		StreetName:   m[2],
		PostalCode:   parts[1],
		TownName:     parts[2],
	}, nil
}

// Apply copies the address fields onto rec.
func (a Address) Apply(rec *model.ContactRecord) {
	rec.StreetNumber = a.StreetNumber
	rec.StreetName = a.StreetName
	rec.PostalCode = a.PostalCode
	rec.TownName = a.TownName
}
