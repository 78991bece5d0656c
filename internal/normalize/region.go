package normalize

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Region is a French administrative region identified by the postal code
// prefixes (departments) it covers.
type Region struct {
	Name     string
	Prefixes []string
}

var regions = map[string]Region{
	"bretagne":         {Name: "bretagne", Prefixes: []string{"22", "29", "35", "56"}},
	"pays_de_la_loire": {Name: "pays_de_la_loire", Prefixes: []string{"44", "49", "53", "72", "85"}},
}

// LookupRegion returns the region registered under name (case-insensitive).
func LookupRegion(name string) (Region, error) {
	r, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Region{}, eris.Errorf("normalize: unknown region %q (known: %s)", name, strings.Join(RegionNames(), ", "))
	}
	return r, nil
}

// RegionNames lists the known region names in sorted order.
func RegionNames() []string {
	names := make([]string, 0, len(regions))
	for n := range regions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Contains reports whether the postal code belongs to one of the region's
// departments.
func (r Region) Contains(postalCode string) bool {
	postalCode = strings.TrimSpace(postalCode)
	for _, p := range r.Prefixes {
		if strings.HasPrefix(postalCode, p) {
			return true
		}
	}
	return false
}
