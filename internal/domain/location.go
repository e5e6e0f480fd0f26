package domain

import (
	"slices"
	"strings"
)

type Location string

const (
	LocationShop    Location = "Shop"
	LocationTerrace Location = "Terrace"
	LocationGodown  Location = "Godown"
)

// Locations is the closed set of stock-holding sites, in display order.
var Locations = []Location{LocationShop, LocationTerrace, LocationGodown}

var locationAliases = map[string]Location{
	"shop":           LocationShop,
	"terrace":        LocationTerrace,
	"terrace godown": LocationTerrace,
	"godown":         LocationGodown,
	"big godown":     LocationGodown,
	"big":            LocationGodown,
}

// ParseLocation resolves a free-form location cell to one of Locations.
func ParseLocation(raw string) (Location, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	loc, ok := locationAliases[key]
	return loc, ok
}

// OpeningColumn is the Products column holding the opening balance for l.
func (l Location) OpeningColumn() string {
	return "Op_" + string(l)
}

// LegacyOpeningColumn is the column name older sheets used (Op_<first word of
// the display name>); only Godown differs.
func (l Location) LegacyOpeningColumn() string {
	if l == LocationGodown {
		return "Op_Big"
	}
	return l.OpeningColumn()
}

func (l Location) Valid() bool {
	return slices.Contains(Locations, l)
}
