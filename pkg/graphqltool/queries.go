package graphqltool

import (
	"fmt"
	"strconv"
)

// Query types the classifier may produce.
const (
	QueryCountryProfile  = "country_profile"
	QueryTreemapProducts = "treemap_products"
	QueryTreemapPartners = "treemap_partners"
	QueryNewProducts     = "new_products"
	QueryCountryGrowth   = "country_growth"
	QueryProductSpaceRCA = "product_space_rca"
	QueryOutOfScope      = "out_of_scope"
)

// Sub-APIs. Profile-style queries hit Country Pages; treemap and
// new-products queries hit Explore.
const (
	APITargetCountryPages = "Country Pages"
	APITargetExplore      = "Explore"
)

// apiTargetFor maps a query type to its sub-API.
func apiTargetFor(queryType string) (string, error) {
	switch queryType {
	case QueryCountryProfile, QueryCountryGrowth:
		return APITargetCountryPages, nil
	case QueryTreemapProducts, QueryTreemapPartners, QueryNewProducts, QueryProductSpaceRCA:
		return APITargetExplore, nil
	}
	return "", fmt.Errorf("query type %q has no API target", queryType)
}

// Fixed query template set, keyed by query type. Resolved IDs bind as
// variables; templates are never built from user text. Partner and
// product filters are nullable Int variables: they bind null when the
// question names no partner or product.
var queryTemplates = map[string]string{
	QueryCountryProfile: `query CountryProfile($countryId: Int!) {
  countryProfile(countryId: $countryId) {
    country { nameEn iso3Code }
    eci
    eciRank
    numCountriesRanked
    diversificationGrade
    expectedGrowth
    gdpPerCapita
  }
}`,
	QueryCountryGrowth: `query CountryGrowth($countryId: Int!) {
  countryProfile(countryId: $countryId) {
    country { nameEn }
    expectedGrowth
    growthRank
    numCountriesRanked
  }
}`,
	QueryTreemapProducts: `query TreemapProducts($countryId: Int!, $year: Int!, $direction: String!, $partnerId: Int) {
  treemap(exporter: $countryId, year: $year, direction: $direction, partner: $partnerId) {
    total
    products { nameEn code value share }
  }
}`,
	QueryTreemapPartners: `query TreemapPartners($countryId: Int!, $year: Int!, $direction: String!, $partnerId: Int) {
  partnerTreemap(country: $countryId, year: $year, direction: $direction, partner: $partnerId) {
    total
    partners { nameEn iso3Code value share }
  }
}`,
	QueryNewProducts: `query NewProducts($countryId: Int!) {
  newProducts(countryId: $countryId) {
    products { nameEn code year value }
  }
}`,
	QueryProductSpaceRCA: `query ProductSpace($countryId: Int!, $year: Int!, $productId: Int) {
  productSpace(countryId: $countryId, year: $year, product: $productId) {
    products { nameEn code rca distance cog }
  }
}`,
}

// buildQuery returns the template and bound variables for a query type.
// Catalog IDs are strings in the resolution maps; every Int! or Int
// variable is coerced to a bare number here so the JSON payload never
// carries a quoted string for a numeric parameter.
func buildQuery(queryType string, resolved map[string]string, year int, direction string) (string, map[string]any, error) {
	template, ok := queryTemplates[queryType]
	if !ok {
		return "", nil, fmt.Errorf("no query template for type %q", queryType)
	}

	variables := map[string]any{}
	countryID, err := numericID(resolved, "country_id")
	if err != nil {
		return "", nil, err
	}
	if countryID != nil {
		variables["countryId"] = *countryID
	}

	switch queryType {
	case QueryTreemapProducts, QueryTreemapPartners, QueryProductSpaceRCA:
		variables["year"] = year
	}
	switch queryType {
	case QueryTreemapProducts, QueryTreemapPartners:
		if direction == "" {
			direction = "exports"
		}
		variables["direction"] = direction

		partnerID, err := numericID(resolved, "partner_country_id")
		if err != nil {
			return "", nil, err
		}
		if partnerID != nil {
			variables["partnerId"] = *partnerID
		} else {
			variables["partnerId"] = nil
		}
	case QueryProductSpaceRCA:
		productID, err := numericID(resolved, "product_id")
		if err != nil {
			return "", nil, err
		}
		if productID != nil {
			variables["productId"] = *productID
		} else {
			variables["productId"] = nil
		}
	}
	return template, variables, nil
}

// numericID reads a resolved catalog ID and coerces it to an int.
// Absent keys return nil; a non-numeric ID is a catalog defect and fails
// the build.
func numericID(resolved map[string]string, key string) (*int, error) {
	raw, ok := resolved[key]
	if !ok || raw == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("resolved %s %q is not numeric", key, raw)
	}
	return &id, nil
}
