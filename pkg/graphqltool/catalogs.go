package graphqltool

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Country is one entry of the country catalog. ID is the canonical
// numeric country id as a decimal string; buildQuery coerces it to an
// Int variable before the request is sent.
type Country struct {
	ID     string `json:"country_id"`
	ISO3   string `json:"iso3_code"`
	NameEn string `json:"name_en"`
}

// Product is one entry of a classification's product catalog. ID is the
// canonical numeric product id as a decimal string.
type Product struct {
	ID             string `json:"product_id"`
	Code           string `json:"code"`
	NameEn         string `json:"name_en"`
	Classification string `json:"classification"`
}

// Catalogs holds the pre-built ID lookup tables. Loaded once at startup
// and read-only afterwards.
type Catalogs struct {
	countries []Country
	products  []Product

	// ServicesCategories are valid services group names injected into the
	// entity extraction prompt when relevant.
	ServicesCategories []string
}

// NewCatalogs builds catalogs from in-memory entries.
func NewCatalogs(countries []Country, products []Product, servicesCategories []string) *Catalogs {
	return &Catalogs{
		countries:          countries,
		products:           products,
		ServicesCategories: servicesCategories,
	}
}

// catalogFile is the on-disk catalog artifact shape.
type catalogFile struct {
	Countries          []Country `json:"countries"`
	Products           []Product `json:"products"`
	ServicesCategories []string  `json:"services_categories"`
}

// LoadCatalogs reads catalogs from a JSON artifact.
func LoadCatalogs(path string) (*Catalogs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity catalogs: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode entity catalogs: %w", err)
	}
	return NewCatalogs(file.Countries, file.Products, file.ServicesCategories), nil
}

// Match is one candidate resolution with a relevance score.
type Match struct {
	ID    string
	Label string
	Score float64
}

// ResolveCountry finds candidates for a country mention: exact ISO3 or
// name match first, then fuzzy name matching. Candidates are returned
// best-first; a single exact match resolves without disambiguation.
func (c *Catalogs) ResolveCountry(mention string) []Match {
	needle := strings.ToLower(strings.TrimSpace(mention))
	if needle == "" {
		return nil
	}

	var exact, fuzzy []Match
	for _, country := range c.countries {
		iso := strings.ToLower(country.ISO3)
		name := strings.ToLower(country.NameEn)
		switch {
		case iso == needle || name == needle:
			exact = append(exact, Match{ID: country.ID, Label: country.NameEn, Score: 1})
		case strings.Contains(name, needle) || strings.Contains(needle, name):
			fuzzy = append(fuzzy, Match{ID: country.ID, Label: country.NameEn, Score: overlapScore(name, needle)})
		}
	}
	if len(exact) > 0 {
		return exact
	}
	sort.Slice(fuzzy, func(i, j int) bool { return fuzzy[i].Score > fuzzy[j].Score })
	if len(fuzzy) > 5 {
		fuzzy = fuzzy[:5]
	}
	return fuzzy
}

// ResolveProduct finds candidates for a product mention within a
// classification system.
func (c *Catalogs) ResolveProduct(mention, classification string) []Match {
	needle := strings.ToLower(strings.TrimSpace(mention))
	if needle == "" {
		return nil
	}

	var exact, fuzzy []Match
	for _, product := range c.products {
		if classification != "" && product.Classification != classification {
			continue
		}
		name := strings.ToLower(product.NameEn)
		switch {
		case name == needle || product.Code == mention:
			exact = append(exact, Match{ID: product.ID, Label: product.NameEn, Score: 1})
		case strings.Contains(name, needle) || strings.Contains(needle, name):
			fuzzy = append(fuzzy, Match{ID: product.ID, Label: product.NameEn, Score: overlapScore(name, needle)})
		}
	}
	if len(exact) > 0 {
		return exact
	}
	sort.Slice(fuzzy, func(i, j int) bool { return fuzzy[i].Score > fuzzy[j].Score })
	if len(fuzzy) > 5 {
		fuzzy = fuzzy[:5]
	}
	return fuzzy
}

// overlapScore favors candidates whose length is close to the mention's.
func overlapScore(name, needle string) float64 {
	longer := len(name)
	if len(needle) > longer {
		longer = len(needle)
	}
	if longer == 0 {
		return 0
	}
	shorter := len(name) + len(needle) - longer
	return float64(shorter) / float64(longer)
}

// FormatMatches renders candidates for the disambiguation prompt.
func FormatMatches(matches []Match) string {
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s\n", m.ID, m.Label)
	}
	return strings.TrimRight(b.String(), "\n")
}
