package graphqltool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/growthlab/askatlas/pkg/graph"
)

// atlasBaseURL is the public visualization site deep links point into.
const atlasBaseURL = "https://atlas.hks.harvard.edu"

// FormatUSD renders a dollar amount with a magnitude suffix:
// trillion, billion, million, or plain.
func FormatUSD(value float64) string {
	abs := value
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("$%.2f trillion", value/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("$%.2f billion", value/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2f million", value/1e6)
	default:
		return fmt.Sprintf("$%.0f", value)
	}
}

// FormatRank renders a rank as "N of TOTAL".
func FormatRank(rank, total int) string {
	return fmt.Sprintf("%d of %d", rank, total)
}

// FormatPercent renders a fraction as a percentage with one decimal.
func FormatPercent(fraction float64) string {
	return fmt.Sprintf("%.1f%%", fraction*100)
}

// namedValue is a generic name/value pair parsed from treemap payloads.
type namedValue struct {
	Name  string
	Code  string
	Value float64
	Share float64
}

// formatResponse derives a human-readable summary and the deep links for a
// query type's JSON payload.
func formatResponse(queryType string, payload json.RawMessage, resolved map[string]string, entities map[string]string) (string, []graph.AtlasLink) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return "The API returned a response that could not be interpreted.", nil
	}

	countryID := resolved["country_id"]
	year := entities["year"]
	links := atlasLinks(queryType, countryID, year)

	switch queryType {
	case QueryCountryProfile, QueryCountryGrowth:
		return formatCountryProfile(doc), links
	case QueryTreemapProducts:
		return formatTreemap(doc, "products", "export products"), links
	case QueryTreemapPartners:
		return formatTreemap(doc, "partners", "trade partners"), links
	case QueryNewProducts:
		return formatNewProducts(doc), links
	case QueryProductSpaceRCA:
		return formatProductSpace(doc), links
	}
	return "Unsupported query type.", links
}

func formatCountryProfile(doc map[string]any) string {
	profile, ok := dig(doc, "countryProfile")
	if !ok {
		return "No profile data was returned for this country."
	}

	var b strings.Builder
	if country, ok := dig(profile, "country"); ok {
		if name, ok := country["nameEn"].(string); ok {
			fmt.Fprintf(&b, "%s:\n", name)
		}
	}
	if eci, ok := number(profile["eci"]); ok {
		fmt.Fprintf(&b, "- Economic Complexity Index: %.2f\n", eci)
	}
	if rank, ok := number(profile["eciRank"]); ok {
		if total, ok := number(profile["numCountriesRanked"]); ok {
			fmt.Fprintf(&b, "- ECI rank: %s\n", FormatRank(int(rank), int(total)))
		} else {
			fmt.Fprintf(&b, "- ECI rank: %d\n", int(rank))
		}
	}
	if grade, ok := profile["diversificationGrade"].(string); ok && grade != "" {
		fmt.Fprintf(&b, "- Diversification grade: %s\n", grade)
	}
	if growth, ok := number(profile["expectedGrowth"]); ok {
		fmt.Fprintf(&b, "- Projected annual growth: %s\n", FormatPercent(growth))
	}
	if rank, ok := number(profile["growthRank"]); ok {
		if total, ok := number(profile["numCountriesRanked"]); ok {
			fmt.Fprintf(&b, "- Growth projection rank: %s\n", FormatRank(int(rank), int(total)))
		}
	}
	if gdp, ok := number(profile["gdpPerCapita"]); ok {
		fmt.Fprintf(&b, "- GDP per capita: %s\n", FormatUSD(gdp))
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "No profile data was returned for this country."
	}
	return out
}

// formatTreemap sorts entries descending by value and renders the top
// entries with shares.
func formatTreemap(doc map[string]any, key, noun string) string {
	var container map[string]any
	for _, outer := range []string{"treemap", "partnerTreemap"} {
		if c, ok := dig(doc, outer); ok {
			container = c
			break
		}
	}
	if container == nil {
		return fmt.Sprintf("No %s data was returned.", noun)
	}

	entries := parseNamedValues(container[key])
	if len(entries) == 0 {
		return fmt.Sprintf("No %s data was returned.", noun)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Value > entries[j].Value })

	var b strings.Builder
	if total, ok := number(container["total"]); ok {
		fmt.Fprintf(&b, "Total: %s\n", FormatUSD(total))
	}
	fmt.Fprintf(&b, "Top %s:\n", noun)
	limit := len(entries)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		e := entries[i]
		fmt.Fprintf(&b, "%d. %s: %s", i+1, e.Name, FormatUSD(e.Value))
		if e.Share > 0 {
			fmt.Fprintf(&b, " (%s)", FormatPercent(e.Share))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNewProducts(doc map[string]any) string {
	container, ok := dig(doc, "newProducts")
	if !ok {
		return "No new-products data was returned."
	}
	entries := parseNamedValues(container["products"])
	if len(entries) == 0 {
		return "No new export products were identified."
	}
	var b strings.Builder
	b.WriteString("New export products:\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, e.Name, e.Code, FormatUSD(e.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatProductSpace(doc map[string]any) string {
	container, ok := dig(doc, "productSpace")
	if !ok {
		return "No product-space data was returned."
	}
	items, ok := container["products"].([]any)
	if !ok || len(items) == 0 {
		return "No product-space data was returned."
	}
	var b strings.Builder
	b.WriteString("Products with revealed comparative advantage:\n")
	count := 0
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rca, ok := number(m["rca"])
		if !ok || rca < 1 {
			continue
		}
		name, _ := m["nameEn"].(string)
		fmt.Fprintf(&b, "- %s (RCA %.2f)\n", name, rca)
		count++
		if count >= 15 {
			break
		}
	}
	if count == 0 {
		return "No products with revealed comparative advantage were found."
	}
	return strings.TrimRight(b.String(), "\n")
}

// atlasLinks generates deep links into the public visualization site for
// the resolved country.
func atlasLinks(queryType, countryID, year string) []graph.AtlasLink {
	if countryID == "" {
		return nil
	}
	var links []graph.AtlasLink
	switch queryType {
	case QueryCountryProfile, QueryCountryGrowth:
		links = append(links, graph.AtlasLink{
			URL:      fmt.Sprintf("%s/countries/%s", atlasBaseURL, countryID),
			Label:    "Country profile",
			LinkType: "country_profile",
		})
	case QueryTreemapProducts, QueryTreemapPartners, QueryNewProducts, QueryProductSpaceRCA:
		url := fmt.Sprintf("%s/explore/treemap?exporter=country-%s", atlasBaseURL, countryID)
		if year != "" {
			url += "&year=" + year
		}
		links = append(links, graph.AtlasLink{
			URL:      url,
			Label:    "Explore visualization",
			LinkType: "explore",
		})
	}
	return links
}

// --- payload helpers -----------------------------------------------------

func dig(doc map[string]any, key string) (map[string]any, bool) {
	v, ok := doc[key].(map[string]any)
	return v, ok
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func parseNamedValues(v any) []namedValue {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]namedValue, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := namedValue{}
		if name, ok := m["nameEn"].(string); ok {
			entry.Name = name
		}
		if code, ok := m["code"].(string); ok {
			entry.Code = code
		}
		if value, ok := number(m["value"]); ok {
			entry.Value = value
		}
		if share, ok := number(m["share"]); ok {
			entry.Share = share
		}
		if entry.Name != "" {
			out = append(out, entry)
		}
	}
	return out
}
