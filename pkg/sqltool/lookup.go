package sqltool

import (
	"context"
	"fmt"
	"strings"
)

// candidate is one product match from code verification or text search.
type candidate struct {
	ProductCode  string
	ProductName  string
	ProductID    string
	ProductLevel string
}

// searchResult collects a product's candidates from both sources.
type searchResult struct {
	ProductName          string
	ClassificationSchema string
	LLMSuggestions       []candidate
	DBSuggestions        []candidate
}

// verifyProductCodes checks model-suggested codes against the
// classification table by exact code match and returns their official
// entries.
func verifyProductCodes(ctx context.Context, wh Warehouse, codes []string, schema string) ([]candidate, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	table, err := ProductsTable(schema)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT DISTINCT
			code AS product_code,
			name_short_en AS product_name,
			product_id,
			product_level
		FROM %s
		WHERE code = ANY($1)`, table)

	result, err := wh.Query(ctx, sql, codes)
	if err != nil {
		return nil, err
	}
	return toCandidates(result), nil
}

// directTextSearch finds products by name using Postgres full-text search
// over name_short_en with the English configuration, ranked by ts_rank_cd.
// When full-text returns nothing, trigram similarity above 0.3 is the
// fallback for misspellings and uncommon phrasings.
func directTextSearch(ctx context.Context, wh Warehouse, productName, schema string) ([]candidate, error) {
	table, err := ProductsTable(schema)
	if err != nil {
		return nil, err
	}

	tsSQL := fmt.Sprintf(`
		SELECT DISTINCT
			name_short_en AS product_name,
			code AS product_code,
			product_id,
			product_level,
			ts_rank_cd(to_tsvector('english', name_short_en),
				plainto_tsquery('english', $1)) AS rank
		FROM %s
		WHERE to_tsvector('english', name_short_en) @@
			plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT 5`, table)

	result, err := wh.Query(ctx, tsSQL, productName)
	if err != nil {
		return nil, err
	}
	if len(result.Rows) > 0 {
		return textSearchCandidates(result), nil
	}

	fuzzySQL := fmt.Sprintf(`
		SELECT DISTINCT
			name_short_en AS product_name,
			code AS product_code,
			product_id,
			product_level,
			similarity(LOWER(name_short_en), LOWER($1)) AS sim
		FROM %s
		WHERE similarity(LOWER(name_short_en), LOWER($1)) > 0.3
		ORDER BY sim DESC
		LIMIT 5`, table)

	result, err = wh.Query(ctx, fuzzySQL, productName)
	if err != nil {
		return nil, err
	}
	return textSearchCandidates(result), nil
}

// toCandidates maps verification rows (code, name, id, level).
func toCandidates(result *Result) []candidate {
	out := make([]candidate, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		out = append(out, candidate{
			ProductCode:  stringify(row[0]),
			ProductName:  stringify(row[1]),
			ProductID:    stringify(row[2]),
			ProductLevel: stringify(row[3]),
		})
	}
	return out
}

// textSearchCandidates maps search rows (name, code, id, level, rank).
func textSearchCandidates(result *Result) []candidate {
	out := make([]candidate, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		out = append(out, candidate{
			ProductName:  stringify(row[0]),
			ProductCode:  stringify(row[1]),
			ProductID:    stringify(row[2]),
			ProductLevel: stringify(row[3]),
		})
	}
	return out
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// formatSearchResults renders candidates for the code selection prompt.
func formatSearchResults(results []searchResult) string {
	var b strings.Builder
	for _, result := range results {
		classification, err := ClassificationName(result.ClassificationSchema)
		if err != nil {
			classification = result.ClassificationSchema
		}
		fmt.Fprintf(&b, "Product to search for: %s\n", result.ProductName)
		fmt.Fprintf(&b, "Product classification system to use: %s\n", classification)
		b.WriteString("Candidate matches:\n")
		for _, c := range append(append([]candidate{}, result.LLMSuggestions...), result.DBSuggestions...) {
			fmt.Fprintf(&b, "- %s: %s\n", c.ProductCode, c.ProductName)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
