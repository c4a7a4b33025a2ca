package sqltool

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/growthlab/askatlas/pkg/graph"
)

// EmptyResultMessage is handed to the model when a query returns no rows.
const EmptyResultMessage = "SQL query returned no results."

// formatResult renders a query result as tab-separated text with a header
// row, for inclusion in the tool result message.
func formatResult(result *Result) string {
	if result == nil || len(result.Rows) == 0 {
		return EmptyResultMessage
	}
	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, "\t"))
	b.WriteString("\n")
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = stringify(v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// resultRowMaps converts rows to column-keyed maps for the turn state.
func resultRowMaps(result *Result) []map[string]any {
	if result == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		m := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// FormatProductCodesForPrompt renders resolved code mappings as the block
// inserted into the SQL generation prompt. Empty mappings yield an empty
// string so the prompt carries no block at all.
func FormatProductCodesForPrompt(mappings []graph.ProductCodes) string {
	if len(mappings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nProduct name to product code mappings:\n")
	for _, m := range mappings {
		classification, err := ClassificationName(m.ClassificationSchema)
		if err != nil {
			classification = m.ClassificationSchema
		}
		fmt.Fprintf(&b, "- %s: Code %v (Classification: %s)\n", m.ProductName, m.Codes, classification)
	}
	return b.String()
}

var tableRefRe = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([a-z_][a-z0-9_]*\.[a-z_][a-z0-9_]*)`)

// referencedTables extracts schema-qualified table names from a SQL string,
// best-effort for observability only.
func referencedTables(sql string) []string {
	matches := tableRefRe.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// stripSQLFences removes markdown code fences the model may wrap around
// generated SQL.
func stripSQLFences(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	return strings.TrimSpace(trimmed)
}

var selectOnlyRe = regexp.MustCompile(`(?is)^\s*(?:WITH\b.*?\)\s*)*SELECT\b`)

// isSelectOnly reports whether the statement is a single SELECT (optionally
// prefixed by CTEs) with no statement separator.
func isSelectOnly(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return false
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \n\t"), ";") {
		return false
	}
	return selectOnlyRe.MatchString(trimmed)
}
