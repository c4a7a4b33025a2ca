package sqltool

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Column describes one column of a catalog table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Table describes one warehouse table: its human-readable purpose and its
// columns, used to build the table info block for SQL generation.
type Table struct {
	Name        string   `json:"table_name"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
}

// Catalog is the pre-loaded table catalog, keyed by schema name. Loaded
// once at startup and read-only afterwards.
type Catalog struct {
	schemas map[string][]Table
}

// LoadCatalog reads the table catalog from a JSON artifact mapping schema
// names to table descriptions.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var schemas map[string][]Table
	if err := json.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("decode table catalog: %w", err)
	}
	return &Catalog{schemas: schemas}, nil
}

// Schemas returns the schema names present in the catalog.
func (c *Catalog) Schemas() []string {
	out := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		out = append(out, name)
	}
	return out
}

// TableInfo assembles the descriptive block for the given schemas: each
// table's qualified name, its description, and a DDL-style column listing.
// The classification schema is always included alongside the data schemas.
func (c *Catalog) TableInfo(schemas []string) string {
	withClassification := append([]string{ClassificationSchema}, schemas...)

	var b strings.Builder
	seen := make(map[string]bool)
	for _, schema := range withClassification {
		if seen[schema] {
			continue
		}
		seen[schema] = true
		for _, table := range c.schemas[schema] {
			qualified := schema + "." + table.Name
			fmt.Fprintf(&b, "Table: %s\nDescription: %s\n", qualified, table.Description)
			if len(table.Columns) > 0 {
				fmt.Fprintf(&b, "CREATE TABLE %s (\n", qualified)
				for _, col := range table.Columns {
					fmt.Fprintf(&b, "    %s %s", col.Name, col.Type)
					if col.Description != "" {
						fmt.Fprintf(&b, ", -- %s", col.Description)
					}
					b.WriteString("\n")
				}
				b.WriteString(")\n")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
