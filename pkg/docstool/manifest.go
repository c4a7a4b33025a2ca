// Package docstool implements the documentation tool pipeline: select
// relevant methodology docs from a pre-loaded manifest and synthesize a
// focused answer. Invocations never count against the query budget.
package docstool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one document in the manifest. Bodies are pre-read at startup so
// no per-turn file I/O is needed.
type Entry struct {
	Filename      string
	Title         string
	Purpose       string
	WhenToLoad    string
	WhenNotToLoad string
	Keywords      []string
	RelatedDocs   []string
	FullPath      string
	Content       string
}

// frontmatter is the recognized YAML header of a manifest document.
type frontmatter struct {
	Title         string   `yaml:"title"`
	Purpose       string   `yaml:"purpose"`
	WhenToLoad    string   `yaml:"when_to_load"`
	WhenNotToLoad string   `yaml:"when_not_to_load"`
	Keywords      []string `yaml:"keywords"`
	RelatedDocs   []string `yaml:"related_docs"`
}

// LoadManifest scans a directory of markdown files and builds the
// manifest, sorted by filename for deterministic ordering. Unreadable
// files are skipped with a warning.
func LoadManifest(docsDir string) ([]Entry, error) {
	info, err := os.Stat(docsDir)
	if err != nil || !info.IsDir() {
		slog.Warn("Docs directory does not exist", "dir", docsDir)
		return nil, nil
	}

	paths, err := filepath.Glob(filepath.Join(docsDir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("scan docs directory: %w", err)
	}
	sort.Strings(paths)

	var entries []Entry
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Could not read documentation file", "path", path, "error", err)
			continue
		}
		entries = append(entries, parseEntry(path, string(data)))
	}
	return entries, nil
}

// parseEntry builds a manifest entry from a file's text.
func parseEntry(path, text string) Entry {
	fm := parseFrontmatter(text)
	title := fm.Title
	if title == "" {
		title = titleizeFilename(filepath.Base(path))
	}
	return Entry{
		Filename:      filepath.Base(path),
		Title:         title,
		Purpose:       fm.Purpose,
		WhenToLoad:    fm.WhenToLoad,
		WhenNotToLoad: fm.WhenNotToLoad,
		Keywords:      fm.Keywords,
		RelatedDocs:   fm.RelatedDocs,
		FullPath:      path,
		Content:       extractBody(text),
	}
}

// parseFrontmatter parses the YAML block delimited by --- lines. Any
// failure yields an empty frontmatter rather than an error.
func parseFrontmatter(text string) frontmatter {
	var fm frontmatter
	if !strings.HasPrefix(text, "---") {
		return fm
	}
	end := strings.Index(text[3:], "---")
	if end == -1 {
		return fm
	}
	block := text[3 : 3+end]
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return frontmatter{}
	}
	return fm
}

// extractBody returns the markdown body after the frontmatter block.
func extractBody(text string) string {
	if !strings.HasPrefix(text, "---") {
		return strings.TrimSpace(text)
	}
	end := strings.Index(text[3:], "---")
	if end == -1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[3+end+3:])
}

// titleizeFilename turns "trade_data_faq.md" into "Trade Data Faq".
func titleizeFilename(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	words := strings.Split(strings.ReplaceAll(stem, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FormatManifest renders the manifest as a numbered list for the selection
// prompt, including keywords and negative signals when available.
func FormatManifest(manifest []Entry) string {
	var parts []string
	for i, entry := range manifest {
		lines := []string{
			fmt.Sprintf("[%d] %s", i, entry.Title),
			fmt.Sprintf("    Purpose: %s", entry.Purpose),
		}
		if len(entry.Keywords) > 0 {
			lines = append(lines, fmt.Sprintf("    Keywords: %s", strings.Join(entry.Keywords, ", ")))
		}
		lines = append(lines, fmt.Sprintf("    When to load: %s", entry.WhenToLoad))
		if entry.WhenNotToLoad != "" {
			lines = append(lines, fmt.Sprintf("    When NOT to load: %s", entry.WhenNotToLoad))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// assembleContent looks up selected filenames in the manifest and joins
// their bodies. Entries with an empty cached body are re-read from disk;
// files that cannot be read are skipped.
func assembleContent(selected []string, manifest []Entry) string {
	byName := make(map[string]Entry, len(manifest))
	for _, entry := range manifest {
		byName[entry.Filename] = entry
	}

	var parts []string
	for _, filename := range selected {
		entry, ok := byName[filename]
		if !ok {
			continue
		}
		body := entry.Content
		if body == "" {
			data, err := os.ReadFile(entry.FullPath)
			if err != nil {
				slog.Warn("Could not read doc file", "path", entry.FullPath, "error", err)
				continue
			}
			body = extractBody(string(data))
		}
		parts = append(parts, fmt.Sprintf("--- %s (%s) ---\n\n%s", entry.Title, entry.Filename, body))
	}
	return strings.Join(parts, "\n\n")
}
