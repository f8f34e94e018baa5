// package formatter renders a flattened tree listing as plain text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/shelf/internal/shared"
	"github.com/desertthunder/shelf/internal/tree"
)

// Formats accepted by [Render].
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatJSON     = "json"
)

// Tree is the read side of the content tree.
type Tree interface {
	Children(p tree.Path) (int, []tree.NodeDescriptor)
}

// Row is one node of a listing.
type Row struct {
	Path      string `json:"path"`
	Depth     int    `json:"depth"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle,omitempty"`
	Container bool   `json:"container"`
	Streaming bool   `json:"streaming"`
	Children  int    `json:"children"`
	Artwork   []byte `json:"-"`
}

// Flatten walks t below root, depth first, in child order.
func Flatten(t Tree, root tree.Path) []Row {
	var rows []Row

	var walk func(p tree.Path)
	walk = func(p tree.Path) {
		_, children := t.Children(p)
		for i, d := range children {
			child := p.Child(i)
			rows = append(rows, Row{
				Path:      d.Path,
				Depth:     len(child),
				ID:        d.ID,
				Title:     d.Title,
				Subtitle:  d.Subtitle,
				Container: d.Container,
				Streaming: d.Playable && d.Streaming,
				Children:  d.Children,
				Artwork:   d.Artwork,
			})
			if len(child) < tree.MaxDepth {
				walk(child)
			}
		}
	}
	walk(root)
	return rows
}

// Render formats rows as format.
func Render(format, title string, rows []Row) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText, "txt":
		return ExportToText(rows)
	case FormatMarkdown, "md":
		return ExportToMarkdown(title, rows, nil)
	case FormatCSV:
		return ExportToCSV(rows)
	case FormatJSON:
		return ExportToJSON(rows)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// ExportToCSV converts rows to CSV with columns: Path, ID, Title, Subtitle, Container, Streaming, Children
func ExportToCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Path", "ID", "Title", "Subtitle", "Container", "Streaming", "Children"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.Path,
			row.ID,
			row.Title,
			row.Subtitle,
			strconv.FormatBool(row.Container),
			strconv.FormatBool(row.Streaming),
			strconv.Itoa(row.Children),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders rows as nested lists. covers maps row paths to image files to link.
func ExportToMarkdown(title string, rows []Row, covers map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	if title == "" {
		title = "Library"
	}
	fmt.Fprintf(&buf, "# %s\n\n", title)

	for _, row := range rows {
		indent := strings.Repeat("  ", max(row.Depth-1, 0))
		line := row.Title
		if row.Depth == 1 {
			line = "**" + row.Title + "**"
		}
		if row.Subtitle != "" {
			line += " - " + row.Subtitle
		}
		if row.Container && row.Depth > 1 {
			line += fmt.Sprintf(" (%d items)", row.Children)
		}
		if !row.Container && !row.Streaming {
			line += " `offline`"
		}
		if cover, ok := covers[row.Path]; ok {
			line += fmt.Sprintf(" ![cover](%s)", cover)
		}
		fmt.Fprintf(&buf, "%s- %s\n", indent, line)
	}

	return buf.Bytes(), nil
}

// ExportToText renders rows as an indented listing with their paths.
func ExportToText(rows []Row) ([]byte, error) {
	var buf bytes.Buffer

	for _, row := range rows {
		indent := strings.Repeat("  ", max(row.Depth-1, 0))
		marker := " "
		switch {
		case row.Container:
			marker = "+"
		case !row.Streaming:
			marker = "*"
		}
		fmt.Fprintf(&buf, "%-8s %s%s %s", row.Path, indent, marker, row.Title)
		if row.Subtitle != "" {
			fmt.Fprintf(&buf, " - %s", row.Subtitle)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ExportToJSON renders rows as an indented JSON array.
func ExportToJSON(rows []Row) ([]byte, error) {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal listing: %w", err)
	}
	return append(data, '\n'), nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory string
	Files     []string
	Covers    int
}

// WriteMarkdownExport writes {dir}/README.md and the artwork of every row that has some
// under {dir}/covers.
func WriteMarkdownExport(title string, rows []Row, outputDir string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("%w: output directory", shared.ErrMissingArgument)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir, Files: []string{}}
	covers := make(map[string]string)

	for _, row := range rows {
		if len(row.Artwork) == 0 || row.ID == "" {
			continue
		}
		if result.Covers == 0 {
			if err := os.MkdirAll(filepath.Join(outputDir, "covers"), 0755); err != nil {
				return nil, fmt.Errorf("failed to create covers directory: %w", err)
			}
		}

		rel := filepath.Join("covers", shared.SanitizeID(row.ID)+imageExtension(row.Artwork))
		path := filepath.Join(outputDir, rel)
		if err := os.WriteFile(path, row.Artwork, 0644); err != nil {
			return nil, fmt.Errorf("failed to write cover: %w", err)
		}
		covers[row.Path] = filepath.ToSlash(rel)
		result.Files = append(result.Files, path)
		result.Covers++
	}

	mdData, err := ExportToMarkdown(title, rows, covers)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

// WriteExport writes rendered data to path, creating parent directories.
func WriteExport(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
