package tables

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/ternarybob/arbor"
)

// TableSeparator joins the HTML of consecutive tables
const TableSeparator = "\n<hr>\n"

// Extractor runs table OCR on a page image and serializes the result as HTML
type Extractor struct {
	ocr    interfaces.OCRService
	logger arbor.ILogger
}

// NewExtractor creates a table extractor over an OCR service
func NewExtractor(ocr interfaces.OCRService, logger arbor.ILogger) *Extractor {
	return &Extractor{
		ocr:    ocr,
		logger: logger,
	}
}

// Extract analyzes the image once and returns every detected table as HTML,
// in OCR order. It returns ErrNoTableFound when OCR detects no tables.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	tables, err := e.ocr.Analyze(ctx, image, mimeType)
	if err != nil {
		return "", fmt.Errorf("table OCR failed: %w", err)
	}
	if len(tables) == 0 {
		return "", interfaces.ErrNoTableFound
	}

	cells := 0
	for _, t := range tables {
		cells += len(t.Cells)
	}
	e.logger.Info().
		Int("tables", len(tables)).
		Int("cells", cells).
		Msg("Tables detected")

	joined := JoinTables(tables)
	if joined == "" {
		return "", interfaces.ErrNoTableFound
	}
	return joined, nil
}

// JoinTables renders each table and joins them with TableSeparator.
// Tables without a grid are skipped so no separator is left dangling.
func JoinTables(tables []models.Table) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		if rendered := TableToHTML(t); rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, TableSeparator)
}

// TableGrid places cells on a RowCount x ColumnCount grid.
// Cells outside the grid are ignored and missing cells stay empty.
func TableGrid(t models.Table) [][]string {
	if t.RowCount <= 0 || t.ColumnCount <= 0 {
		return nil
	}

	grid := make([][]string, t.RowCount)
	for i := range grid {
		grid[i] = make([]string, t.ColumnCount)
	}

	for _, cell := range t.Cells {
		if cell.RowIndex < 0 || cell.RowIndex >= t.RowCount {
			continue
		}
		if cell.ColumnIndex < 0 || cell.ColumnIndex >= t.ColumnCount {
			continue
		}
		grid[cell.RowIndex][cell.ColumnIndex] = cell.Content
	}

	return grid
}

// TableToHTML renders the table grid as an HTML table with escaped content.
// Missing cells render as empty <td>; a table with no rows or columns renders as "".
func TableToHTML(t models.Table) string {
	grid := TableGrid(t)
	if len(grid) == 0 {
		return ""
	}

	lines := []string{`<table border="1">`}
	for _, row := range grid {
		lines = append(lines, "<tr>")
		for _, content := range row {
			lines = append(lines, "<td>"+html.EscapeString(content)+"</td>")
		}
		lines = append(lines, "</tr>")
	}
	lines = append(lines, "</table>")

	return strings.Join(lines, "\n")
}
