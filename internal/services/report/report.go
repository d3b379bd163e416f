// Package report flattens a structured specification into xlsx and txt reports
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName   = "Спецификация"
	unknownUnit = "не указана"
)

// Row is one flattened element
type Row struct {
	Profile   string
	Grade     string
	Size      string
	Type      string
	Positions string
	Mass      *float64
}

// Report holds the rendered files for delivery
type Report struct {
	XLSX []byte
	Text []byte
	Rows int
}

// Headers returns the report column titles for unit
func Headers(unit string) []string {
	if strings.TrimSpace(unit) == "" {
		unit = unknownUnit
	}
	return []string{
		"Наименование профиля",
		"Марка стали",
		"Размер профиля",
		"Тип элемента",
		"Позиции",
		"Масса, " + unit,
	}
}

// Flatten walks the specification in document order, one row per element
func Flatten(spec *models.Specification) []Row {
	if spec == nil {
		return nil
	}
	rows := []Row{}
	spec.Each(func(profile, grade, size string, e models.Element) {
		rows = append(rows, Row{
			Profile:   profile,
			Grade:     grade,
			Size:      size,
			Type:      e.Type,
			Positions: strings.Join(e.Positions, ", "),
			Mass:      e.Mass,
		})
	})
	return rows
}

func (r Row) cells() []string {
	return []string{r.Profile, r.Grade, r.Size, r.Type, r.Positions, formatMass(r.Mass)}
}

func formatMass(m *float64) string {
	if m == nil {
		return ""
	}
	return strconv.FormatFloat(*m, 'f', -1, 64)
}

// Renderer produces the delivered report files
type Renderer struct {
	logger arbor.ILogger
}

// NewRenderer creates a report renderer
func NewRenderer(logger arbor.ILogger) *Renderer {
	return &Renderer{logger: logger}
}

// Render builds both the xlsx workbook and the text table
func (r *Renderer) Render(spec *models.Specification) (*Report, error) {
	start := time.Now()
	rows := Flatten(spec)
	unit := ""
	if spec != nil {
		unit = spec.Unit
	}

	workbook, err := RenderXLSX(unit, rows)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Int("rows", len(rows)).
		Int("xlsx_bytes", len(workbook)).
		Dur("elapsed", time.Since(start)).
		Msg("Report rendered")

	return &Report{
		XLSX: workbook,
		Text: []byte(RenderText(unit, rows)),
		Rows: len(rows),
	}, nil
}

// RenderXLSX writes rows to a single-sheet workbook. Mass cells are numeric.
func RenderXLSX(unit string, rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range Headers(unit) {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, row := range rows {
		line := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, line)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, row.Profile)
		write(2, row.Grade)
		write(3, row.Size)
		write(4, row.Type)
		write(5, row.Positions)
		if row.Mass != nil {
			write(6, *row.Mass)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 36) // profile
	_ = f.SetColWidth(sheetName, "B", "C", 16) // grade, size
	_ = f.SetColWidth(sheetName, "D", "D", 28) // element type
	_ = f.SetColWidth(sheetName, "E", "E", 24) // positions
	_ = f.SetColWidth(sheetName, "F", "F", 14) // mass

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderText lays rows out as a right-aligned plain-text table
func RenderText(unit string, rows []Row) string {
	table := [][]string{Headers(unit)}
	for _, row := range rows {
		table = append(table, row.cells())
	}

	widths := make([]int, len(table[0]))
	for _, line := range table {
		for i, cell := range line {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	for _, line := range table {
		for i, cell := range line {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
			b.WriteString(cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}
