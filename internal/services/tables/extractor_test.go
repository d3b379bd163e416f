package tables

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type stubOCR struct {
	tables []models.Table
	err    error
	calls  int
}

func (s *stubOCR) Analyze(context.Context, []byte, string) ([]models.Table, error) {
	s.calls++
	return s.tables, s.err
}

func (s *stubOCR) Close() error { return nil }

func TestTableGrid(t *testing.T) {
	table := models.Table{
		RowCount:    2,
		ColumnCount: 3,
		Cells: []models.TableCell{
			{RowIndex: 0, ColumnIndex: 0, Content: "x"},
			{RowIndex: 0, ColumnIndex: 2, Content: "y"},
			{RowIndex: 1, ColumnIndex: 1, Content: "z"},
			{RowIndex: 5, ColumnIndex: 0, Content: "out of rows"},
			{RowIndex: 0, ColumnIndex: 9, Content: "out of columns"},
			{RowIndex: -1, ColumnIndex: 0, Content: "negative"},
		},
	}

	assert.Equal(t, [][]string{{"x", "", "y"}, {"", "z", ""}}, TableGrid(table))
}

func TestTableToHTML(t *testing.T) {
	table := models.Table{
		RowCount:    1,
		ColumnCount: 2,
		Cells: []models.TableCell{
			{RowIndex: 0, ColumnIndex: 0, Content: "a<b>"},
			{RowIndex: 0, ColumnIndex: 1, Content: "С255 & Ст3"},
		},
	}

	want := "<table border=\"1\">\n<tr>\n<td>a&lt;b&gt;</td>\n<td>С255 &amp; Ст3</td>\n</tr>\n</table>"
	assert.Equal(t, want, TableToHTML(table))

	assert.Equal(t, "", TableToHTML(models.Table{}))
	assert.Equal(t, "", TableToHTML(models.Table{RowCount: 2}))
}

func TestTableToHTML_EmptyGrid(t *testing.T) {
	want := "<table border=\"1\">\n<tr>\n<td></td>\n<td></td>\n</tr>\n<tr>\n<td></td>\n<td></td>\n</tr>\n</table>"
	assert.Equal(t, want, TableToHTML(models.Table{RowCount: 2, ColumnCount: 2}))
}

func TestJoinTables_SkipsGridlessTables(t *testing.T) {
	first := models.Table{RowCount: 1, ColumnCount: 1, Cells: []models.TableCell{{Content: "a"}}}
	second := models.Table{RowCount: 1, ColumnCount: 1, Cells: []models.TableCell{{Content: "b"}}}

	joined := JoinTables([]models.Table{first, {}, second, {}})

	assert.Equal(t, 1, strings.Count(joined, TableSeparator))
	assert.False(t, strings.HasSuffix(joined, TableSeparator))
	assert.Equal(t, TableToHTML(first)+TableSeparator+TableToHTML(second), joined)
}

func TestExtractor_Extract(t *testing.T) {
	ocr := &stubOCR{tables: []models.Table{
		{RowCount: 1, ColumnCount: 1, Cells: []models.TableCell{{Content: "first"}}},
		{RowCount: 1, ColumnCount: 1, Cells: []models.TableCell{{Content: "second"}}},
	}}

	html, err := NewExtractor(ocr, arbor.NewLogger()).Extract(context.Background(), []byte("png"), "image/png")

	require.NoError(t, err)
	assert.Equal(t, 1, ocr.calls)
	assert.Contains(t, html, TableSeparator)
	assert.Less(t, strings.Index(html, "first"), strings.Index(html, "second"), "tables keep OCR order")
}

func TestExtractor_NoTables(t *testing.T) {
	_, err := NewExtractor(&stubOCR{}, arbor.NewLogger()).Extract(context.Background(), nil, "image/png")
	assert.ErrorIs(t, err, interfaces.ErrNoTableFound)
}

func TestExtractor_OnlyGridlessTables(t *testing.T) {
	_, err := NewExtractor(&stubOCR{tables: []models.Table{{}, {RowCount: 3}}}, arbor.NewLogger()).Extract(context.Background(), nil, "image/png")
	assert.ErrorIs(t, err, interfaces.ErrNoTableFound)
}

func TestExtractor_OCRError(t *testing.T) {
	_, err := NewExtractor(&stubOCR{err: errors.New("azure down")}, arbor.NewLogger()).Extract(context.Background(), nil, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "azure down")
}

func TestPlainText(t *testing.T) {
	table := models.Table{
		RowCount:    2,
		ColumnCount: 2,
		Cells: []models.TableCell{
			{RowIndex: 0, ColumnIndex: 0, Content: "Двутавр"},
			{RowIndex: 0, ColumnIndex: 1, Content: "20Ш1"},
			{RowIndex: 1, ColumnIndex: 0, Content: "Масса"},
			{RowIndex: 1, ColumnIndex: 1, Content: "12,5  т"},
		},
	}
	html := TableToHTML(table)

	assert.Equal(t, []string{"Двутавр 20Ш1", "Масса 12,5 т"}, PlainTextLines(html))
	assert.Equal(t, "Двутавр 20Ш1 Масса 12,5 т", PlainText(html))
	assert.Equal(t, "12,5 7.0 abc", PlainText("12,5   7.0\n abc"))
	assert.Equal(t, "", PlainText("   "))
}

func TestMarkdown(t *testing.T) {
	html := TableToHTML(models.Table{
		RowCount:    1,
		ColumnCount: 2,
		Cells: []models.TableCell{
			{RowIndex: 0, ColumnIndex: 0, Content: "Уголок"},
			{RowIndex: 0, ColumnIndex: 1, Content: "L50x5"},
		},
	})

	out := Markdown(html)
	assert.Contains(t, out, "Уголок")
	assert.Contains(t, out, "L50x5")
	assert.Equal(t, "", Markdown(""))
}
