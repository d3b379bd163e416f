package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"
)

func sampleSpec() *models.Specification {
	spec := models.NewSpecification("т")
	spec.Add("Двутавры", "С255", "20Ш1", models.Element{Type: "Колонна", Positions: models.Positions{"1", "2"}, Mass: models.Float(1.25)})
	spec.Add("Двутавры", "С255", "20Ш1", models.Element{Type: "Балка", Positions: models.Positions{"3"}})
	spec.Add("Уголки", "С245", "L50x5", models.Element{Type: "Связь", Positions: models.Positions{}, Mass: models.Float(0.3)})
	return spec
}

func TestFlatten(t *testing.T) {
	rows := Flatten(sampleSpec())
	require.Len(t, rows, 3)

	assert.Equal(t, Row{Profile: "Двутавры", Grade: "С255", Size: "20Ш1", Type: "Колонна", Positions: "1, 2", Mass: models.Float(1.25)}, rows[0])
	assert.Nil(t, rows[1].Mass)
	assert.Equal(t, "Уголки", rows[2].Profile)
	assert.Equal(t, "", rows[2].Positions)

	assert.Nil(t, Flatten(nil))
}

func TestHeaders(t *testing.T) {
	assert.Equal(t, "Масса, т", Headers("т")[5])
	assert.Equal(t, "Масса, не указана", Headers("")[5])
	assert.Len(t, Headers("кг"), 6)
}

func TestRenderXLSX(t *testing.T) {
	data, err := RenderXLSX("т", Flatten(sampleSpec()))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Headers("т"), rows[0])
	assert.Equal(t, []string{"Двутавры", "С255", "20Ш1", "Колонна", "1, 2", "1.25"}, rows[1])
	assert.Equal(t, []string{"Двутавры", "С255", "20Ш1", "Балка", "3"}, rows[2])
}

func TestRenderText(t *testing.T) {
	text := RenderText("т", Flatten(sampleSpec()))
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Len(t, lines, 4)

	width := len([]rune(lines[0]))
	for _, line := range lines {
		assert.Equal(t, width, len([]rune(line)), "columns must align")
	}
	assert.True(t, strings.HasSuffix(lines[1], "1.25"))
	assert.True(t, strings.HasSuffix(lines[3], "0.3"))
}

func TestRenderer_Render(t *testing.T) {
	report, err := NewRenderer(arbor.NewLogger()).Render(sampleSpec())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rows)
	assert.NotEmpty(t, report.XLSX)
	assert.Contains(t, string(report.Text), "Наименование профиля")
}
