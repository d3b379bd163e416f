package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/ternarybob/arbor"
	"google.golang.org/api/option"
)

// DocumentAIService runs table OCR on a Google Document AI layout or form processor
type DocumentAIService struct {
	client    *documentai.DocumentProcessorClient
	processor string
	logger    arbor.ILogger
}

// NewDocumentAIService creates a client on the regional Document AI endpoint
func NewDocumentAIService(ctx context.Context, config *common.DocumentAIConfig, logger arbor.ILogger) (*DocumentAIService, error) {
	if config.Project == "" || config.ProcessorID == "" {
		return nil, fmt.Errorf("document AI requires project and processor_id")
	}

	location := config.Location
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create document AI client: %w", err)
	}

	logger.Debug().Str("endpoint", endpoint).Msg("Document AI OCR initialized")

	return &DocumentAIService{
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", config.Project, location, config.ProcessorID),
		logger:    logger,
	}, nil
}

// Analyze processes the image and returns every table found on its pages
func (s *DocumentAIService) Analyze(ctx context.Context, image []byte, mimeType string) ([]models.Table, error) {
	resp, err := s.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("document AI ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return nil, nil
	}

	return tablesFromDocument(resp.Document), nil
}

// Close closes the client
func (s *DocumentAIService) Close() error {
	return s.client.Close()
}

func tablesFromDocument(doc *documentaipb.Document) []models.Table {
	var out []models.Table
	for _, page := range doc.Pages {
		for _, table := range page.Tables {
			if table == nil {
				continue
			}
			rows := append(append([]*documentaipb.Document_Page_Table_TableRow{}, table.HeaderRows...), table.BodyRows...)
			out = append(out, convertTable(doc.Text, rows))
		}
	}
	return out
}

// convertTable lays rows out on a grid, honoring row and column spans
func convertTable(full string, rows []*documentaipb.Document_Page_Table_TableRow) models.Table {
	table := models.Table{RowCount: len(rows)}
	occupied := map[[2]int]bool{}

	for r, row := range rows {
		if row == nil {
			continue
		}
		col := 0
		for _, cell := range row.Cells {
			if cell == nil {
				continue
			}
			for occupied[[2]int{r, col}] {
				col++
			}

			rowSpan := max(int(cell.RowSpan), 1)
			colSpan := max(int(cell.ColSpan), 1)
			for dr := 0; dr < rowSpan; dr++ {
				for dc := 0; dc < colSpan; dc++ {
					occupied[[2]int{r + dr, col + dc}] = true
				}
			}

			content := ""
			if cell.Layout != nil {
				content = strings.TrimSpace(textFromAnchor(full, cell.Layout.TextAnchor))
			}
			table.Cells = append(table.Cells, models.TableCell{
				RowIndex:    r,
				ColumnIndex: col,
				Content:     content,
			})

			col += colSpan
			table.ColumnCount = max(table.ColumnCount, col)
		}
	}
	return table
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := max(int(seg.StartIndex), 0)
		end := min(int(seg.EndIndex), len(full))
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
