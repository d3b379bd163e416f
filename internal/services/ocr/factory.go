// Package ocr provides the table-structure OCR backends
package ocr

import (
	"context"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// NewService creates the OCR backend selected by config
func NewService(ctx context.Context, config *common.OCRConfig, logger arbor.ILogger) (interfaces.OCRService, error) {
	switch config.Provider {
	case common.OCRProviderAzure, "":
		return NewAzureService(&config.Azure, logger)
	case common.OCRProviderDocumentAI:
		return NewDocumentAIService(ctx, &config.DocumentAI, logger)
	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
	}
}
