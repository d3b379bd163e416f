package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/httpclient"
	"github.com/AyanbekDos/smeta-2/internal/models"
	"github.com/ternarybob/arbor"
)

const (
	azureKeyHeader         = "Ocp-Apim-Subscription-Key"
	azureOperationLocation = "Operation-Location"
	defaultAzureModel      = "prebuilt-layout"
	defaultAzureAPIVersion = "2024-11-30"
)

// analyzeOperation is the subset of the Document Intelligence poll response we read
type analyzeOperation struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	AnalyzeResult *struct {
		Tables []models.Table `json:"tables"`
	} `json:"analyzeResult"`
}

// AzureService runs table OCR on Azure AI Document Intelligence over its REST API
type AzureService struct {
	client       *http.Client
	endpoint     string
	key          string
	model        string
	apiVersion   string
	pollInterval time.Duration
	timeout      time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       arbor.ILogger
}

// NewAzureService creates the Azure OCR client
func NewAzureService(config *common.AzureOCRConfig, logger arbor.ILogger) (*AzureService, error) {
	if config.Endpoint == "" || config.Key == "" {
		return nil, fmt.Errorf("azure OCR requires endpoint and key")
	}

	model := config.Model
	if model == "" {
		model = defaultAzureModel
	}
	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}
	timeout := common.ParseDurationOr(config.Timeout, 3*time.Minute)

	return &AzureService{
		client:       httpclient.NewDefaultHTTPClient(60 * time.Second),
		endpoint:     strings.TrimRight(config.Endpoint, "/"),
		key:          config.Key,
		model:        model,
		apiVersion:   apiVersion,
		pollInterval: common.ParseDurationOr(config.PollInterval, time.Second),
		timeout:      timeout,
		sleep:        common.SleepContext,
		logger:       logger,
	}, nil
}

// Analyze submits the image, polls until the analysis completes and returns its tables
func (s *AzureService) Analyze(ctx context.Context, image []byte, mimeType string) ([]models.Table, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	operationURL, err := s.submit(ctx, image)
	if err != nil {
		return nil, err
	}

	polls := 0
	for {
		polls++
		op, err := s.poll(ctx, operationURL)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, nil
			}
			s.logger.Debug().
				Int("tables", len(op.AnalyzeResult.Tables)).
				Int("polls", polls).
				Str("mime_type", mimeType).
				Msg("Azure layout analysis complete")
			return op.AnalyzeResult.Tables, nil
		case "failed", "canceled":
			if op.Error != nil {
				return nil, fmt.Errorf("azure analysis %s: %s: %s", op.Status, op.Error.Code, op.Error.Message)
			}
			return nil, fmt.Errorf("azure analysis %s", op.Status)
		}

		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return nil, fmt.Errorf("azure analysis did not finish: %w", err)
		}
	}
}

func (s *AzureService) submit(ctx context.Context, image []byte) (string, error) {
	url := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s", s.endpoint, s.model, s.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set(azureKeyHeader, s.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp, http.StatusAccepted, "azure analyze"); err != nil {
		return "", err
	}

	location := resp.Header.Get(azureOperationLocation)
	if location == "" {
		return "", fmt.Errorf("azure analyze response has no %s header", azureOperationLocation)
	}
	return location, nil
}

func (s *AzureService) poll(ctx context.Context, operationURL string) (*analyzeOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}
	req.Header.Set(azureKeyHeader, s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp, http.StatusOK, "azure poll"); err != nil {
		return nil, err
	}

	var op analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to decode azure poll response: %w", err)
	}
	return &op, nil
}

// Close is a no-op
func (s *AzureService) Close() error {
	return nil
}
