package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestAzure(t *testing.T, handler http.Handler) *AzureService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := NewAzureService(&common.AzureOCRConfig{
		Endpoint: server.URL + "/",
		Key:      "secret",
	}, arbor.NewLogger())
	require.NoError(t, err)
	service.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return service
}

func TestAzureService_Analyze(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/documentintelligence/documentModels/prebuilt-layout:analyze", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "2024-11-30", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "PNGDATA", string(body))

		w.Header().Set("Operation-Location", serverURL+"/operations/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"status":"running"}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"status": "succeeded",
			"analyzeResult": {
				"tables": [
					{"rowCount": 2, "columnCount": 2, "cells": [
						{"rowIndex": 0, "columnIndex": 0, "content": "Профиль"},
						{"rowIndex": 1, "columnIndex": 1, "content": "12,5"}
					]},
					{"rowCount": 1, "columnCount": 1, "cells": []}
				]
			}
		}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	service, err := NewAzureService(&common.AzureOCRConfig{Endpoint: server.URL, Key: "secret"}, arbor.NewLogger())
	require.NoError(t, err)
	service.sleep = func(context.Context, time.Duration) error { return nil }

	tables, err := service.Analyze(context.Background(), []byte("PNGDATA"), "image/png")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, 2, tables[0].RowCount)
	assert.Equal(t, "12,5", tables[0].Cells[1].Content)
	assert.Equal(t, 1, tables[0].Cells[1].ColumnIndex)
	assert.Equal(t, int32(3), polls.Load())
}

func TestAzureService_AnalysisFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documentintelligence/documentModels/prebuilt-layout:analyze", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", "http://"+r.Host+"/operations/2")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":{"code":"InvalidContent","message":"bad image"}}`))
	})
	service := newTestAzure(t, mux)

	_, err := service.Analyze(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidContent")
}

func TestAzureService_SubmitRejected(t *testing.T) {
	service := newTestAzure(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"401"}}`))
	}))

	_, err := service.Analyze(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestAzureService_PollCanceled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documentintelligence/documentModels/prebuilt-layout:analyze", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", "http://"+r.Host+"/operations/3")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	service := newTestAzure(t, mux)
	service.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, err := service.Analyze(context.Background(), []byte("x"), "image/png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAzureService_RequiresCredentials(t *testing.T) {
	_, err := NewAzureService(&common.AzureOCRConfig{Endpoint: "https://x"}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestNewService_UnknownProvider(t *testing.T) {
	_, err := NewService(context.Background(), &common.OCRConfig{Provider: "tesseract"}, arbor.NewLogger())
	assert.Error(t, err)
}
