package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response is kept for error messages
const maxErrorBody = 2048

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// ErrorBody returns the trimmed head of a failed response body
func ErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}

// ReadLimited reads the whole body, failing once it exceeds maxBytes.
// A non-positive maxBytes disables the limit.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// CheckStatus returns an error carrying the response body when the status is not want
func CheckStatus(resp *http.Response, want int, operation string) error {
	if resp.StatusCode == want {
		return nil
	}
	return fmt.Errorf("%s returned status %d: %s", operation, resp.StatusCode, ErrorBody(resp.Body))
}
