package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// DefaultTimeout bounds a single extraction request.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of an error response is echoed back.
const maxErrorBody = 4096

type extractResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// RemoteClient posts item bytes to an extractor sidecar and reads back
// {"embedding": [...]}.
type RemoteClient struct {
	url    string
	client *http.Client
}

// NewRemoteClient creates a client for the extractor at url.
func NewRemoteClient(url string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Extract sends data as the request body. The filename travels in the
// X-Filename header so the extractor can pick a decoder.
func (c *RemoteClient) Extract(ctx context.Context, name string, data []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrExtraction, err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("X-Filename", name)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var parsed extractResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			return nil, fmt.Errorf("%w: %s (status %d)", ErrExtraction, parsed.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrExtraction, resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrExtraction, err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for %q", ErrExtraction, name)
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrExtraction, i)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ Extractor = (*RemoteClient)(nil)
