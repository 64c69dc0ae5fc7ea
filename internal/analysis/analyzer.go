// Package analysis holds the clients for external enrichment services:
// image analysis (tags, objects, colors) and metadata extraction.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"file-processing-pipeline/internal/media"
)

// Result is what the analysis collaborator returns for an image.
type Result struct {
	Tags       []string `json:"tags"`
	Objects    []string `json:"objects"`
	Colors     []string `json:"colors"`
	Confidence float64  `json:"confidence"`
}

// Analyzer abstracts the external image analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (Result, error)
}

// Extractor derives structured metadata from file bytes.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (map[string]any, error)
}

// VisionClient posts image bytes to an HTTP analysis endpoint.
type VisionClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVisionClient builds a client for the given base URL.
func NewVisionClient(baseURL string, timeout time.Duration) *VisionClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &VisionClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze submits the image and decodes the service's response.
func (c *VisionClient) Analyze(ctx context.Context, data []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("analyze request: status %d: %s", resp.StatusCode, body)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode analysis response: %w", err)
	}
	return result, nil
}

// MediaExtractor probes bytes locally for dimensions and duration.
type MediaExtractor struct{}

// Extract implements Extractor using ffprobe/image decoding.
func (MediaExtractor) Extract(ctx context.Context, data []byte, mimeType string) (map[string]any, error) {
	meta, err := media.Probe(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if meta.Width > 0 {
		out["width"] = meta.Width
	}
	if meta.Height > 0 {
		out["height"] = meta.Height
	}
	if meta.Duration > 0 {
		out["duration"] = meta.Duration
	}
	return out, nil
}
