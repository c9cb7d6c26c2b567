package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/tracking"

	log "github.com/sirupsen/logrus"
)

// Client calls the upstream inference service that runs the detection and
// recognition models. The service is a black box to this process: one frame
// in, a list of detections out.
type Client struct {
	config     config.DetectorConfig
	httpClient *http.Client
}

// apiDetection is the wire shape of one detection from the inference service.
type apiDetection struct {
	Box        tracking.BoundingBox `json:"box"`
	Label      string               `json:"label"`
	Name       string               `json:"name"`
	Confidence float64              `json:"confidence"`
	Matched    bool                 `json:"matched"`
}

// analyzeResponse is the inference service's per-frame response.
type analyzeResponse struct {
	Detections []apiDetection `json:"detections"`
}

// NewClient creates a detector client from configuration.
func NewClient(cfg config.DetectorConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks whether the inference service is reachable.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	if !c.config.Enabled {
		return false, fmt.Errorf("detector is not enabled in config")
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/health")
	if err != nil {
		return false, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	body, _ := io.ReadAll(resp.Body)
	log.Warnf("Detector health check failed (status %d): %s", resp.StatusCode, string(body))
	return false, nil
}

// Detect sends one frame to the inference service and returns the detections
// above the configured confidence floor.
func (c *Client) Detect(ctx context.Context, frame []byte, sourceID string) ([]tracking.Detection, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("detector is not enabled in config")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame data: %w", err)
	}
	if err := writer.WriteField("source", sourceID); err != nil {
		return nil, fmt.Errorf("failed to write source field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/analyze")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.APIKey)

	log.Debugf("Sending frame from source %s to detector (%d bytes)", sourceID, len(frame))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}

	detections := make([]tracking.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Confidence < c.config.MinConfidence {
			log.Debugf("Skipping low-confidence detection %q (%.2f) on source %s", d.Label, d.Confidence, sourceID)
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Label
		}
		detections = append(detections, tracking.Detection{
			BBox:       d.Box,
			Name:       name,
			Confidence: d.Confidence,
			Matched:    d.Matched,
		})
	}
	return detections, nil
}
