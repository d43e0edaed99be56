package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hb9tf/scanner/sdr"
)

const (
	predictionsEndpoint = "predictions"
	defaultTimeout      = 10 * time.Second
)

// Prediction is one entry of the model server response.
type Prediction struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box,omitempty"`
}

// HTTPEngine posts requests to a TorchServe style model server at
// <Server>/predictions/<model> and expects a JSON list of predictions.
type HTTPEngine struct {
	Server string
	Client *http.Client
}

func NewHTTPEngine(server string) *HTTPEngine {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &HTTPEngine{
		Server: strings.TrimRight(server, "/"),
		Client: &http.Client{Timeout: defaultTimeout},
	}
}

func (e *HTTPEngine) Infer(ctx context.Context, req *Request) ([]sdr.Detection, error) {
	url := fmt.Sprintf("%s/%s/%s", e.Server, predictionsEndpoint, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read model server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var predictions []Prediction
	if err := json.Unmarshal(body, &predictions); err != nil {
		return nil, fmt.Errorf("unable to parse model server response: %w", err)
	}
	detections := make([]sdr.Detection, 0, len(predictions))
	for _, p := range predictions {
		detections = append(detections, sdr.Detection{
			Label:      p.Label,
			Confidence: p.Confidence,
			Box:        p.Box,
		})
	}
	return detections, nil
}
