package mlscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/logging"
)

type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type scoreRequest struct {
	URL      string         `json:"url,omitempty"`
	Features map[string]any `json:"features"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// RemoteProvider POSTs the URL and its feature map to a model service and
// expects {"score": <float>} back. Text models read url, others features.
type RemoteProvider struct {
	endpoint string
	client   *http.Client
	logger   logging.Logger
}

func NewRemoteProvider(cfg RemoteConfig, logger logging.Logger, httpClient *http.Client) *RemoteProvider {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	componentLogger := logger.With(logging.Field{Key: "provider", Value: "remote"})
	componentLogger.Info("created remote score provider",
		logging.Field{Key: "endpoint", Value: cfg.Endpoint},
		logging.Field{Key: "timeout", Value: httpClient.Timeout.String()})

	return &RemoteProvider{endpoint: cfg.Endpoint, client: httpClient, logger: componentLogger}
}

func (p *RemoteProvider) Score(ctx context.Context, v *features.Vector) (float64, error) {
	const op = "mlscore.RemoteProvider"

	body, err := json.Marshal(scoreRequest{URL: v.Raw, Features: v.Map()})
	if err != nil {
		return Checked(op, 0, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Checked(op, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("model request failed",
			logging.Field{Key: "endpoint", Value: p.endpoint},
			logging.Field{Key: "error", Value: err.Error()})
		return Checked(op, 0, fmt.Errorf("http do: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Checked(op, 0, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Checked(op, 0, fmt.Errorf("model service returned %d", resp.StatusCode))
	}

	var out scoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Checked(op, 0, fmt.Errorf("decode response: %w", err))
	}
	if out.Score == nil {
		return Checked(op, 0, fmt.Errorf("response has no score"))
	}
	return Checked(op, *out.Score, nil)
}
