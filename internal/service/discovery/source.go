package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/service/topics"
)

// TopicSource suggests scored topic candidates for a direction.
type TopicSource interface {
	Discover(ctx context.Context, direction string, limit int, categoryHint string) ([]topics.Candidate, error)
}

// HTTPSource fetches candidates from a remote topic research service.
type HTTPSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

func NewHTTPSource(cfg *config.DiscoveryConfig, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type discoverRequest struct {
	Direction    string `json:"direction"`
	Limit        int    `json:"limit"`
	CategoryHint string `json:"category_hint,omitempty"`
}

type discoverResponse struct {
	Items []topics.Candidate `json:"items"`
}

func (s *HTTPSource) Discover(ctx context.Context, direction string, limit int, categoryHint string) ([]topics.Candidate, error) {
	if s.endpoint == "" {
		return nil, errors.New("topic source endpoint is not configured")
	}

	body, err := json.Marshal(discoverRequest{Direction: direction, Limit: limit, CategoryHint: categoryHint})
	if err != nil {
		return nil, fmt.Errorf("failed to encode discovery request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call topic source: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read topic source response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("topic source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out discoverResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode topic candidates: %w", err)
	}

	s.logger.Debug("Topics discovered",
		zap.String("direction", direction),
		zap.Int("count", len(out.Items)),
		zap.Duration("duration", time.Since(start)))
	return out.Items, nil
}
