// Package draft holds article drafts, the HTTP generator client that
// produces them and the structural validator that checks them.
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
)

// Draft is generated article content.
type Draft struct {
	Slug        string             `json:"slug"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	HeroImage   string             `json:"hero_image"`
	Body        string             `json:"body"`
	FAQ         []models.FAQItem   `json:"faq"`
	Sources     []models.SourceRef `json:"sources"`
}

// ExistingPost lets the generator link to and avoid repeating published articles.
type ExistingPost struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Request is one generation attempt. Previous and Problems carry repair
// hints from the attempt before.
type Request struct {
	Topic         string         `json:"topic"`
	ExistingPosts []ExistingPost `json:"existing_posts"`
	CategoryHint  string         `json:"category_hint,omitempty"`
	SlugHint      string         `json:"slug_hint,omitempty"`
	SourceHTML    string         `json:"source_html,omitempty"`
	Previous      *Draft         `json:"previous,omitempty"`
	Problems      []string       `json:"problems,omitempty"`
}

// HTTPGenerator asks a remote drafting service for article content.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

func NewHTTPGenerator(cfg *config.GeneratorConfig, logger *zap.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Draft, error) {
	if g.endpoint == "" {
		return nil, fmt.Errorf("generator endpoint is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create draft request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read generator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}

	g.logger.Debug("Draft generated",
		zap.String("topic", req.Topic),
		zap.Duration("duration", time.Since(start)))
	return &d, nil
}
