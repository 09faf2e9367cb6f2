package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
	"github.com/yasyarik/yaswine/internal/models"
)

// LinkedInPoster creates posts through the LinkedIn REST posts API.
type LinkedInPoster struct {
	accessToken string
	authorURN   string
	apiVersion  string
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

func NewLinkedInPoster(cfg *config.LinkedInConfig, logger *zap.Logger) *LinkedInPoster {
	return &LinkedInPoster{
		accessToken: cfg.AccessToken,
		authorURN:   cfg.AuthorURN,
		apiVersion:  cfg.APIVersion,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger,
	}
}

func (p *LinkedInPoster) Name() string {
	return models.ChannelLinkedIn
}

func (p *LinkedInPoster) Post(ctx context.Context, req PostRequest) (string, error) {
	if p.accessToken == "" || p.authorURN == "" {
		return "", errors.New("linkedin is not configured")
	}

	body := map[string]any{
		"author":     p.authorURN,
		"commentary": LinkedInText(req),
		"visibility": "PUBLIC",
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	if req.IncludeLink && req.URL != "" {
		body["content"] = map[string]any{
			"article": map[string]any{
				"source":      req.URL,
				"title":       headline(req),
				"description": req.Description,
			},
		}
	}

	headers := map[string]string{
		"Authorization":             "Bearer " + p.accessToken,
		"LinkedIn-Version":          p.apiVersion,
		"X-Restli-Protocol-Version": "2.0.0",
	}
	respHeaders, err := postJSON(ctx, p.client, p.baseURL+"/rest/posts", headers, body, nil)
	if err != nil {
		return "", fmt.Errorf("linkedin post failed: %w", err)
	}

	urn := respHeaders.Get("X-Restli-Id")
	if urn == "" {
		return "", errors.New("linkedin post failed: response has no post id")
	}
	p.logger.Debug("LinkedIn post created", zap.String("job_id", req.JobID), zap.String("urn", urn))
	return "https://www.linkedin.com/feed/update/" + urn + "/", nil
}
