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

// MicroblogPoster publishes a reply-chained thread through the X API v2.
type MicroblogPoster struct {
	bearerToken string
	baseURL     string
	maxPosts    int
	client      *http.Client
	logger      *zap.Logger
}

func NewMicroblogPoster(cfg *config.MicroblogConfig, logger *zap.Logger) *MicroblogPoster {
	return &MicroblogPoster{
		bearerToken: cfg.BearerToken,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxPosts:    cfg.MaxPosts,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger,
	}
}

func (p *MicroblogPoster) Name() string {
	return models.ChannelMicroblog
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Post publishes the thread and returns the URL of its first entry. A
// failure mid-thread is reported even if earlier entries went out.
func (p *MicroblogPoster) Post(ctx context.Context, req PostRequest) (string, error) {
	if p.bearerToken == "" {
		return "", errors.New("microblog is not configured")
	}

	thread := MicroblogThread(req, p.maxPosts)
	if len(thread) == 0 {
		return "", errors.New("microblog thread is empty")
	}

	headers := map[string]string{"Authorization": "Bearer " + p.bearerToken}
	var firstID, prevID string
	for i, text := range thread {
		body := map[string]any{"text": text}
		if prevID != "" {
			body["reply"] = map[string]any{"in_reply_to_tweet_id": prevID}
		}

		var resp tweetResponse
		if _, err := postJSON(ctx, p.client, p.baseURL+"/2/tweets", headers, body, &resp); err != nil {
			return "", fmt.Errorf("microblog post %d/%d failed: %w", i+1, len(thread), err)
		}
		if resp.Data.ID == "" {
			return "", fmt.Errorf("microblog post %d/%d failed: response has no id", i+1, len(thread))
		}
		if firstID == "" {
			firstID = resp.Data.ID
		}
		prevID = resp.Data.ID
	}

	p.logger.Debug("Microblog thread posted", zap.String("job_id", req.JobID), zap.Int("posts", len(thread)))
	return "https://x.com/i/web/status/" + firstID, nil
}
