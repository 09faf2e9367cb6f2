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

// TelegramPoster sends channel messages through the Bot API.
type TelegramPoster struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   *zap.Logger
}

func NewTelegramPoster(cfg *config.TelegramConfig, logger *zap.Logger) *TelegramPoster {
	return &TelegramPoster{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:   logger,
	}
}

func (p *TelegramPoster) Name() string {
	return models.ChannelTelegram
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (p *TelegramPoster) Post(ctx context.Context, req PostRequest) (string, error) {
	if p.botToken == "" || p.chatID == "" {
		return "", errors.New("telegram is not configured")
	}

	body := map[string]any{
		"chat_id":                  p.chatID,
		"text":                     TelegramText(req),
		"disable_web_page_preview": !req.IncludeLink,
	}
	var resp telegramResponse
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.botToken)
	if _, err := postJSON(ctx, p.client, endpoint, nil, body, &resp); err != nil {
		return "", fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	if !resp.OK {
		return "", fmt.Errorf("telegram sendMessage failed: %s", resp.Description)
	}

	p.logger.Debug("Telegram message sent", zap.String("job_id", req.JobID), zap.Int64("message_id", resp.Result.MessageID))
	return TelegramMessageURL(p.chatID, resp.Result.MessageID), nil
}

// TelegramMessageURL returns the public link of a message, or "" when the
// chat has no public address.
func TelegramMessageURL(chatID string, messageID int64) string {
	if messageID == 0 {
		return ""
	}
	switch {
	case strings.HasPrefix(chatID, "@"):
		return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(chatID, "@"), messageID)
	case strings.HasPrefix(chatID, "-100"):
		return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(chatID, "-100"), messageID)
	}
	return ""
}
