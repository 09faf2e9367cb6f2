package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/config"
)

const sessionCookie = "auth_token"

// AuthService guards the admin API with a TOTP login and in-memory
// sessions. A disabled service lets every request through.
type AuthService struct {
	logger     *zap.Logger
	enabled    bool
	totpSecret string
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewAuthService(cfg *config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		logger:     logger,
		enabled:    cfg.Enabled,
		totpSecret: cfg.TOTPSecret,
		ttl:        cfg.SessionTTL,
		now:        time.Now,
		sessions:   make(map[string]time.Time),
	}
}

func (a *AuthService) Enabled() bool {
	return a.enabled
}

// GenerateSecret creates a fresh TOTP secret and its provisioning URL.
func GenerateSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateCode(code string) bool {
	valid := totp.Validate(strings.TrimSpace(code), a.totpSecret)
	if valid {
		a.logger.Info("TOTP code validation successful")
	} else {
		a.logger.Warn("TOTP code validation failed")
	}
	return valid
}

// Login exchanges a valid TOTP code for a session token.
func (a *AuthService) Login(code string) (string, time.Time, bool) {
	if !a.ValidateCode(code) {
		return "", time.Time{}, false
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		a.logger.Error("Failed to create session token", zap.Error(err))
		return "", time.Time{}, false
	}
	token := hex.EncodeToString(buf)
	expires := a.now().Add(a.ttl)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = expires
	a.pruneLocked()
	return token, expires, true
}

func (a *AuthService) ValidSession(token string) bool {
	if token == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.now().Before(expires) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AuthService) pruneLocked() {
	now := a.now()
	for token, expires := range a.sessions {
		if !now.Before(expires) {
			delete(a.sessions, token)
		}
	}
}

// AuthMiddleware accepts a session from the auth_token cookie or a
// Bearer header.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled || c.Request.URL.Path == "/api/v1/auth/login" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		token, _ := c.Cookie(sessionCookie)
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if !a.ValidSession(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

// SetSessionCookie writes the session cookie for a fresh login.
func (a *AuthService) SetSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token, int(a.ttl.Seconds()), "/", "", false, true)
}
