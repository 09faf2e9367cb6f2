package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/discovery"
)

func (s *Server) handleDiscoverTopics(c *gin.Context) {
	var req struct {
		Direction    string `json:"direction"`
		Limit        int    `json:"limit"`
		CategoryHint string `json:"category_hint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	items, err := s.Services.Discovery.Preview(c.Request.Context(), req.Direction, req.Limit, req.CategoryHint)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleGetDiscoverySettings(c *gin.Context) {
	s.ensureScheduler()
	settings, err := s.Services.Store.TopicDiscoverySettings(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings, "rotation": s.Services.Discovery.Rotation()})
}

type discoverySettingsRequest struct {
	Enabled      bool     `json:"enabled"`
	Timezone     string   `json:"timezone"`
	RunHour      *int     `json:"run_hour"`
	Direction    string   `json:"direction"`
	CategoryHint string   `json:"category_hint"`
	PerRunLimit  *int     `json:"per_run_limit"`
	MinScore     *float64 `json:"min_score"`
	TopN         *int     `json:"top_n"`
}

// handlePutDiscoverySettings replaces the user settings. Missing values
// take their defaults and everything is clamped to its valid range.
func (s *Server) handlePutDiscoverySettings(c *gin.Context) {
	s.ensureScheduler()
	var req discoverySettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	st := models.DefaultTopicDiscoverySettings()
	st.Enabled = req.Enabled
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		st.Timezone = tz
	}
	if req.RunHour != nil {
		st.RunHour = clamp(*req.RunHour, 0, 23)
	}
	st.Direction = strings.TrimSpace(req.Direction)
	if st.Enabled && len(st.Direction) < discovery.MinDirectionLength {
		st.Direction = s.Services.Discovery.Rotation()
	}
	st.CategoryHint = strings.TrimSpace(req.CategoryHint)
	if req.PerRunLimit != nil {
		st.PerRunLimit = clamp(*req.PerRunLimit, 5, 30)
	}
	if req.MinScore != nil {
		st.MinScore = max(0, min(100, *req.MinScore))
	}
	if req.TopN != nil {
		st.TopN = clamp(*req.TopN, 1, 12)
	}

	ctx := c.Request.Context()
	if err := s.Services.Store.SaveTopicDiscoverySettings(ctx, &st); err != nil {
		s.respondError(c, err)
		return
	}
	saved, err := s.Services.Store.TopicDiscoverySettings(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": saved})
}

func (s *Server) handleRunDiscovery(c *gin.Context) {
	s.ensureScheduler()
	var override discovery.Override
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&override); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	res := s.Services.Discovery.Run(context.WithoutCancel(c.Request.Context()), models.TriggerManual, override)
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleDiscoveryRuns(c *gin.Context) {
	s.ensureScheduler()
	runs, err := s.Services.Recorder.ListDiscoveryRuns(c.Request.Context(), queryLimit(c, 30))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
