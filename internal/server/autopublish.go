package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/autopublish"
	"github.com/yasyarik/yaswine/pkg/util"
)

type autopublishView struct {
	*models.AutopublishSettings
	Channels []string `json:"channels"`
	Slots    []int    `json:"slots"`
}

func newAutopublishView(st *models.AutopublishSettings) autopublishView {
	return autopublishView{
		AutopublishSettings: st,
		Channels:            st.EnabledChannels(),
		Slots:               autopublish.Slots(st.TimesPerDay, st.StartHour, st.EndHour),
	}
}

func (s *Server) handleGetAutopublishSettings(c *gin.Context) {
	s.ensureScheduler()
	st, err := s.Services.Store.AutopublishSettings(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": newAutopublishView(st)})
}

type autopublishSettingsRequest struct {
	Enabled             bool     `json:"enabled"`
	TimesPerDay         int      `json:"times_per_day"`
	Channels            []string `json:"channels"`
	Timezone            string   `json:"timezone"`
	StartHour           *int     `json:"start_hour"`
	EndHour             *int     `json:"end_hour"`
	LinkedInIncludeLink bool     `json:"linkedin_include_link"`
	TelegramIncludeLink bool     `json:"telegram_include_link"`
}

// handlePutAutopublishSettings replaces the user settings. Slot bookkeeping
// is left to the scheduler.
func (s *Server) handlePutAutopublishSettings(c *gin.Context) {
	s.ensureScheduler()
	var req autopublishSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	st := models.DefaultAutopublishSettings()
	st.Enabled = req.Enabled
	if req.TimesPerDay != 0 {
		st.TimesPerDay = clamp(req.TimesPerDay, 1, autopublish.MaxTimesPerDay)
	}
	if req.Channels != nil {
		normalized := make([]string, 0, len(req.Channels))
		for _, ch := range req.Channels {
			normalized = append(normalized, strings.ToLower(strings.TrimSpace(ch)))
		}
		st.SetChannels(normalized)
	}
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		st.Timezone = tz
	}
	if req.StartHour != nil {
		st.StartHour = clamp(*req.StartHour, 0, 23)
	}
	if req.EndHour != nil {
		st.EndHour = clamp(*req.EndHour, 0, 23)
	}
	st.LinkedInIncludeLink = req.LinkedInIncludeLink
	st.TelegramIncludeLink = req.TelegramIncludeLink

	ctx := c.Request.Context()
	if err := s.Services.Store.SaveAutopublishSettings(ctx, &st); err != nil {
		s.respondError(c, err)
		return
	}
	saved, err := s.Services.Store.AutopublishSettings(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": newAutopublishView(saved)})
}

func (s *Server) handleAutopublishHealth(c *gin.Context) {
	s.ensureScheduler()
	st, err := s.Services.Store.AutopublishSettings(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alive":     s.Services.Scheduler.Alive(),
		"now_local": s.Services.Store.Now().In(util.LoadLocation(st.Timezone)),
		"settings":  newAutopublishView(st),
	})
}

func (s *Server) handleRunAutopublish(c *gin.Context) {
	s.ensureScheduler()
	res := s.Services.Autopublish.Run(context.WithoutCancel(c.Request.Context()), models.TriggerManual)
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleAutopublishRuns(c *gin.Context) {
	s.ensureScheduler()
	runs, err := s.Services.Recorder.ListAutopublishRuns(c.Request.Context(), queryLimit(c, 30))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
