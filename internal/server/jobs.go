package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yasyarik/yaswine/internal/models"
	"github.com/yasyarik/yaswine/internal/service/channels"
	"github.com/yasyarik/yaswine/internal/service/lifecycle"
	"github.com/yasyarik/yaswine/internal/service/reconciler"
)

func (s *Server) handleListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	// Listing is the polling point of the admin UI, so stale work is
	// cleared here.
	if _, err := s.Services.Reconciler.Sweep(ctx, reconciler.PollThresholds(&s.Config.Scheduler.Reconciler)); err != nil {
		s.Logger.Warn("Failed to reconcile stale jobs", zap.Error(err))
	}

	jobs, err := s.Services.Store.ListJobs(ctx, queryLimit(c, 200))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleCreateJob(c *gin.Context) {
	var req lifecycle.NewJob
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	job, err := s.Services.Jobs.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.Services.Store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "channels": job.ChannelStates()})
}

func (s *Server) handleUpdateJob(c *gin.Context) {
	var patch lifecycle.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	job, err := s.Services.Jobs.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	if err := s.Services.Jobs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleGenerateJob checks the transition up front and drafts in the
// background, since generation can take minutes.
func (s *Server) handleGenerateJob(c *gin.Context) {
	id := c.Param("id")
	job, err := s.Services.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if job.Status == models.JobStatusGenerating {
		s.respondError(c, lifecycle.ErrAlreadyGenerating)
		return
	}
	if !lifecycle.CanTransition(job.Status, models.JobStatusGenerating) {
		s.respondError(c, lifecycle.ErrInvalidTransition)
		return
	}

	s.background(func(ctx context.Context) {
		if err := s.Services.Jobs.Generate(ctx, id); err != nil && !errors.Is(err, lifecycle.ErrGenerationFailed) {
			s.Logger.Error("Background generation failed", zap.String("job_id", id), zap.Error(err))
		}
	})
	c.JSON(http.StatusAccepted, gin.H{"status": models.JobStatusGenerating})
}

func (s *Server) handlePublishJob(c *gin.Context) {
	url, err := s.Services.Jobs.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"published_url": url})
}

func (s *Server) handleUnpublishJob(c *gin.Context) {
	if err := s.Services.Jobs.Unpublish(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.JobStatusReady})
}

func (s *Server) handlePublishChannel(c *gin.Context) {
	var opts channels.Options
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	ack, err := s.Services.Dispatcher.Trigger(c.Request.Context(), c.Param("id"), c.Param("channel"), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ack)
}

func (s *Server) handleJobLogs(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.Services.Store.GetJob(ctx, id); err != nil {
		s.respondError(c, err)
		return
	}

	logs, err := s.Services.Store.Logs(ctx, id, queryLimit(c, 200))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
