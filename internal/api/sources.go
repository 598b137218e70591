package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/checkpoint"
	"github.com/david/bid-tracker/internal/ingest"
)

func (s *Server) handleGetSources(c echo.Context) error {
	if s.Runner == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingestion is not configured"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sources":  s.Runner.Registry().Sources,
		"editable": s.sourcesFile != "",
	})
}

// handleSaveSources replaces the source list on disk and in the runner. The next run uses it.
func (s *Server) handleSaveSources(c echo.Context) error {
	if s.Runner == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingestion is not configured"})
	}
	if s.sourcesFile == "" {
		return c.JSON(http.StatusConflict, map[string]string{"error": "The built-in source list is in use; set ingest.sources_file to edit sources"})
	}

	var reg ingest.Registry
	if err := c.Bind(&reg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	// Held so no run starts against a half-written list.
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.runningJob != nil && s.runningJob.Status == jobRunning {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "An ingestion run is in progress",
			"job_id": s.runningJob.ID,
		})
	}

	// Checkpoint indexes refer to positions in the current list.
	tracker, err := checkpoint.New(c.Request().Context(), s.Store)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if info := tracker.ResumeInfo(); info.ShouldResume {
		return c.JSON(http.StatusConflict, map[string]string{"error": "An interrupted run is waiting to resume; finish it or start a fresh run first"})
	}

	if err := ingest.SaveRegistry(s.sourcesFile, &reg); err != nil {
		return s.errorResponse(c, err)
	}
	s.Runner.SetRegistry(&reg)
	zap.L().Info("source list saved",
		zap.String("file", s.sourcesFile),
		zap.Int("sources", len(reg.Sources)),
		zap.Int("enabled", len(reg.Enabled())))

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "Sources saved",
		"sources": reg.Sources,
	})
}
