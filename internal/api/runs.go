package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/ingest"
)

const (
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
)

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	Resume    bool               `json:"resume"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    *ingest.RunResult  `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

type startRunRequest struct {
	Resume bool `json:"resume"`
}

func (s *Server) handleStartRun(c echo.Context) error {
	if s.Runner == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingestion is not configured"})
	}

	var req startRunRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		}
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == jobRunning {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "An ingestion run is already in progress",
			"job_id": job.ID,
		})
	}

	// Detach from the request so the run outlives it, bounded by our own timeout.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), s.runTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    jobRunning,
		Resume:    req.Resume,
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go s.runJob(jobCtx, job)

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Ingestion run started",
		"job_id":  jobID,
		"poll":    "/api/v1/admin/runs/current",
	})
}

func (s *Server) runJob(ctx context.Context, job *backgroundJob) {
	defer job.Cancel()
	log := zap.L().With(zap.String("job_id", job.ID))

	result, err := s.Runner.Run(ctx, ingest.RunOptions{Resume: job.Resume})

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job.EndedAt = time.Now()
	if err != nil {
		job.Status = jobFailed
		job.Error = err.Error()
		log.Error("ingestion run failed", zap.Error(err))
		return
	}
	job.Status = jobCompleted
	job.Result = result
	log.Info("ingestion run completed",
		zap.Int("total_records", result.Report.TotalRecords),
		zap.Int("failed_sources", result.Report.Failed),
		zap.Int64("swept", result.Swept))
}

func (s *Server) handleCurrentRun(c echo.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no run started since the server came up"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"resume":     job.Resume,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}
