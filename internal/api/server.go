package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/auth"
	"github.com/david/bid-tracker/internal/checkpoint"
	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/health"
	"github.com/david/bid-tracker/internal/ingest"
	"github.com/david/bid-tracker/internal/metrics"
	"github.com/david/bid-tracker/internal/models"
)

const defaultRunTimeout = 30 * time.Minute

type Server struct {
	Store      db.Store
	Auth       *auth.Service
	Runner     *ingest.Runner
	Reconciler *ingest.Reconciler
	Echo       *echo.Echo

	runTimeout  time.Duration
	sourcesFile string

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

// Options tunes the HTTP layer.
type Options struct {
	CORSOrigins []string
	RunTimeout  time.Duration
	// SourcesFile is where PUT /sources writes. Empty makes the source list read-only.
	SourcesFile string
}

func NewServer(store db.Store, authService *auth.Service, runner *ingest.Runner, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(metrics.EchoMiddleware())

	allowedOrigins := opts.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Store:       store,
		Auth:        authService,
		Runner:      runner,
		Reconciler:  ingest.NewReconciler(store),
		Echo:        e,
		runTimeout:  opts.RunTimeout,
		sourcesFile: opts.SourcesFile,
	}
	if s.runTimeout <= 0 {
		s.runTimeout = defaultRunTimeout
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := s.Echo.Group("/api/v1")
	api.POST("/auth/login", s.handleLogin)

	// Everything below acts on the operator's data.
	op := api.Group("")
	op.Use(s.Auth.Middleware)
	op.GET("/opportunities", s.handleListOpportunities)
	op.POST("/opportunities", s.handleAddOpportunity)
	op.POST("/opportunities/parse", s.handleParseOpportunities)
	op.GET("/opportunities/:id", s.handleGetOpportunity)
	op.PATCH("/opportunities/:id", s.handleEditOpportunity)
	op.GET("/opportunities/:id/revisions", s.handleGetRevisions)
	op.GET("/opportunities/:id/decisions", s.handleGetDecisions)
	op.POST("/opportunities/:id/decision", s.handleApplyDecision)
	op.GET("/stats", s.handleGetStats)

	op.GET("/runs", s.handleListRuns)
	op.GET("/runs/latest", s.handleLatestRun)
	op.GET("/checkpoint", s.handleGetCheckpoint)
	op.GET("/sources", s.handleGetSources)
	op.PUT("/sources", s.handleSaveSources)
	op.POST("/admin/runs", s.handleStartRun)
	op.GET("/admin/runs/current", s.handleCurrentRun)
}

// Start listens on the given port until the server is shut down.
func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == jobRunning {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.Auth.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	filter := db.QueryFilter{
		Organization: strings.TrimSpace(c.QueryParam("organization")),
	}

	if raw := c.QueryParam("presence"); raw != "" {
		p := models.Presence(raw)
		if !p.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid presence: " + raw})
		}
		filter.Presence = p
	}
	if raw := c.QueryParam("decision"); raw != "" {
		d, ok := models.ParseDecision(raw)
		if raw == string(models.DecisionNew) {
			d, ok = models.DecisionNew, true
		}
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid decision: " + raw})
		}
		filter.Decision = d
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	opps, err := s.Store.Query(c.Request().Context(), filter)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":   opps,
		"count":  len(opps),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	opp, err := s.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleGetRevisions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.Store.Get(ctx, id); err != nil {
		return s.errorResponse(c, err)
	}
	revs, err := s.Store.Revisions(ctx, id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if revs == nil {
		revs = []models.Revision{}
	}
	return c.JSON(http.StatusOK, revs)
}

func (s *Server) handleGetDecisions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.Store.Get(ctx, id); err != nil {
		return s.errorResponse(c, err)
	}
	entries, err := s.Store.DecisionLog(ctx, id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if entries == nil {
		entries = []models.DecisionEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

type manualEntryRequest struct {
	Organization      string `json:"organization"`
	OpportunityNumber string `json:"opportunity_number"`
	Title             string `json:"title"`
	DueDate           string `json:"due_date"`
	Link              string `json:"link"`
	Info              string `json:"info"`
}

func (s *Server) handleAddOpportunity(c echo.Context) error {
	var req manualEntryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	ctx := c.Request().Context()
	res, err := s.Reconciler.Reconcile(ctx, models.Candidate{
		Organization:      req.Organization,
		OpportunityNumber: req.OpportunityNumber,
		Title:             req.Title,
		DueDate:           req.DueDate,
		Link:              req.Link,
		Info:              req.Info,
		Provenance:        models.ProvenanceManual,
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	opp, err := s.Store.Get(ctx, res.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}

	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return c.JSON(code, map[string]interface{}{
		"result":      res,
		"opportunity": opp,
	})
}

type parseRequest struct {
	Organization string `json:"organization"`
	Text         string `json:"text"`
	Save         bool   `json:"save"`
}

func (s *Server) handleParseOpportunities(c echo.Context) error {
	var req parseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}

	candidates := ingest.ParsePastedText(req.Organization, req.Text)
	resp := map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	}
	if !req.Save || len(candidates) == 0 {
		return c.JSON(http.StatusOK, resp)
	}

	outcome, err := s.Reconciler.ReconcileSource(c.Request().Context(), "pasted", candidates)
	if err != nil {
		return s.errorResponse(c, err)
	}
	resp["outcome"] = outcome
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleApplyDecision(c echo.Context) error {
	var req models.DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	req.ID = c.Param("id")

	ctx := c.Request().Context()
	if err := s.Store.ApplyUserDecision(ctx, req.ID, req.Decision, req.Notes); err != nil {
		return s.errorResponse(c, err)
	}
	opp, err := s.Store.Get(ctx, req.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleEditOpportunity(c echo.Context) error {
	var edit models.ManualEdit
	if err := c.Bind(&edit); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	opp, err := s.Store.ApplyManualEdit(c.Request().Context(), c.Param("id"), edit)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, opp)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.Stats(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := health.DefaultRetention
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 {
		limit = l
	}

	recs, err := s.Store.ListRunRecords(c.Request().Context(), limit)
	if err != nil {
		return s.errorResponse(c, err)
	}
	reports := make([]*health.RunReport, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, health.NewReport(rec))
	}
	return c.JSON(http.StatusOK, reports)
}

func (s *Server) handleLatestRun(c echo.Context) error {
	recs, err := s.Store.ListRunRecords(c.Request().Context(), 1)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if len(recs) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no runs recorded"})
	}

	report := health.NewReport(recs[0])
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, report.RenderText())
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetCheckpoint(c echo.Context) error {
	tracker, err := checkpoint.New(c.Request().Context(), s.Store)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"checkpoint": tracker.Snapshot(),
		"resume":     tracker.ResumeInfo(),
	})
}

// errorResponse maps domain errors to status codes. Unknown errors are logged and hidden.
func (s *Server) errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Opportunity not found"})
	case errors.Is(err, db.ErrInvalidDecision),
		errors.Is(err, db.ErrEmptyEdit),
		errors.Is(err, ingest.ErrMalformedCandidate),
		errors.Is(err, ingest.ErrInvalidRegistry):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ingest.ErrRunInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	zap.L().Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}
