// Package httpapi exposes the review, settings and rollover operations over
// HTTP for a local UI or scripts.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ArionMiles/moneytracker/internal/plugins"
	"github.com/ArionMiles/moneytracker/pkg/budget"
	"github.com/ArionMiles/moneytracker/pkg/ingest"
	"github.com/ArionMiles/moneytracker/pkg/review"
	"github.com/ArionMiles/moneytracker/pkg/settings"
	"github.com/ArionMiles/moneytracker/pkg/store"
	"github.com/ArionMiles/moneytracker/pkg/transfer"
)

// RolloverChecker runs one rollover check.
type RolloverChecker interface {
	CheckNow(ctx context.Context) (budget.Outcome, error)
}

// StatsReporter reports ingestion counters.
type StatsReporter interface {
	Stats() ingest.Stats
}

// Deps are the services behind the API.
type Deps struct {
	Review   *review.Service
	Settings *settings.Service
	Transfer *transfer.Service
	Rollover RolloverChecker
	Queue    *ingest.Queue
	Stats    StatsReporter
	Registry *plugins.Registry
}

// Server holds the handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates the API server.
func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:   deps,
		logger: logger.With("component", "httpapi"),
		now:    time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	a := r.Group("/api")
	a.GET("/status", s.status)

	a.GET("/candidates", s.listCandidates)
	a.POST("/candidates/:id/confirm", s.confirmCandidate)
	a.DELETE("/candidates/:id", s.dismissCandidate)

	a.GET("/transactions", s.listTransactions)
	a.POST("/transactions", s.addTransaction)
	a.PATCH("/transactions/:id", s.recategorize)
	a.DELETE("/transactions/:id", s.deleteTransaction)

	a.GET("/categories", s.listCategories)
	a.POST("/categories", s.createCategory)
	a.PUT("/categories/:id", s.renameCategory)
	a.DELETE("/categories/:id", s.deleteCategory)

	a.GET("/settings", s.getSettings)
	a.PATCH("/settings", s.updateSettings)

	a.GET("/summary", s.summary)
	a.POST("/rollover/check", s.checkRollover)

	a.GET("/months", s.listMonths)
	a.GET("/months/:key", s.getMonth)
	a.GET("/months/:key/export", s.exportMonth)

	a.GET("/export", s.exportActive)
	a.POST("/import", s.importTransactions)

	a.POST("/notifications", s.pushNotification)
	a.GET("/sources", s.listSources)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// fail maps service errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrInvalidInput), errors.Is(err, review.ErrReservedName), errors.Is(err, settings.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyArchived):
		status = http.StatusConflict
	case errors.Is(err, ingest.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return id, true
}

func (s *Server) status(c *gin.Context) {
	resp := gin.H{"time": s.now().UTC()}
	if s.deps.Queue != nil {
		resp["queue_length"] = s.deps.Queue.Len()
	}
	if s.deps.Stats != nil {
		resp["ingest"] = s.deps.Stats.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

type sourceInfo struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	RequiredScopes []string       `json:"required_scopes,omitempty"`
	ConfigSchema   map[string]any `json:"config_schema"`
}

func (s *Server) listSources(c *gin.Context) {
	out := []sourceInfo{}
	if s.deps.Registry != nil {
		for _, p := range s.deps.Registry.List() {
			out = append(out, sourceInfo{
				Name:           p.Name(),
				Description:    p.Description(),
				RequiredScopes: p.RequiredScopes(),
				ConfigSchema:   p.ConfigSchema(),
			})
		}
	}
	c.JSON(http.StatusOK, out)
}
