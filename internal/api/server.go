// Package api implements the thin HTTP host exposing the §6 command
// surface, adapted from the teacher's internal/api/server.go: same
// gin.New() + Logger/Recovery/CORS/request-ID middleware stack and
// Start/setupRoutes shape, routed to internal/orchestrator.Engine instead
// of a variant-interpretation service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/qpcr-scurve/engine/internal/config"
	"github.com/qpcr-scurve/engine/internal/domain"
	"github.com/qpcr-scurve/engine/internal/middleware"
	"github.com/qpcr-scurve/engine/internal/orchestrator"
)

// Server represents the HTTP server hosting the command surface.
type Server struct {
	engine *orchestrator.Engine
	logger *logrus.Logger
	cfg    *config.Manager
	router *gin.Engine
	server *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize: 1024, WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewServer creates a new HTTP server instance wired to the orchestrator.
func NewServer(engine *orchestrator.Engine, cfg *config.Manager, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if cfg.GetConfig().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(60 * time.Second))
	router.Use(corsMiddleware())

	s := &Server{engine: engine, logger: logger, cfg: cfg, router: router}
	s.setupRoutes()
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	sc := s.cfg.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", sc.Host, sc.Port)

	readTimeout, _ := time.ParseDuration(sc.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(sc.WriteTimeout)
	idleTimeout, _ := time.ParseDuration(sc.IdleTimeout)

	s.server = &http.Server{
		Addr: addr, Handler: s.router,
		ReadTimeout: readTimeout, WriteTimeout: writeTimeout, IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/runs", s.handleAnalyze)
		v1.POST("/runs/:id/thresholds", s.handleRecomputeThresholds)
		v1.POST("/runs/:id/wells/:well_id/channels/:channel/feedback", s.handleSubmitFeedback)
		v1.GET("/runs/:id/ml-reclassify", s.handleBatchMLReclassify)
		v1.POST("/runs/:id/reset", s.handleEmergencyReset)
		v1.GET("/models/:test_code/versions", s.handleListModelVersions)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var input domain.RunInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInputMalformed, "message": err.Error()})
		return
	}

	result, err := s.engine.Analyze(c.Request.Context(), input)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRecomputeThresholds(c *gin.Context) {
	runID := c.Param("id")
	var strategy domain.StrategySelection
	if err := c.ShouldBindJSON(&strategy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInputMalformed, "message": err.Error()})
		return
	}

	result, err := s.engine.RecomputeThresholds(c.Request.Context(), runID, strategy)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type feedbackRequest struct {
	Label domain.Class7 `json:"label"`
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	runID, wellID, channel := c.Param("id"), c.Param("well_id"), c.Param("channel")
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInputMalformed, "message": err.Error()})
		return
	}

	recorded, err := s.engine.SubmitExpertFeedback(c.Request.Context(), runID, wellID, channel, req.Label)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, recorded)
}

// handleBatchMLReclassify upgrades to a websocket and streams per-well
// progress, the natural transport for a cooperatively-cancellable
// operation: a client "cancel" text frame closes the cancel channel.
func (s *Server) handleBatchMLReclassify(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(c.Request.Context())
	defer cancelCtx()
	cancelCh := make(chan struct{})

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil || string(msg) == "cancel" {
				close(cancelCh)
				return
			}
		}
	}()

	progress := s.engine.BatchMLReclassify(ctx, runID, cancelCh)
	for p := range progress {
		if err := conn.WriteJSON(p); err != nil {
			return
		}
		if p.Done {
			return
		}
	}
}

func (s *Server) handleEmergencyReset(c *gin.Context) {
	if err := s.engine.EmergencyReset(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListModelVersions(c *gin.Context) {
	testCode := c.Param("test_code")
	versions := s.engine.ListModelVersions(testCode)
	c.JSON(http.StatusOK, gin.H{"test_code": testCode, "versions": versions})
}

func writeEngineError(c *gin.Context, err error) {
	if engErr, ok := err.(*domain.EngineError); ok {
		c.JSON(statusForCode(engErr.Code), engErr)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": domain.ErrCodeInternal, "message": err.Error()})
}

func statusForCode(code string) int {
	switch code {
	case domain.ErrCodeInputMalformed:
		return http.StatusBadRequest
	case domain.ErrCodeThresholdNoFixed, domain.ErrCodeStdCurveInvalid, domain.ErrCodeMLDisabled, domain.ErrCodeMLInsufficientTraining:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
