// Package server exposes evaluations over REST: submit runs, poll
// status, fetch reports, and stream run events over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/ecosystem"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/orchestrator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/output"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/sandbox"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/target"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/plugins"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	EnableCORS      bool
	AuthToken       string
	MaxConcurrent   int
	EnableWebSocket bool
}

// Server handles HTTP requests for evaluation runs
type Server struct {
	config     Config
	appCfg     *types.Config
	registry   *plugins.Registry
	router     *gin.Engine
	httpServer *http.Server
	bus        *orchestrator.Bus
	logger     *zap.Logger
	wsUpgrader websocket.Upgrader

	// Job management
	mu       sync.RWMutex
	jobs     map[string]*JobStatus
	jobQueue chan *Job
	ctx      context.Context
	cancel   context.CancelFunc
}

// EvalRequest is the submission payload for one evaluation run
type EvalRequest struct {
	ID       string             `json:"id,omitempty"`
	Scenario string             `json:"scenario" binding:"required"`
	Target   types.TargetConfig `json:"target"`
}

// JobStatus tracks an evaluation job
type JobStatus struct {
	ID          string                  `json:"id"`
	Status      string                  `json:"status"` // queued, running, completed, failed, cancelled
	Request     EvalRequest             `json:"request"`
	Result      *types.EvaluationResult `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// Job represents a queued evaluation
type Job struct {
	ID      string
	Request EvalRequest
}

// New creates a server over an application config and a scenario
// registry. A nil registry gets the built-in scenarios.
func New(config Config, appCfg *types.Config, registry *plugins.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if appCfg == nil {
		appCfg = types.DefaultConfig()
	}
	if registry == nil {
		registry = plugins.BuiltinRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		appCfg:   appCfg,
		registry: registry,
		bus:      orchestrator.NewBus(),
		logger:   logger.Named("server"),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		jobs:     make(map[string]*JobStatus),
		jobQueue: make(chan *Job, config.MaxConcurrent*2),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	if s.config.EnableCORS {
		s.router.Use(corsMiddleware())
	}
	if s.config.AuthToken != "" {
		s.router.Use(authMiddleware(s.config.AuthToken))
	}

	api := s.router.Group("/api/v1")
	{
		// Evaluation runs
		api.POST("/evaluations", s.handleSubmitEval)
		api.GET("/evaluations", s.handleListEvals)
		api.GET("/evaluations/:id", s.handleGetEval)
		api.GET("/evaluations/:id/report", s.handleGetReport)
		api.DELETE("/evaluations/:id", s.handleCancelEval)
		if s.config.EnableWebSocket {
			api.GET("/evaluations/:id/ws", s.handleEvalWebSocket)
		}

		// Scenarios
		api.GET("/scenarios", s.handleListScenarios)

		// Health
		api.GET("/health", s.handleHealth)
		api.GET("/config", s.handleConfig)
	}
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start starts the job workers and serves HTTP until shutdown.
func (s *Server) Start() error {
	for i := 0; i < s.config.MaxConcurrent; i++ {
		go s.jobWorker()
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx)
	}
}

// jobWorker processes queued jobs
func (s *Server) jobWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobQueue:
			s.processJob(job)
		}
	}
}

func (s *Server) processJob(job *Job) {
	s.mu.Lock()
	status := s.jobs[job.ID]
	if status == nil || status.Status == "cancelled" {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	status.Status = "running"
	status.StartedAt = &now
	s.mu.Unlock()

	result, err := s.runEvaluation(job)

	s.mu.Lock()
	completed := time.Now()
	status.CompletedAt = &completed
	if err != nil {
		status.Status = "failed"
		status.Error = err.Error()
		s.logger.Warn("evaluation failed",
			zap.String("job_id", job.ID), zap.Error(err))
	} else {
		status.Status = "completed"
		status.Result = result
	}
	s.mu.Unlock()
}

// runEvaluation assembles the stack for one job and runs it under the
// job's id so subscribers see its events.
func (s *Server) runEvaluation(job *Job) (*types.EvaluationResult, error) {
	scn, err := s.registry.Create(job.Request.Scenario)
	if err != nil {
		return nil, err
	}

	tcfg := job.Request.Target
	if tcfg.URL == "" {
		tcfg = s.appCfg.Target
	}
	if tcfg.URL == "" {
		return nil, fmt.Errorf("no target url in request or server config")
	}

	var purple scenario.PurpleAgent
	purple, err = target.NewRemoteAgent("remote_"+job.ID, tcfg, s.logger)
	if err != nil {
		return nil, err
	}
	if tcfg.Sandboxed {
		purple = sandbox.Wrap(purple, s.logger)
	}

	runCfg := *s.appCfg
	runCfg.Target = tcfg
	runCfg.Target.Sandboxed = false // already wrapped above

	eval := ecosystem.New(&runCfg, scn, s.logger).WithBus(s.bus)
	return eval.RunWithID(s.ctx, job.ID, purple)
}

// API Handlers

func (s *Server) handleSubmitEval(c *gin.Context) {
	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.registry.Has(req.Scenario) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     fmt.Sprintf("unknown scenario %q", req.Scenario),
			"available": s.registry.Names(),
		})
		return
	}
	if req.ID == "" {
		req.ID = "eval_" + uuid.New().String()[:8]
	}

	status := &JobStatus{
		ID:      req.ID,
		Status:  "queued",
		Request: req,
	}

	s.mu.Lock()
	if _, exists := s.jobs[req.ID]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "job id already exists"})
		return
	}
	s.jobs[req.ID] = status
	s.mu.Unlock()

	select {
	case s.jobQueue <- &Job{ID: req.ID, Request: req}:
		c.JSON(http.StatusAccepted, gin.H{
			"id":     req.ID,
			"status": "queued",
		})
	default:
		s.mu.Lock()
		delete(s.jobs, req.ID)
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
	}
}

func (s *Server) handleGetEval(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	status, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleGetReport(c *gin.Context) {
	id := c.Param("id")
	format := c.DefaultQuery("format", "json")

	s.mu.RLock()
	status, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if status.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no result yet", "status": status.Status})
		return
	}

	data, err := output.NewReporter(format).Render(status.Result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentTypeFor(format), data)
}

func (s *Server) handleCancelEval(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	status, ok := s.jobs[id]
	if ok && status.Status == "queued" {
		status.Status = "cancelled"
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleEvalWebSocket(c *gin.Context) {
	id := c.Param("id")

	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, events)

	for event := range events {
		data, _ := json.Marshal(event)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) handleListEvals(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*JobStatus, 0, len(s.jobs))
	for _, status := range s.jobs {
		items = append(items, status)
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(items),
		"jobs":  items,
	})
}

func (s *Server) handleListScenarios(c *gin.Context) {
	summaries := s.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"total":     len(summaries),
		"scenarios": summaries,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"max_concurrent": s.config.MaxConcurrent,
		"websocket":      s.config.EnableWebSocket,
		"scenarios":      s.registry.Names(),
		"max_rounds":     s.appCfg.Evaluation.MaxRounds,
	})
}

func contentTypeFor(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml", "yml":
		return "application/yaml"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// Middleware

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth != "Bearer "+token && auth != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
