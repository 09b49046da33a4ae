// Package httpapi mounts the health/metrics surface and the inbound ACS
// media WebSocket upgrade endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/session"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// statusTimeout bounds the /status endpoint's snapshot.
const statusTimeout = time.Second

// NewSessionFunc constructs and wires a fresh per-call Controller.
type NewSessionFunc func(ctx context.Context, callConnectionID, sessionID string, conn *websocket.Conn) *session.Controller

// Server mounts the gateway's HTTP surface.
type Server struct {
	engine     *gin.Engine
	registry   *registry.Registry
	logger     orchestrator.Logger
	newSession NewSessionFunc
}

// New constructs a Server and registers its routes.
func New(reg *registry.Registry, logger orchestrator.Logger, newSession NewSessionFunc) *Server {
	if logger == nil {
		logger = orchestrator.NoOpLogger{}
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, registry: reg, logger: logger, newSession: newSession}
	s.routes()
	return s
}

// Handler returns the http.Handler to mount on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/tts/dedicated/health", s.handleHealth)
	s.engine.GET("/tts/dedicated/status", s.handleStatus)
	s.engine.GET("/tts/dedicated/metrics", s.handleMetrics)
	s.engine.GET("/ws", s.handleMediaStream)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"active_sessions":    s.registry.Count(),
		"session_awareness":  nil,
		"timestamp":          time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), statusTimeout)
	defer cancel()

	done := make(chan struct{}, 1)
	go func() {
		s.registry.Count()
		done <- struct{}{}
	}()

	select {
	case <-done:
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	case <-ctx.Done():
		c.JSON(http.StatusOK, gin.H{
			"status":    "timeout",
			"timestamp": nil,
		})
	}
}

func (s *Server) handleMetrics(c *gin.Context) {
	total := s.registry.AllocationsTotal()
	active := int64(s.registry.Count())
	c.JSON(http.StatusOK, gin.H{
		"active_sessions":    active,
		"allocations_total":  total,
		"allocations_cached": int64(0),
		"allocations_new":    total,
		"timestamp":          time.Now().Unix(),
	})
}

func (s *Server) handleMediaStream(c *gin.Context) {
	callID := firstHeader(c.Request, "x-ms-call-connection-id", "x-call-connection-id")
	sessionID := firstHeader(c.Request, "x-ms-call-correlation-id", "x-session-id")
	if callID == "" {
		callID = uuid.NewString()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("httpapi: websocket accept failed", "err", err)
		return
	}

	ctrl := s.newSession(c.Request.Context(), callID, sessionID, conn)
	if err := ctrl.Start(); err != nil {
		s.logger.Error("httpapi: session start failed", "err", err, "callId", callID)
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	defer ctrl.Stop()

	for {
		_, data, err := conn.Read(c.Request.Context())
		if err != nil {
			return
		}
		ctrl.HandleMedia(data)
	}
}

func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}
