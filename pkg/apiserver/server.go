// Package apiserver serves the stored logs over HTTP: paged queries, grouped
// queries and a websocket feed of new documents.
package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/apiserver/handlers"
	"github.com/superlogger/superlogger/pkg/apiserver/middleware"
	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/logger"
)

const DefaultPrefix = "/logs"

type readier interface {
	Ready() <-chan struct{}
}

type Server struct {
	router *gin.Engine
	logs   handlers.LogSource
	log    *logger.Logger
	cfg    *config.Config
	logger *zap.Logger
}

// NewServer wires the routes. log receives request instrumentation and may
// be nil to disable it.
func NewServer(logs handlers.LogSource, log *logger.Logger, cfg *config.Config, zl *zap.Logger) *Server {
	s := &Server{
		logs:   logs,
		log:    log,
		cfg:    cfg,
		logger: zl,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if s.log != nil {
		router.Use(middleware.Logger(s.log))
	}
	router.Use(middleware.CORS())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	prefix := s.cfg.API.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logHandler := handlers.NewLogHandler(s.logs, s.cfg.API.PageSize, s.log, s.logger)
	logs := router.Group(prefix)
	{
		logs.GET("", logHandler.List)
		logs.GET("/by-block", logHandler.ByBlock)
		logs.GET("/stream", logHandler.Stream)
	}

	s.router = router
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if r, ok := s.logs.(readier); ok {
		select {
		case <-r.Ready():
			resp["store"] = "ready"
		default:
			resp["store"] = "connecting"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
