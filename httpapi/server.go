package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/YallaPapi/i2v-sub001/config"
	"github.com/YallaPapi/i2v-sub001/errors"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/version"
)

// Server is the HTTP front of the daemon, backed by Gin.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	cfg        config.HTTPConfig
	log        *logger.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(cfg config.HTTPConfig, h *Handler, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(requestLogger(log), recovery(log))

	build := version.Get()
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": build.String()})
	})
	h.Register(engine)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("httpapi"),
	}
}

// GinEngine returns the underlying engine, used by tests.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// Start binds the port and serves in the background. It returns once the
// listener is bound so the caller knows the port is ready.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", logger.Fields("error", err.Error()))
		}
	}()

	s.log.Info("http server started", logger.Fields("addr", s.httpServer.Addr))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// requestLogger logs every request except health checks.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	l := log.WithComponent("httpapi")
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			logger.FieldDuration, time.Since(start).Milliseconds(),
			"client", c.ClientIP(),
		)
		switch {
		case c.Writer.Status() >= 500:
			l.Error("request failed", fields)
		case c.Writer.Status() >= 400:
			l.Warn("request rejected", fields)
		default:
			l.Info("request", fields)
		}
	}
}

// recovery turns panics into a JSON 500 instead of a dropped connection.
func recovery(log *logger.Logger) gin.HandlerFunc {
	l := log.WithComponent("httpapi")
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		l.Error("panic in handler", logger.Fields(
			"path", c.Request.URL.Path,
			"panic", fmt.Sprint(recovered),
		))
		appErr := errors.Internal(fmt.Errorf("panic: %v", recovered))
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
	})
}
