// Package http implements the engine's status/attach surface: a small
// gin JSON API plus a gorilla/websocket stream of scrollback, so a
// remote dashboard can watch a run without shelling into the host.
// Grounded on the gin+gorilla/websocket pairing seen across the
// retrieval pack's agent manifests (e.g. cklxx-elephant.ai,
// nugget-thane-ai-agent); the route/handler shape follows gin's own
// idiomatic router-group convention since the teacher repo has no HTTP
// surface of its own to adapt.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/benderhq/engine/internal/app"
	apperrors "github.com/benderhq/engine/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server exposes engine's status over HTTP and a scrollback stream
// over a websocket.
type Server struct {
	engine *app.Engine
	logger *zap.Logger
	router *gin.Engine
	addr   string

	upgrader websocket.Upgrader
}

// New builds a Server bound to addr (host:port); it does not start
// listening until Run is called.
func New(engine *app.Engine, logger *zap.Logger, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		logger: logger,
		router: r,
		addr:   addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboard is operator-local tooling, not a public
			// browser surface; origin checks would only get in the
			// way of a CLI-launched client hitting 127.0.0.1.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/attach/stream", s.handleAttachStream)
	r.POST("/control/stop", s.handleStop)
	return s
}

// Run blocks serving HTTP until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	active, statusLine, _ := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"active": active,
		"status": statusLine,
		"llm":    s.engine.Router.Counters(),
	})
}

// handleStop requests a graceful stop of the in-progress review loop,
// if one is running; when no session is active it responds 404 with
// code NOT_FOUND.
func (s *Server) handleStop(c *gin.Context) {
	active, _, _ := s.engine.Status()
	if !active {
		writeAppError(c, apperrors.NewNotFoundError("no active session to stop"))
		return
	}
	s.engine.ReviewLoop.RequestStop()
	c.JSON(http.StatusOK, gin.H{"stopping": true})
}

// writeAppError renders an apperrors.AppError (or a wrapped internal
// error) as JSON with the matching HTTP status, per errors.HTTPStatus.
func writeAppError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.NewInternalErrorWithCause("internal error", err)
	}
	c.JSON(apperrors.HTTPStatus(appErr.Code), gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}
