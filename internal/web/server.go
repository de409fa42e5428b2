package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjeanneret/RaspiCam/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr      string
	imagesDir string
	handlers  *Handlers
}

// NewServer creates a server for addr. Stored images under imagesDir are
// served at /static/.
func NewServer(addr, imagesDir string, broadcaster *StatusBroadcaster, ctrl Controller, captures CaptureLister) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:      addr,
		imagesDir: imagesDir,
		handlers:  NewHandlers(broadcaster, ctrl, captures, subFS),
	}, nil
}

// SetEmitter exposes the emitter's counters under "mqtt" in GET /status.
func (s *Server) SetEmitter(e EmitterStats) {
	s.handlers.Emitter = e
}

// Router returns a gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger())
	r.Use(gin.CustomRecovery(handlePanics()))

	r.GET("/", s.handlers.ServeIndex)
	r.GET("/status", s.handlers.HandleStatus)
	r.GET("/status/stream", s.handlers.HandleStatusStream)
	r.GET("/captures", s.handlers.HandleCaptures)
	r.POST("/trigger", s.handlers.HandleTrigger)
	if s.imagesDir != "" {
		r.StaticFS("/static", gin.Dir(s.imagesDir, false))
	}
	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		debug.Info("Web server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
