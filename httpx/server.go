package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server runs an App behind the recover, request id and logger middleware.
type Server struct {
	app      *App
	address  string
	read     time.Duration
	write    time.Duration
	shutdown time.Duration
	log      log.Interface
}

type RouteRegistrar func(*App)

func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	app := newApp()
	app.e.HTTPErrorHandler = renderError
	app.Use(middleware.Recover(), RequestIDMiddleware(), LoggerMiddleware(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		app.Use(corsMiddleware(cfg.CORSOrigins))
	}

	return &Server{
		app:      app,
		address:  cfg.Address,
		read:     cfg.ReadTimeout,
		write:    cfg.WriteTimeout,
		shutdown: cfg.ShutdownTimeout,
		log:      cfg.Logger,
	}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.app)
	}
}

func (s *Server) Handler() http.Handler {
	return s.app
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs on ln until ctx is done, then drains in-flight requests for up
// to the shutdown timeout. It returns ctx.Err() after a clean stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.app,
		ReadTimeout:  s.read,
		WriteTimeout: s.write,
	}
	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http server shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// renderError writes every failure as {"error": message}.
func renderError(err error, c Context) {
	if c.Response().Committed {
		return
	}
	code, msg := StatusInternalError, err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, msg = he.Code, errorMessage(he)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
