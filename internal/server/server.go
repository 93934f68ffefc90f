// Package server is the thin HTTP surface over the transcription core:
// multipart extraction, flag parsing, and status mapping live here and
// nowhere deeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxserve/voxserve/internal/transcribe"
	"github.com/voxserve/voxserve/internal/version"
)

// Transcriber is the orchestrator capability the handlers call into.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

type Config struct {
	Host        string
	Port        int
	MaxUploadMB int
	Version     version.Info
	Logger      *zap.Logger
}

type Server struct {
	echo        *echo.Echo
	transcriber Transcriber
	ready       atomic.Bool
	version     version.Info
	addr        string
	log         *zap.Logger
}

func New(transcriber Transcriber, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 100
	}

	s := &Server{
		transcriber: transcriber,
		version:     cfg.Version,
		addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		log:         cfg.Logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	e.Use(s.requestLogger)

	e.POST("/transcribe", s.handleTranscribe)
	e.GET("/health", s.handleHealth)

	s.echo = e
	return s
}

// SetReady opens the service for transcription traffic; called once the
// model handle finished loading.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Handler exposes the route tree for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then drains gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", zap.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("http server shutting down")
		return s.echo.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, requestID)

		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(started)))
		return nil
	}
}
