package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"modelgate/internal/config"
	"modelgate/internal/dispatch"
	"modelgate/internal/httpcache"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg        config.Config
	dispatcher *dispatch.Dispatcher
	app        *echo.Echo
	address    string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, dispatcher *dispatch.Dispatcher) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = gatewayErrorHandler
	e.Validator = &requestValidator{validate: validator.New()}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		app:        e,
		address:    fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		// WriteTimeout stays unset: chat streams are open-ended and are
		// bounded by the dispatcher's own timeouts instead.
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/chat/stream", s.handleChatStream)
	s.app.GET("/v1/providers", s.handleListProviders, httpcache.Validator(s.cfg.Cache.ProvidersMaxAge()))
	s.app.GET("/v1/providers/:provider/models", s.handleListModels, httpcache.Validator(s.cfg.Cache.ModelsMaxAge()))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(target any) error {
	if err := v.validate.Struct(target); err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("request failed validation: %v", err),
			Kind:    "invalid-request",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Kind    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Kind    string `json:"kind"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, kind string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Kind = kind
	return c.JSON(status, payload)
}

func gatewayErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Kind)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, fmt.Sprintf("%v", echoErr.Message), "invalid-request")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "unknown")
}

func printStartupBanner(port int) {
	fmt.Println()
	fmt.Println("modelgate ready")
	fmt.Printf("Listening on http://127.0.0.1:%d\n", port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/providers")
	fmt.Println("  GET  /v1/providers/:provider/models")
	fmt.Println("  POST /v1/chat/stream")
	fmt.Println()
}
