package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/config"
	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

const apiPrefix = "/api/v1"

var server *AdminServer

// AdminServer serves the local state API.
type AdminServer struct {
	root *echo.Echo
	api  *echo.Group
	addr string
}

// Init builds the global server. Routes are added with the Api* helpers.
func Init(cfg *config.AppConfig) {
	server = NewAdminServer(cfg)
}

func NewAdminServer(cfg *config.AppConfig) *AdminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("webserver: request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	if cfg.System.Debug {
		e.Use(middleware.CORS())
	}
	return &AdminServer{
		root: e,
		api:  e.Group(apiPrefix),
		addr: fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
	}
}

// Handler exposes the global server for tests.
func Handler() http.Handler {
	return server.root
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PUT(path, h, m...)
}

func ApiPATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PATCH(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.DELETE(path, h, m...)
}

// Listen serves until ctx is done, then shuts down gracefully.
func Listen(ctx context.Context) error {
	s := server
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("webserver: listening", zap.String("addr", s.addr))
		errCh <- s.root.Start(s.addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "webserver: listen")
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.root.Shutdown(sctx); err != nil {
		zap.L().Warn("webserver: shutdown", zap.Error(err))
	}
	return nil
}

// errorHandler renders framework errors (404, 405, bind failures) in the
// same envelope as handler responses.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	code := domain.CodeUnknownError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		code = fmt.Sprintf("HTTP_%d", he.Code)
		msg = fmt.Sprint(he.Message)
	}
	_ = c.JSON(status, domain.Response[struct{}]{
		Error: &domain.ErrorBody{Code: code, Message: msg},
	})
}
