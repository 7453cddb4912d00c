package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/pkg/logger"
)

// health reports liveness. With a Ping hook configured it also checks the
// backing services and answers 503 when they are unreachable.
func (s *Server) health(c echo.Context) error {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			logger.Error("[Server] Health check failed", "err", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
