package server

import "github.com/labstack/echo/v4"

func (s *Server) registerRoutes(guards ...echo.MiddlewareFunc) {
	// Health check route, open for liveness probes
	s.echo.GET("/api/health", s.health)

	api := s.echo.Group("/api", guards...)

	// Ingestion routes
	api.POST("/documents", s.createDocuments)

	// Query routes
	api.POST("/query", s.runQuery)
}
