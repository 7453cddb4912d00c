package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/pkg/logger"
	"github.com/graphloom/loom/pkg/query"
)

// runQuery answers one question over the knowledge graph. TopK and Hops
// are pointers so an explicit "hops": 0 (disable graph expansion) can be
// told apart from an omitted field.
func (s *Server) runQuery(c echo.Context) error {
	type queryRequest struct {
		Query string `json:"query" validate:"required"`
		TopK  *int   `json:"top_k" validate:"omitempty,min=1,max=100"`
		Hops  *int   `json:"hops" validate:"omitempty,min=0,max=5"`
	}

	data := new(queryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	opts := []query.AskOption{}
	if data.TopK != nil {
		opts = append(opts, query.WithTopK(*data.TopK))
	}
	if data.Hops != nil {
		opts = append(opts, query.WithHops(*data.Hops))
	}

	answer, err := s.queries.Ask(c.Request().Context(), data.Query, opts...)
	if err != nil {
		logger.Error("[Server] Query failed", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"message": "Query backend unavailable"})
	}

	return c.JSON(http.StatusOK, answer)
}
