package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphloom/loom/internal/queue"
	"github.com/graphloom/loom/pkg/logger"
)

// createDocuments enqueues document references for ingestion. The worker
// picks the message up, loads the referenced documents and runs the
// construction pipeline; the request returns as soon as the message is
// on the queue.
func (s *Server) createDocuments(c echo.Context) error {
	type createDocumentsRequest struct {
		Source string   `json:"source" validate:"required,oneof=fs s3"`
		Refs   []string `json:"refs" validate:"required,min=1,dive,required"`
	}

	type createDocumentsResponse struct {
		Message   string `json:"message"`
		MessageID string `json:"message_id,omitempty"`
	}

	data := new(createDocumentsRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentsResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentsResponse{
			Message: "Invalid request body",
		})
	}

	id, err := queue.PublishIngest(c.Request().Context(), s.ingest, queue.IngestMessage{
		Source: data.Source,
		Refs:   data.Refs,
	})
	if err != nil {
		logger.Error("[Server] Failed to enqueue ingest", "err", err)
		return c.JSON(http.StatusBadGateway, createDocumentsResponse{
			Message: "Ingestion queue unavailable",
		})
	}

	return c.JSON(http.StatusAccepted, createDocumentsResponse{
		Message:   "Ingestion scheduled",
		MessageID: id,
	})
}
