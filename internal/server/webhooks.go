package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook ingests one signed payment-confirmation delivery.
// Duplicates are acknowledged with the existing order so the gateway stops
// redelivering.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhooksvc.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Parked {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}
