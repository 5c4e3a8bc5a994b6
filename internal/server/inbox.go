package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/simbridge/simbridge/internal/webhook/domain"
)

func (s *Server) ListInboxEntries(c *gin.Context) {
	status := webhookdomain.InboxStatus(c.DefaultQuery("status", string(webhookdomain.InboxFailed)))
	switch status {
	case webhookdomain.InboxPending, webhookdomain.InboxProcessing,
		webhookdomain.InboxCompleted, webhookdomain.InboxFailed:
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.webhooksvc.ListEntries(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// RedriveInboxEntry re-queues one permanently failed entry for the drain.
func (s *Server) RedriveInboxEntry(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.webhooksvc.Redrive(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
