package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/simbridge/simbridge/internal/provider/domain"
)

func (s *Server) ListProviders(c *gin.Context) {
	providers, err := s.providersvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

func (s *Server) CreateProvider(c *gin.Context) {
	var req providerdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	provider, err := s.providersvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (s *Server) SetProviderActive(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.providersvc.SetActive(c.Request.Context(), c.Param("slug"), *req.IsActive); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) UpdateProviderPriority(c *gin.Context) {
	var req struct {
		Priority *int `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Priority == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.providersvc.UpdatePriority(c.Request.Context(), c.Param("slug"), *req.Priority); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ResetProviderCircuit force-closes a provider's breaker after an operator
// has confirmed the vendor recovered out of band.
func (s *Server) ResetProviderCircuit(c *gin.Context) {
	if err := s.providersvc.ResetCircuit(c.Request.Context(), c.Param("slug")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetProviderHealth(c *gin.Context) {
	if s.checker == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	logs, err := s.checker.RecentLogs(c.Request.Context(), c.Param("slug"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"health_logs": logs})
}
