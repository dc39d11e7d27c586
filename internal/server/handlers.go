package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleModels reports the single configured model.
func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{{
			"id":       s.backend.DisplayModel(),
			"object":   "model",
			"created":  time.Now().UnixMilli(),
			"owned_by": "anthropic",
		}},
	})
}

// handleHealth exposes liveness plus the request counters.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"metrics": s.metrics.Snapshot(),
	})
}

// handleIndex is a small landing page for people poking the port.
func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "vertex-relay",
		"version": s.version,
		"model":   s.backend.DisplayModel(),
		"endpoints": []string{
			"POST /v1/chat/completions",
			"GET /v1/models",
			"GET /health",
		},
	})
}
