// Package http exposes read access to risk scores and client aggregates.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consigfacil/creditengine/internal/scoring/application"
	"github.com/consigfacil/creditengine/internal/scoring/domain"
	"github.com/consigfacil/creditengine/pkg/response"
)

type Handler struct {
	service *application.ScoringService
}

func NewHandler(service *application.ScoringService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/scoring")
	{
		g.GET("/proposals/:id", h.GetScore)
		g.GET("/clients/:id/learning", h.GetLearning)
	}
}

func (h *Handler) GetScore(c *gin.Context) {
	score, err := h.service.GetScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrScoreNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, err.Error())
			return
		}
		response.Error(c, err.Error())
		return
	}
	response.Success(c, score)
}

func (h *Handler) GetLearning(c *gin.Context) {
	learning, err := h.service.ClientLearning(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrLearningNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, err.Error())
			return
		}
		response.Error(c, err.Error())
		return
	}
	response.Success(c, learning)
}
