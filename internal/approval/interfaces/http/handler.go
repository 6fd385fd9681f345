// Package http exposes the dual-approval workflow endpoints.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consigfacil/creditengine/internal/approval/application"
	"github.com/consigfacil/creditengine/internal/approval/domain"
	"github.com/consigfacil/creditengine/pkg/response"
)

type Handler struct {
	service *application.ApprovalService
}

func NewHandler(service *application.ApprovalService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/approvals")
	{
		g.POST("", h.Open)
		g.GET("", h.ListPending)
		g.GET("/:id", h.Get)
		g.POST("/:id/submit", h.Submit)
		g.POST("/:id/expire", h.Expire)
	}
}

type OpenReq struct {
	RuleType      string `json:"rule_type" binding:"required"`
	EntityType    string `json:"entity_type" binding:"required"`
	EntityID      string `json:"entity_id" binding:"required"`
	RequestedBy   string `json:"requested_by" binding:"required"`
	Justification string `json:"justification"`
}

func (h *Handler) Open(c *gin.Context) {
	var req OpenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.service.Open(c.Request.Context(), application.OpenRequestCommand{
		RuleType:      req.RuleType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		RequestedBy:   req.RequestedBy,
		Justification: req.Justification,
	})
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	response.Success(c, a)
}

type SubmitReq struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Action     string `json:"action" binding:"required"`
	Notes      string `json:"notes"`
}

func (h *Handler) Submit(c *gin.Context) {
	var req SubmitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.service.Submit(c.Request.Context(), application.SubmitCommand{
		RequestID:  c.Param("id"),
		ApproverID: req.ApproverID,
		Action:     req.Action,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, a)
}

func (h *Handler) Expire(c *gin.Context) {
	a, err := h.service.Expire(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, a)
}

func (h *Handler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, a)
}

func (h *Handler) ListPending(c *gin.Context) {
	rule := c.Query("rule")
	if !domain.ValidRuleType(rule) {
		response.ErrorWithStatus(c, http.StatusBadRequest, "unknown rule type")
		return
	}

	list, err := h.service.ListPending(c.Request.Context(), domain.RuleType(rule))
	if err != nil {
		response.Error(c, err.Error())
		return
	}
	response.Success(c, list)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrApprovalNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSameApprover):
		response.ErrorWithStatus(c, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidApprovalState),
		errors.Is(err, domain.ErrStaleApprovalState):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error())
	default:
		response.Error(c, err.Error())
	}
}
