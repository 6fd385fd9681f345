// Package http exposes the proposal lifecycle endpoints.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/consigfacil/creditengine/internal/proposal/application"
	"github.com/consigfacil/creditengine/internal/proposal/domain"
	"github.com/consigfacil/creditengine/pkg/response"
)

type Handler struct {
	service *application.ProposalService
}

func NewHandler(service *application.ProposalService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/proposals")
	{
		g.POST("", h.Create)
		g.GET("/:id", h.Get)
		g.POST("/:id/evaluate", h.Evaluate)
		g.POST("/:id/decision", h.Decide)
		g.POST("/:id/ccb/request", h.RequestCCB)
		g.POST("/:id/ccb/confirm", h.ConfirmCCBIssued)
		g.POST("/:id/signature/request", h.RequestSignature)
		g.POST("/:id/signature/confirm", h.ConfirmSignature)
		g.POST("/:id/averbation/request", h.RequestAverbation)
		g.POST("/:id/averbation/confirm", h.ConfirmAverbation)
		g.POST("/:id/bank-validation", h.RecordBankValidation)
		g.POST("/:id/bank-account", h.ChangeBankAccount)
		g.POST("/:id/disburse", h.Disburse)
		g.POST("/:id/cancel", h.Cancel)
		g.POST("/:id/expire", h.Expire)
	}
}

type CreateProposalReq struct {
	ClientID          string `json:"client_id" binding:"required"`
	ConvenioID        string `json:"convenio_id"`
	ProductType       string `json:"product_type" binding:"required"`
	PixKey            string `json:"pix_key"`
	Margin            string `json:"margin"`
	RequestedAmount   string `json:"requested_amount" binding:"required"`
	RequestedPct      string `json:"requested_pct"`
	Installments      int    `json:"installments"`
	DaysWorked        int    `json:"days_worked"`
	ClaimsAffiliation bool   `json:"claims_affiliation"`
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateProposalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.RequestedAmount)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid requested_amount")
		return
	}
	margin := parseDecimal(req.Margin)
	pct := parseDecimal(req.RequestedPct)

	p, err := h.service.Create(c.Request.Context(), application.CreateProposalCommand{
		ClientID:          req.ClientID,
		ConvenioID:        req.ConvenioID,
		ProductType:       req.ProductType,
		PixKey:            req.PixKey,
		Margin:            margin,
		RequestedAmount:   amount,
		RequestedPct:      pct,
		Installments:      req.Installments,
		DaysWorked:        req.DaysWorked,
		ClaimsAffiliation: req.ClaimsAffiliation,
	})
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	response.Success(c, p)
}

func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *Handler) Evaluate(c *gin.Context) {
	result, err := h.service.EvaluateProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type ManualDecisionReq struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Approve    bool   `json:"approve"`
	Notes      string `json:"notes"`
}

func (h *Handler) Decide(c *gin.Context) {
	var req ManualDecisionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.Decide(c.Request.Context(), application.ManualDecisionCommand{
		ProposalID: c.Param("id"),
		ReviewerID: req.ReviewerID,
		Approve:    req.Approve,
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

type ActorReq struct {
	Actor string `json:"actor" binding:"required"`
}

func (h *Handler) RequestCCB(c *gin.Context) {
	h.externalStep(c, h.service.RequestCCB)
}

func (h *Handler) ConfirmCCBIssued(c *gin.Context) {
	h.externalStep(c, h.service.ConfirmCCBIssued)
}

func (h *Handler) RequestSignature(c *gin.Context) {
	h.externalStep(c, h.service.RequestSignature)
}

func (h *Handler) ConfirmSignature(c *gin.Context) {
	h.externalStep(c, h.service.ConfirmSignature)
}

func (h *Handler) RequestAverbation(c *gin.Context) {
	h.externalStep(c, h.service.RequestAverbation)
}

func (h *Handler) ConfirmAverbation(c *gin.Context) {
	h.externalStep(c, h.service.ConfirmAverbation)
}

type BankValidationReq struct {
	IsOwner       bool `json:"is_owner"`
	IsBlacklisted bool `json:"is_blacklisted"`
}

func (h *Handler) RecordBankValidation(c *gin.Context) {
	var req BankValidationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.RecordBankValidation(c.Request.Context(), application.BankValidationCommand{
		ProposalID:    c.Param("id"),
		IsOwner:       req.IsOwner,
		IsBlacklisted: req.IsBlacklisted,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

type ChangeBankAccountReq struct {
	PixKey string `json:"pix_key" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

func (h *Handler) ChangeBankAccount(c *gin.Context) {
	var req ChangeBankAccountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.ChangeBankAccount(c.Request.Context(), c.Param("id"), req.PixKey, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

type DisburseReq struct {
	Actor       string     `json:"actor" binding:"required"`
	DisbursedAt *time.Time `json:"disbursed_at"`
}

func (h *Handler) Disburse(c *gin.Context) {
	var req DisburseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	cmd := application.DisburseCommand{ProposalID: c.Param("id"), Actor: req.Actor}
	if req.DisbursedAt != nil {
		cmd.DisbursedAt = *req.DisbursedAt
	}

	p, err := h.service.Disburse(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

type CancelReq struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	var req CancelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.Actor, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *Handler) Expire(c *gin.Context) {
	p, err := h.service.Expire(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *Handler) externalStep(c *gin.Context, step func(ctx context.Context, proposalID, actor string) (*domain.Proposal, error)) {
	var req ActorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := step(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, p)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// writeError maps domain and application errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrProposalNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, application.ErrNotDecidable),
		errors.Is(err, application.ErrNotApproved):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, application.ErrEvaluationInFlight):
		response.ErrorWithStatus(c, http.StatusConflict, err.Error())
	case errors.Is(err, application.ErrApprovalRequired):
		response.ErrorWithStatus(c, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrApprovedOverRequested):
		response.ErrorWithStatus(c, http.StatusUnprocessableEntity, err.Error())
	default:
		response.Error(c, err.Error())
	}
}
