// Package http exposes the pricing simulators. These endpoints are pure reads
// used by the front office to quote before a proposal exists.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/consigfacil/creditengine/internal/calculation/application"
	"github.com/consigfacil/creditengine/internal/calculation/domain"
	"github.com/consigfacil/creditengine/pkg/response"
)

type Handler struct {
	service *application.CalculationService
}

func NewHandler(service *application.CalculationService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/calculations")
	{
		g.POST("/advance", h.SimulateAdvance)
		g.POST("/loan", h.SimulateLoan)
		g.POST("/loan/schedule", h.SimulateSchedule)
	}
	r.GET("/convenios/:id", h.GetConvenio)
}

type AdvanceReq struct {
	ConvenioID   string `json:"convenio_id"`
	Margin       string `json:"margin" binding:"required"`
	RequestedPct string `json:"requested_pct" binding:"required"`
	DaysWorked   int    `json:"days_worked" binding:"required"`
}

func (h *Handler) SimulateAdvance(c *gin.Context) {
	var req AdvanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	margin, err := decimal.NewFromString(req.Margin)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid margin")
		return
	}
	pct, err := decimal.NewFromString(req.RequestedPct)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid requested_pct")
		return
	}

	result, err := h.service.CalculateAdvance(c.Request.Context(), application.AdvanceCommand{
		ConvenioID:   req.ConvenioID,
		Margin:       margin,
		RequestedPct: pct,
		DaysWorked:   req.DaysWorked,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type LoanReq struct {
	ConvenioID string `json:"convenio_id"`
	Principal  string `json:"principal" binding:"required"`
	Term       int    `json:"term" binding:"required"`
	Rate       string `json:"rate"`
}

func (h *Handler) SimulateLoan(c *gin.Context) {
	cmd, ok := h.bindLoan(c)
	if !ok {
		return
	}
	result, err := h.service.CalculateLoan(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type ScheduleReq struct {
	LoanReq
	DisbursedAt *time.Time `json:"disbursed_at"`
}

func (h *Handler) SimulateSchedule(c *gin.Context) {
	var req ScheduleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	principal, err := decimal.NewFromString(req.Principal)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid principal")
		return
	}

	disbursedAt := time.Now()
	if req.DisbursedAt != nil {
		disbursedAt = *req.DisbursedAt
	}

	rows, err := h.service.BuildSchedule(c.Request.Context(), application.LoanCommand{
		ConvenioID:   req.ConvenioID,
		Principal:    principal,
		Term:         req.Term,
		RateOverride: parseDecimal(req.Rate),
	}, disbursedAt)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rows)
}

func (h *Handler) GetConvenio(c *gin.Context) {
	cfg, err := h.service.Convenio(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, cfg)
}

func (h *Handler) bindLoan(c *gin.Context) (application.LoanCommand, bool) {
	var req LoanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return application.LoanCommand{}, false
	}

	principal, err := decimal.NewFromString(req.Principal)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid principal")
		return application.LoanCommand{}, false
	}

	return application.LoanCommand{
		ConvenioID:   req.ConvenioID,
		Principal:    principal,
		Term:         req.Term,
		RateOverride: parseDecimal(req.Rate),
	}, true
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

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrConvenioNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTerm),
		errors.Is(err, domain.ErrInvalidMargin):
		response.ErrorWithStatus(c, http.StatusUnprocessableEntity, err.Error())
	default:
		response.Error(c, err.Error())
	}
}
