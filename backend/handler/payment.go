package handler

import (
	"context"
	"net/http"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// PaymentHandler serves the payable obligations and the bank rails.
type PaymentHandler struct {
	app *service.AppContext
}

func NewPaymentHandler(app *service.AppContext) *PaymentHandler {
	return &PaymentHandler{app: app}
}

type (
	pendingFunc func(ctx context.Context, kind model.Kind, idx int) ([]map[string]any, error)
	settleFunc  func(ctx context.Context, kind model.Kind, idx int, items []map[string]any) (int, error)
)

func listPending(get pendingFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, idx, ok := contractParams(c)
		if !ok {
			return
		}
		items, err := get(c.Request.Context(), kind, idx)
		respond(c, http.StatusOK, items, err)
	}
}

func settle(pay settleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, idx, ok := contractParams(c)
		if !ok {
			return
		}
		items, ok := bindList(c)
		if !ok {
			return
		}
		n, err := pay(c.Request.Context(), kind, idx, items)
		respondCount(c, n, err)
	}
}

func (h *PaymentHandler) GetAdvances() gin.HandlerFunc      { return listPending(h.app.GetAdvances) }
func (h *PaymentHandler) GetResiduals() gin.HandlerFunc     { return listPending(h.app.GetResiduals) }
func (h *PaymentHandler) GetDistributions() gin.HandlerFunc { return listPending(h.app.GetDistributions) }

func (h *PaymentHandler) SettleAdvances() gin.HandlerFunc      { return settle(h.app.SettleAdvances) }
func (h *PaymentHandler) SettleResiduals() gin.HandlerFunc     { return settle(h.app.SettleResiduals) }
func (h *PaymentHandler) SettleDistributions() gin.HandlerFunc { return settle(h.app.SettleDistributions) }

// GetDeposits queries the deposit rail between start_date and end_date.
func (h *PaymentHandler) GetDeposits(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	start, err := model.ParseTime(c.Query("start_date"))
	if err != nil {
		badRequest(c, "start_date: "+err.Error())
		return
	}
	end, err := model.ParseTime(c.Query("end_date"))
	if err != nil {
		badRequest(c, "end_date: "+err.Error())
		return
	}
	deposits, err := h.app.GetDeposits(c.Request.Context(), kind, idx, start, end)
	respond(c, http.StatusOK, deposits, err)
}

func (h *PaymentHandler) PostDeposits(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	items, ok := bindList(c)
	if !ok {
		return
	}
	n, err := h.app.PostDeposits(c.Request.Context(), kind, idx, items)
	respondCount(c, n, err)
}

func (h *PaymentHandler) Accounts(c *gin.Context) {
	accounts, err := h.app.Accounts(c.Request.Context(), c.Param("bank"))
	respond(c, http.StatusOK, accounts, err)
}

func (h *PaymentHandler) Recipients(c *gin.Context) {
	recipients, err := h.app.Recipients(c.Request.Context(), c.Param("bank"))
	respond(c, http.StatusOK, recipients, err)
}

type ReconcileRequest struct {
	Obligation string `json:"obligation" binding:"required"`
	Index      *int   `json:"index" binding:"required"`
}

// Reconcile releases an obligation held back after a reconciliation hazard.
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	kind, idx, ok := contractParams(c)
	if !ok {
		return
	}
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "obligation and index are required")
		return
	}
	err := h.app.ReconcileObligation(c.Request.Context(), kind, idx, req.Obligation, *req.Index)
	respond(c, http.StatusOK, gin.H{"reconciled": err == nil}, err)
}
