package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/gin-gonic/gin"
)

// CallbackHandler receives deposit notifications pushed by the bank rail
// and posts them against a settlement.
type CallbackHandler struct {
	app    *service.AppContext
	secret string
}

func NewCallbackHandler(app *service.AppContext, secret string) *CallbackHandler {
	return &CallbackHandler{app: app, secret: secret}
}

// CallbackRequest carries the notification as a JSON string so the checksum
// covers the exact bytes that were sent.
type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

type CallbackContent struct {
	ContractType  string `json:"contract_type"`
	ContractIdx   int    `json:"contract_idx"`
	SettleIdx     int    `json:"settle_idx"`
	DepositID     string `json:"deposit_id"`
	DepositAmt    string `json:"deposit_amt"`
	DepositDt     string `json:"deposit_dt"`
	DisputeReason string `json:"dispute_reason"`
}

// Checksum is hex(HMAC-SHA256(secret, content)).
func Checksum(secret, content string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *CallbackHandler) verify(req CallbackRequest) bool {
	if h.secret == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(req.Checksum))
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Checksum(h.secret, req.Content))
	return hmac.Equal(expected, provided)
}

// HandleDeposit records one pushed deposit. Amounts arrive as decimal
// strings.
func (h *CallbackHandler) HandleDeposit(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	if !h.verify(req) {
		logger.Warn(c.Request.Context(), "deposit callback rejected", "reason", "checksum mismatch")
		c.JSON(http.StatusUnauthorized, service.Envelope{Status: service.StatusError, Message: "Invalid checksum"})
		return
	}

	var content CallbackContent
	if err := decodeJSON(strings.NewReader(req.Content), &content); err != nil {
		badRequest(c, "Invalid content format")
		return
	}
	kind, err := model.ParseKind(content.ContractType)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	item := map[string]any{
		"settle_idx":  content.SettleIdx,
		"deposit_id":  content.DepositID,
		"deposit_amt": content.DepositAmt,
		"deposit_dt":  content.DepositDt,
	}
	if content.DisputeReason != "" {
		item["dispute_reason"] = content.DisputeReason
	}

	n, err := h.app.PostDeposits(c.Request.Context(), kind, content.ContractIdx, []map[string]any{item})
	respondCount(c, n, err)
}
