package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (h *Handler) getDues(c *gin.Context) {
	setting, err := h.dues.Get(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

type duesRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) setDues(c *gin.Context) {
	var req duesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid amount")
		return
	}
	setting, err := h.dues.Set(c.Request.Context(), req.Amount, actorOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}
