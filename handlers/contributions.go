package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/models"
)

func (h *Handler) submitContribution(c *gin.Context) {
	var input models.NewContribution
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	result, err := h.ledger.Submit(c.Request.Context(), actorOf(c), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listContributions(c *gin.Context) {
	ctx := c.Request.Context()
	accountNo := strings.TrimSpace(c.Query("account_no"))
	period := strings.TrimSpace(c.Query("period"))

	var (
		records []*models.ContributionRecord
		err     error
	)
	switch {
	case accountNo != "":
		records, err = h.ledger.ListByMember(ctx, accountNo)
	case period != "":
		records, err = h.ledger.ListByPeriod(ctx, period)
	default:
		records, err = h.ledger.ListByPeriod(ctx, models.PeriodLabel(h.now()))
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func recordIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid contribution id")
		return 0, false
	}
	return id, true
}

func (h *Handler) getContribution(c *gin.Context) {
	id, ok := recordIdParam(c)
	if !ok {
		return
	}
	record, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) updateContribution(c *gin.Context) {
	id, ok := recordIdParam(c)
	if !ok {
		return
	}
	var input models.ContributionUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	record, err := h.ledger.Update(c.Request.Context(), actorOf(c), id, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) deleteProof(c *gin.Context) {
	id, ok := recordIdParam(c)
	if !ok {
		return
	}
	record, err := h.ledger.DeleteProof(c.Request.Context(), actorOf(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
