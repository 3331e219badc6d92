package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/models"
)

func (h *Handler) createExpense(c *gin.Context) {
	var input models.NewExpense
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request")
		return
	}
	expense, err := models.CreateExpense(c.Request.Context(), h.db, &input, actorOf(c).Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, expense)
}
