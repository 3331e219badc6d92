package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/models"
)

func (h *Handler) registerMember(c *gin.Context) {
	var input models.NewMember
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid request")
		return
	}
	member, err := h.members.Register(c.Request.Context(), actorOf(c), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handler) searchMembers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	members, err := h.members.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) getMember(c *gin.Context) {
	member, err := h.members.Get(c.Request.Context(), c.Param("accountNo"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) confirmMember(c *gin.Context) {
	member, err := h.members.Confirm(c.Request.Context(), actorOf(c), c.Param("accountNo"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type statusRequest struct {
	Status models.MemberStatus `json:"status"`
}

func (h *Handler) overrideStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid status")
		return
	}
	member, err := h.members.OverrideStatus(c.Request.Context(), actorOf(c), c.Param("accountNo"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) softDeleteMember(c *gin.Context) {
	member, err := h.members.SoftDelete(c.Request.Context(), actorOf(c), c.Param("accountNo"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}
