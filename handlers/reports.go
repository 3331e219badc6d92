package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/mmdatafocus/hoa_backend/workflow"
)

// reportRange reads from/to (YYYY-MM-DD). Defaults cover the current calendar year to date.
func (h *Handler) reportRange(c *gin.Context) (time.Time, time.Time, bool) {
	loc := models.PeriodLocation()
	now := h.now().In(loc)
	from, err := utils.ParseDateParam(c.Query("from"), loc, time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc))
	if err != nil {
		badRequest(c, "invalid from date, expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := utils.ParseDateParam(c.Query("to"), loc, now)
	if err != nil {
		badRequest(c, "invalid to date, expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handler) monthlyReport(c *gin.Context) {
	from, to, ok := h.reportRange(c)
	if !ok {
		return
	}
	report, err := h.reports.MonthlyReport(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) monthlyReportXLSX(c *gin.Context) {
	from, to, ok := h.reportRange(c)
	if !ok {
		return
	}
	report, err := h.reports.MonthlyReport(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	filename := fmt.Sprintf("dues-%s-to-%s.xlsx", from.Format("2006-01"), to.Format("2006-01"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := workflow.WriteMonthlyReportXLSX(c.Writer, report); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) yearlyReport(c *gin.Context) {
	year := h.now().In(models.PeriodLocation()).Year()
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid year")
			return
		}
		year = n
	}
	summary, err := h.reports.YearTotal(c.Request.Context(), year)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
