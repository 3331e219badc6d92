package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/middlewares"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/mmdatafocus/hoa_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler serves the HTTP API on top of the workflow services.
type Handler struct {
	db         *gorm.DB
	members    *workflow.MemberRegistry
	ledger     *workflow.Ledger
	dues       *workflow.DuesRegistry
	reconciler *workflow.Reconciler
	scheduler  *workflow.ReconcileScheduler
	reports    *workflow.FinancialAggregator
	throttle   *middlewares.SearchThrottle
	logger     *logrus.Logger
	now        func() time.Time
}

type Services struct {
	DB         *gorm.DB
	Members    *workflow.MemberRegistry
	Ledger     *workflow.Ledger
	Dues       *workflow.DuesRegistry
	Reconciler *workflow.Reconciler
	Scheduler  *workflow.ReconcileScheduler
	Reports    *workflow.FinancialAggregator
}

func New(s Services) *Handler {
	return &Handler{
		db:         s.DB,
		members:    s.Members,
		ledger:     s.Ledger,
		dues:       s.Dues,
		reconciler: s.Reconciler,
		scheduler:  s.Scheduler,
		reports:    s.Reports,
		throttle:   middlewares.NewSearchThrottle(500*time.Millisecond, 5),
		logger:     config.GetLogger(),
		now:        time.Now,
	}
}

// Register mounts every route on r. Auth middlewares must already be installed.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/pubsub/reconcile", h.pubsubReconcile)

	api := r.Group("/api", middlewares.RequireSession())
	official := middlewares.RequireOfficial()

	api.POST("/members", official, h.registerMember)
	api.GET("/members/search", h.throttle.Middleware(), h.searchMembers)
	api.GET("/members/:accountNo", h.getMember)
	api.POST("/members/:accountNo/confirm", official, h.confirmMember)
	api.PUT("/members/:accountNo/status", official, h.overrideStatus)
	api.DELETE("/members/:accountNo", official, h.softDeleteMember)

	api.POST("/contributions", h.submitContribution)
	api.GET("/contributions", h.listContributions)
	api.GET("/contributions/:id", h.getContribution)
	api.PUT("/contributions/:id", official, h.updateContribution)
	api.DELETE("/contributions/:id/proof", official, h.deleteProof)

	api.GET("/dues", h.getDues)
	api.PUT("/dues", official, h.setDues)

	api.POST("/expenses", official, h.createExpense)

	api.POST("/reconcile", official, h.reconcile)

	api.GET("/reports/monthly", h.monthlyReport)
	api.GET("/reports/monthly.xlsx", h.monthlyReportXLSX)
	api.GET("/reports/yearly", h.yearlyReport)
}

func actorOf(c *gin.Context) workflow.Actor {
	return workflow.ActorFromContext(c.Request.Context())
}

// writeError maps a workflow error to its HTTP status. Messages name the violated precondition.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validationErr  *models.ValidationError
		duplicateErr   *models.DuplicatePeriodError
		notEligibleErr *models.MemberNotEligibleError
		notFoundErr    *models.NotFoundError
		storageErr     *models.StorageError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": validationErr.Field})
	case errors.As(err, &duplicateErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "account_no": duplicateErr.AccountNo, "period": duplicateErr.Period})
	case errors.Is(err, models.ErrSubmissionInProgress), errors.Is(err, models.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &notEligibleErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": notEligibleErr.Status})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &storageErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(h.logger, "handler.go", c.FullPath(), "unhandled error", cid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "correlation_id": cid})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
