package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ReconcileResult summarises one pass. Updated is the number of status writes issued.
type ReconcileResult struct {
	Period    string   `json:"period"`
	Evaluated int      `json:"evaluated"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type statusWriter func(ctx context.Context, member *models.Member, to models.MemberStatus, at time.Time) (bool, error)

// Reconciler derives every live member's status from the ledger slice of the current period.
type Reconciler struct {
	db          *gorm.DB
	grace       models.GracePolicy
	concurrency int
	logger      *logrus.Logger
	writeStatus statusWriter
}

func NewReconciler(db *gorm.DB, grace models.GracePolicy, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	r := &Reconciler{
		db:          db,
		grace:       grace,
		concurrency: concurrency,
		logger:      config.GetLogger(),
	}
	r.writeStatus = r.compareAndSetStatus
	return r
}

// NewReconcilerFromEnv uses GRACE_WINDOW_DAYS and RECONCILE_CONCURRENCY.
func NewReconcilerFromEnv(db *gorm.DB) *Reconciler {
	return NewReconciler(db, models.GracePolicy{Days: config.GraceWindowDays()}, config.ReconcileConcurrency())
}

func (r *Reconciler) compareAndSetStatus(ctx context.Context, member *models.Member, to models.MemberStatus, at time.Time) (bool, error) {
	return models.CompareAndSetStatus(ctx, r.db, member.ID, member.Status, to, at.UTC(), SystemActor.Username)
}

// Reconcile recomputes statuses for the period containing now and writes only the ones that changed.
// A failure on one member is logged and counted; it never stops the pass. The returned error is
// non-nil only when the inputs of the pass could not be read at all.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Reconcile")
	defer span.End()

	period := models.PeriodLabel(now)
	span.SetAttributes(attribute.String("period", period))

	members, err := models.ListLiveMembers(ctx, r.db)
	if err != nil {
		config.LogError(r.logger, "statusReconciliation.go", "Reconcile", "ListLiveMembers", period, err)
		return nil, err
	}
	paid, err := models.PaidAccountNos(ctx, r.db, period)
	if err != nil {
		config.LogError(r.logger, "statusReconciliation.go", "Reconcile", "PaidAccountNos", period, err)
		return nil, err
	}

	var updated, unchanged, skipped, failed atomic.Int64
	var mu sync.Mutex
	var failures []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, member := range members {
		g.Go(func() error {
			outcome, err := r.reconcileMember(gctx, member, paid[member.AccountNo], now)
			switch {
			case err != nil:
				failed.Add(1)
				recErr := &models.ReconciliationError{AccountNo: member.AccountNo, Err: err}
				r.logger.WithFields(logrus.Fields{
					"account_no": member.AccountNo,
					"period":     period,
				}).Error(recErr.Error())
				mu.Lock()
				failures = append(failures, recErr.Error())
				mu.Unlock()
			case outcome == outcomeUpdated:
				updated.Add(1)
			case outcome == outcomeSkipped:
				skipped.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &ReconcileResult{
		Period:    period,
		Evaluated: len(members),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
		Errors:    failures,
	}
	r.logger.WithFields(logrus.Fields{
		"period":         period,
		"evaluated":      result.Evaluated,
		"updated":        result.Updated,
		"skipped":        result.Skipped,
		"failed":         result.Failed,
		"correlation_id": correlationId(ctx),
	}).Info("status reconciliation finished")
	return result, nil
}

// ReconcileMember re-evaluates a single member, as requested after a payment lands.
func (r *Reconciler) ReconcileMember(ctx context.Context, accountNo string, now time.Time) (bool, error) {
	member, err := models.FindMemberByAccountNo(ctx, r.db, accountNo)
	if err != nil {
		return false, err
	}
	if member.Status == models.MemberStatusDeleted {
		return false, nil
	}
	exists, err := models.ContributionExists(ctx, r.db, member.AccountNo, models.PeriodLabel(now))
	if err != nil {
		return false, err
	}
	outcome, err := r.reconcileMember(ctx, member, exists, now)
	if err != nil {
		return false, &models.ReconciliationError{AccountNo: member.AccountNo, Err: err}
	}
	return outcome == outcomeUpdated, nil
}

type reconcileOutcome int

const (
	outcomeUnchanged reconcileOutcome = iota
	outcomeUpdated
	// the row changed under us; the next pass picks it up
	outcomeSkipped
)

func (r *Reconciler) reconcileMember(ctx context.Context, member *models.Member, paid bool, now time.Time) (reconcileOutcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeUnchanged, err
	}
	next := models.NextStatus(member.Status, paid, r.grace.IsNewThisPeriod(member.CreatedAt, now))
	if next == member.Status {
		return outcomeUnchanged, nil
	}
	ok, err := r.writeStatus(ctx, member, next, now)
	if err != nil {
		return outcomeUnchanged, err
	}
	if !ok {
		return outcomeSkipped, nil
	}
	return outcomeUpdated, nil
}
