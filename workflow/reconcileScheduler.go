package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/sirupsen/logrus"
)

const reconcileLockKey = "reconcile:run"

// ReconcileScheduler runs the reconciler once at startup and then daily at RunAt past midnight
// in the billing timezone. The run on the first day of a month is the period-start run.
// With a redislock client only one instance runs a given pass.
type ReconcileScheduler struct {
	reconciler *Reconciler
	locker     *redislock.Client
	lockTTL    time.Duration
	runAt      time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

func NewReconcileScheduler(reconciler *Reconciler, locker *redislock.Client) *ReconcileScheduler {
	return &ReconcileScheduler{
		reconciler: reconciler,
		locker:     locker,
		lockTTL:    10 * time.Minute,
		runAt:      5 * time.Minute,
		logger:     config.GetLogger(),
		now:        time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (s *ReconcileScheduler) Start(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		config.LogError(s.logger, "reconcileScheduler.go", "Start", "initial run", nil, err)
	}
	for {
		wait := time.Until(s.NextRunAt(s.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			config.LogError(s.logger, "reconcileScheduler.go", "Start", "scheduled run", nil, err)
		}
	}
}

// NextRunAt is the first scheduled instant strictly after now.
func (s *ReconcileScheduler) NextRunAt(now time.Time) time.Time {
	local := now.In(models.PeriodLocation())
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).Add(s.runAt)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, local.Location()).Add(s.runAt)
	}
	return next
}

// RunOnce reconciles now. It returns a nil result when another instance holds the run lock.
// The lock is refreshed while the pass runs; if it is lost the pass is cancelled.
func (s *ReconcileScheduler) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, reconcileLockKey, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.Info("reconciliation already running on another instance")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(s.logger, "reconcileScheduler.go", "RunOnce", "release lock", reconcileLockKey, err)
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		stop := s.keepLockAlive(ctx, lock, cancel)
		defer stop()
		defer cancel()
	}
	return s.reconciler.Reconcile(ctx, s.now())
}

type lockRefresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepLockAlive extends the lock every half TTL until stop is called. A failed refresh calls lost.
func (s *ReconcileScheduler) keepLockAlive(ctx context.Context, lock lockRefresher, lost func()) (stop func()) {
	interval := s.lockTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(ctx, s.lockTTL, nil); err != nil {
					config.LogError(s.logger, "reconcileScheduler.go", "keepLockAlive", "refresh lock", reconcileLockKey, err)
					lost()
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}
