package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/sirupsen/logrus"
)

// SubmissionGuard suppresses a caller double-submitting the same payment while the first
// attempt is in flight. It is not what keeps the ledger unique; the storage index is.
type SubmissionGuard interface {
	// Acquire returns models.ErrSubmissionInProgress if key is already held.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func submissionKey(actor Actor, accountNo, period string) string {
	return fmt.Sprintf("submit:%s:%s:%s", actor.Username, accountNo, period)
}

// LocalSubmissionGuard holds in-flight keys in process memory.
type LocalSubmissionGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLocalSubmissionGuard() *LocalSubmissionGuard {
	return &LocalSubmissionGuard{inFlight: map[string]struct{}{}}
}

func (g *LocalSubmissionGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return nil, models.ErrSubmissionInProgress
	}
	g.inFlight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently acquired.
func (g *LocalSubmissionGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[key]
	return busy
}

// RedisSubmissionGuard shares in-flight keys across instances with redislock.
// Without a Redis connection it degrades to the local guard.
type RedisSubmissionGuard struct {
	locker   *redislock.Client
	ttl      time.Duration
	fallback *LocalSubmissionGuard
	logger   *logrus.Logger
}

func NewRedisSubmissionGuard(locker *redislock.Client, ttl time.Duration) *RedisSubmissionGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubmissionGuard{
		locker:   locker,
		ttl:      ttl,
		fallback: NewLocalSubmissionGuard(),
		logger:   config.GetLogger(),
	}
}

func (g *RedisSubmissionGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if g.locker == nil {
		return g.fallback.Acquire(ctx, key)
	}
	lock, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, models.ErrSubmissionInProgress
	}
	if err != nil {
		// Redis trouble must not block payments; the unique index still protects the ledger.
		g.logger.WithFields(logrus.Fields{
			"field": "RedisSubmissionGuard",
			"key":   key,
		}).Warn("error obtaining redis lock; using local guard: " + err.Error())
		return g.fallback.Acquire(ctx, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				g.logger.WithFields(logrus.Fields{
					"field": "RedisSubmissionGuard",
					"key":   key,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		})
	}, nil
}
