package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const duesCacheKey = "dues:setting"

// duesCache holds the current setting. fill only writes an absent key, so a reader that loaded
// the row before a Set committed cannot overwrite the value Set stored.
type duesCache interface {
	load(ctx context.Context, dest *models.DuesSetting) (bool, error)
	fill(ctx context.Context, setting *models.DuesSetting, ttl time.Duration) error
	store(ctx context.Context, setting *models.DuesSetting, ttl time.Duration) error
	evict(ctx context.Context) error
}

type redisDuesCache struct{}

func (redisDuesCache) load(ctx context.Context, dest *models.DuesSetting) (bool, error) {
	return config.GetRedisObject(ctx, duesCacheKey, dest)
}

func (redisDuesCache) fill(ctx context.Context, setting *models.DuesSetting, ttl time.Duration) error {
	_, err := config.SetRedisObjectNX(ctx, duesCacheKey, setting, ttl)
	return err
}

func (redisDuesCache) store(ctx context.Context, setting *models.DuesSetting, ttl time.Duration) error {
	return config.SetRedisObject(ctx, duesCacheKey, setting, ttl)
}

func (redisDuesCache) evict(ctx context.Context) error {
	return config.RemoveRedisKey(ctx, duesCacheKey)
}

// DuesRegistry owns the singleton monthly dues amount. Changing it never touches
// contribution records already written.
type DuesRegistry struct {
	db            *gorm.DB
	authorizer    Authorizer
	logger        *logrus.Logger
	defaultAmount decimal.Decimal
	cache         duesCache
	cacheTTL      time.Duration
}

func NewDuesRegistry(db *gorm.DB, authorizer Authorizer) *DuesRegistry {
	if authorizer == nil {
		authorizer = RoleAuthorizer{}
	}
	return &DuesRegistry{
		db:            db,
		authorizer:    authorizer,
		logger:        config.GetLogger(),
		defaultAmount: config.DefaultDuesAmount(),
		cache:         redisDuesCache{},
		cacheTTL:      10 * time.Minute,
	}
}

// Get returns the dues setting, creating it with the default amount on first access.
// Concurrent first calls converge on one row: the insert is keyed on the fixed id and
// a conflicting insert is a no-op followed by a re-read.
func (r *DuesRegistry) Get(ctx context.Context) (*models.DuesSetting, error) {
	var cached models.DuesSetting
	if ok, err := r.cache.load(ctx, &cached); err == nil && ok {
		return &cached, nil
	}

	setting, err := r.read(ctx)
	if err == nil {
		r.fillCache(ctx, setting)
		return setting, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		config.LogError(r.logger, "duesRegistry.go", "Get", "read dues setting", nil, err)
		return nil, err
	}

	seed := models.DuesSetting{
		ID:          models.DuesSettingID,
		Amount:      r.defaultAmount,
		LastUpdated: time.Now().UTC(),
		UpdatedBy:   SystemActor.Username,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil && !models.IsDuplicateKeyErr(err) {
		config.LogError(r.logger, "duesRegistry.go", "Get", "bootstrap dues setting", seed, err)
		return nil, err
	}

	setting, err = r.read(ctx)
	if err != nil {
		return nil, err
	}
	r.fillCache(ctx, setting)
	return setting, nil
}

// Amount is the current monthly dues.
func (r *DuesRegistry) Amount(ctx context.Context) (decimal.Decimal, error) {
	setting, err := r.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return setting.Amount, nil
}

// Set replaces the dues amount. Only officials may call it.
func (r *DuesRegistry) Set(ctx context.Context, amount decimal.Decimal, actor Actor) (*models.DuesSetting, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}
	if !r.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	// make sure the row exists before updating it
	if _, err := r.Get(ctx); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Model(&models.DuesSetting{}).
		Where("id = ?", models.DuesSettingID).
		Updates(map[string]interface{}{
			"amount":       amount,
			"last_updated": time.Now().UTC(),
			"updated_by":   actor.Username,
		}).Error
	if err != nil {
		config.LogError(r.logger, "duesRegistry.go", "Set", "update dues setting", amount.String(), err)
		return nil, err
	}

	setting, err := r.read(ctx)
	if err != nil {
		if evictErr := r.cache.evict(ctx); evictErr != nil {
			config.LogError(r.logger, "duesRegistry.go", "Set", "evict cache", duesCacheKey, evictErr)
		}
		return nil, err
	}
	if err := r.cache.store(ctx, setting, r.cacheTTL); err != nil {
		config.LogError(r.logger, "duesRegistry.go", "Set", "store cache", duesCacheKey, err)
		if evictErr := r.cache.evict(ctx); evictErr != nil {
			config.LogError(r.logger, "duesRegistry.go", "Set", "evict cache", duesCacheKey, evictErr)
		}
	}
	r.logger.WithFields(logrus.Fields{
		"amount":     setting.Amount.String(),
		"updated_by": actor.Username,
	}).Info("monthly dues updated")
	return setting, nil
}

func (r *DuesRegistry) read(ctx context.Context) (*models.DuesSetting, error) {
	var setting models.DuesSetting
	if err := r.db.WithContext(ctx).Take(&setting, models.DuesSettingID).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *DuesRegistry) fillCache(ctx context.Context, setting *models.DuesSetting) {
	if err := r.cache.fill(ctx, setting, r.cacheTTL); err != nil {
		config.LogError(r.logger, "duesRegistry.go", "fillCache", "set redis object", duesCacheKey, err)
	}
}
