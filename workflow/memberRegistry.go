package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const registerAttempts = 5

// MemberRegistry creates members and applies official status decisions.
type MemberRegistry struct {
	db         *gorm.DB
	authorizer Authorizer
	logger     *logrus.Logger
	now        func() time.Time
}

func NewMemberRegistry(db *gorm.DB, authorizer Authorizer) *MemberRegistry {
	if authorizer == nil {
		authorizer = RoleAuthorizer{}
	}
	return &MemberRegistry{db: db, authorizer: authorizer, logger: config.GetLogger(), now: time.Now}
}

// Register creates a New member with the next account number.
func (r *MemberRegistry) Register(ctx context.Context, actor Actor, input models.NewMember) (*models.Member, error) {
	if !r.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	var member *models.Member
	var err error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		member, err = r.insertNext(ctx, input)
		if err == nil || !models.IsDuplicateKeyErr(err) {
			break
		}
	}
	if err != nil {
		config.LogError(r.logger, "memberRegistry.go", "Register", "insert member", input, err)
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"account_no": member.AccountNo,
		"created_by": actor.Username,
	}).Info("member registered")
	return member, nil
}

func (r *MemberRegistry) insertNext(ctx context.Context, input models.NewMember) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.Member{}).Select("COALESCE(MAX(sequence_no), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		member = models.Member{
			AccountNo:     models.FormatAccountNo(maxSeq + 1),
			SequenceNo:    maxSeq + 1,
			Name:          input.Name,
			Address:       input.Address,
			ContactNumber: input.ContactNumber,
			Email:         input.Email,
			Status:        models.MemberStatusNew,
			CreatedAt:     r.now().UTC(),
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Confirm moves a New or Pending member to Active.
func (r *MemberRegistry) Confirm(ctx context.Context, actor Actor, accountNo string) (*models.Member, error) {
	if !r.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	member, err := models.FindMemberByAccountNo(ctx, r.db, accountNo)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberStatusNew && member.Status != models.MemberStatusPending {
		return nil, models.NewValidationError("status", "only New or Pending members can be confirmed, member is "+string(member.Status))
	}
	return r.transition(ctx, actor, member, models.MemberStatusActive)
}

// OverrideStatus records an official's explicit decision. Deleted and New are not valid targets.
func (r *MemberRegistry) OverrideStatus(ctx context.Context, actor Actor, accountNo string, status models.MemberStatus) (*models.Member, error) {
	if !r.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	switch status {
	case models.MemberStatusActive, models.MemberStatusInactive, models.MemberStatusPending:
	default:
		return nil, models.NewValidationError("status", "must be Active, Inactive or Pending")
	}
	member, err := models.FindMemberByAccountNo(ctx, r.db, accountNo)
	if err != nil {
		return nil, err
	}
	if member.Status == models.MemberStatusDeleted {
		return nil, &models.NotFoundError{Resource: "member", Key: accountNo}
	}
	if member.Status == status {
		return member, nil
	}
	return r.transition(ctx, actor, member, status)
}

// SoftDelete marks the member Deleted. The record is kept and reconciliation ignores it from then on.
func (r *MemberRegistry) SoftDelete(ctx context.Context, actor Actor, accountNo string) (*models.Member, error) {
	if !r.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	member, err := models.FindMemberByAccountNo(ctx, r.db, accountNo)
	if err != nil {
		return nil, err
	}
	if member.Status == models.MemberStatusDeleted {
		return member, nil
	}
	return r.transition(ctx, actor, member, models.MemberStatusDeleted)
}

func (r *MemberRegistry) Search(ctx context.Context, query string, limit int) ([]*models.Member, error) {
	return models.SearchMembers(ctx, r.db, query, limit)
}

func (r *MemberRegistry) Get(ctx context.Context, accountNo string) (*models.Member, error) {
	return models.FindMemberByAccountNo(ctx, r.db, accountNo)
}

func (r *MemberRegistry) transition(ctx context.Context, actor Actor, member *models.Member, to models.MemberStatus) (*models.Member, error) {
	ok, err := models.CompareAndSetStatus(ctx, r.db, member.ID, member.Status, to, r.now().UTC(), actor.Username)
	if err != nil {
		config.LogError(r.logger, "memberRegistry.go", "transition", "CompareAndSetStatus", member.AccountNo, err)
		return nil, err
	}
	if !ok {
		return nil, models.ErrConcurrentUpdate
	}
	r.logger.WithFields(logrus.Fields{
		"account_no": member.AccountNo,
		"from":       member.Status,
		"to":         to,
		"updated_by": actor.Username,
	}).Info("member status changed")
	return models.FindMemberByAccountNo(ctx, r.db, member.AccountNo)
}
