package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/hoa_backend/utils"
	"gorm.io/gorm"
)

const accountNoWidth = 4

// MaxSearchLimit caps the rows a member search returns.
const MaxSearchLimit = 50

type Member struct {
	ID              int          `gorm:"primary_key" json:"id"`
	AccountNo       string       `gorm:"size:16;not null;uniqueIndex" json:"account_no"`
	SequenceNo      int          `gorm:"not null;uniqueIndex" json:"sequence_no"`
	Name            string       `gorm:"size:255;not null;index" json:"name"`
	Address         string       `gorm:"size:255" json:"address"`
	ContactNumber   string       `gorm:"size:32" json:"contact_number"`
	Email           string       `gorm:"size:255" json:"email"`
	Status          MemberStatus `gorm:"size:20;not null;index" json:"status"`
	StatusUpdatedAt *time.Time   `json:"status_updated_at"`
	StatusUpdatedBy string       `gorm:"size:100" json:"status_updated_by"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMember struct {
	Name          string `json:"name" validate:"required,max=255"`
	Address       string `json:"address" validate:"max=255"`
	ContactNumber string `json:"contact_number" validate:"max=32"`
	Email         string `json:"email" validate:"omitempty,email"`
}

func (input *NewMember) Validate() error {
	input.Name = strings.TrimSpace(input.Name)
	input.ContactNumber = strings.TrimSpace(input.ContactNumber)
	if field, tag, ok := utils.FirstValidationError(input); ok {
		return NewValidationError(field, "failed "+tag+" check")
	}
	if input.ContactNumber != "" {
		if err := utils.ValidatePhoneNumber(input.ContactNumber, utils.CountryCode); err != nil {
			return NewValidationError("contact_number", err.Error())
		}
	}
	return nil
}

// FormatAccountNo zero-pads a member sequence number: 5 -> "0005".
func FormatAccountNo(seq int) string {
	return fmt.Sprintf("%0*d", accountNoWidth, seq)
}

func (m *Member) GetId() int {
	return m.ID
}

func FindMemberByAccountNo(ctx context.Context, db *gorm.DB, accountNo string) (*Member, error) {
	var member Member
	err := db.WithContext(ctx).Where("account_no = ?", accountNo).Take(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "member", Key: accountNo}
		}
		return nil, err
	}
	return &member, nil
}

// ListLiveMembers returns every member that is not soft-deleted.
func ListLiveMembers(ctx context.Context, db *gorm.DB) ([]*Member, error) {
	var members []*Member
	err := db.WithContext(ctx).
		Where("status <> ?", MemberStatusDeleted).
		Order("sequence_no").
		Find(&members).Error
	return members, err
}

// SearchMembers matches an account number prefix or a name fragment.
func SearchMembers(ctx context.Context, db *gorm.DB, query string, limit int) ([]*Member, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 10
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	var members []*Member
	tx := db.WithContext(ctx).Where("status <> ?", MemberStatusDeleted)
	if query != "" {
		tx = tx.Where("account_no LIKE ? OR name LIKE ?", query+"%", "%"+query+"%")
	}
	err := tx.Order("sequence_no").Limit(limit).Find(&members).Error
	return members, err
}

// CompareAndSetStatus writes to only if the stored status is still from.
// It reports false when another writer changed the row first.
func CompareAndSetStatus(ctx context.Context, db *gorm.DB, memberId int, from, to MemberStatus, at time.Time, by string) (bool, error) {
	result := db.WithContext(ctx).Model(&Member{}).
		Where("id = ? AND status = ?", memberId, from).
		Updates(map[string]interface{}{
			"status":            to,
			"status_updated_at": at,
			"status_updated_by": by,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
