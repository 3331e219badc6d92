package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ContributionRecord is one dues payment. At most one exists per (member, period);
// the composite unique index enforces it at the storage boundary.
type ContributionRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	MemberAccountNo   string          `gorm:"size:16;not null;uniqueIndex:uniq_member_period" json:"member_account_no"`
	Period            string          `gorm:"size:32;not null;uniqueIndex:uniq_member_period;index" json:"period"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMethod     PaymentMethod   `gorm:"size:10;not null" json:"payment_method"`
	Recipient         string          `gorm:"size:255;not null" json:"recipient"`
	TransactionDate   time.Time       `gorm:"not null;index" json:"transaction_date"`
	ProofRef          string          `gorm:"size:512" json:"proof_ref"`
	ProofThumbnailRef string          `gorm:"size:512" json:"proof_thumbnail_ref"`
	RecordedBy        string          `gorm:"size:100" json:"recorded_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetTransactionDate is nil-safe so reports can skip missing rows instead of panicking.
func (r *ContributionRecord) GetTransactionDate() time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.TransactionDate
}

func (r *ContributionRecord) GetAmount() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return r.Amount
}

// ProofUpload is a proof-of-payment image. Data is base64 in JSON.
type ProofUpload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
	// Required makes an upload failure fatal to the submission.
	Required bool `json:"required"`
}

// MaxProofSizeBytes caps proof-of-payment uploads.
const MaxProofSizeBytes = 5 * 1024 * 1024

// validate sniffs the payload; the sniffed type replaces whatever the client claimed.
func (p *ProofUpload) validate() error {
	if p == nil {
		return nil
	}
	if len(p.Data) == 0 {
		return NewValidationError("proof", "is empty")
	}
	if len(p.Data) > MaxProofSizeBytes {
		return NewValidationError("proof", "exceeds 5MB limit")
	}
	contentType, _, ok := utils.DetectProofContentType(p.Data)
	if !ok {
		return NewValidationError("proof", "unsupported file type "+contentType)
	}
	p.ContentType = contentType
	return nil
}

type NewContribution struct {
	MemberAccountNo string           `json:"member_account_no" validate:"required,max=16"`
	// Amount defaults to the current monthly dues when omitted.
	Amount          *decimal.Decimal `json:"amount"`
	PaymentMethod   PaymentMethod    `json:"payment_method" validate:"required,oneof=Cash GCash"`
	Recipient       string           `json:"recipient" validate:"required,max=255"`
	TransactionDate string           `json:"transaction_date" validate:"required"`
	Proof           *ProofUpload     `json:"proof"`
}

// Validate checks the field-level preconditions and returns the parsed transaction date.
func (input *NewContribution) Validate() (time.Time, error) {
	input.Recipient = strings.TrimSpace(input.Recipient)
	if input.Amount == nil || !input.Amount.IsPositive() {
		return time.Time{}, NewValidationError("amount", "must be greater than zero")
	}
	if input.Recipient == "" {
		return time.Time{}, NewValidationError("recipient", "is required")
	}
	txDate, err := ParseTransactionDate(input.TransactionDate)
	if err != nil {
		return time.Time{}, NewValidationError("transaction_date", err.Error())
	}
	if field, tag, ok := utils.FirstValidationError(input); ok {
		return time.Time{}, NewValidationError(field, "failed "+tag+" check")
	}
	if err := input.Proof.validate(); err != nil {
		return time.Time{}, err
	}
	return txDate, nil
}

// ContributionUpdate carries the fields an official may edit. Period and member are absent on purpose.
type ContributionUpdate struct {
	Amount        *decimal.Decimal `json:"amount"`
	PaymentMethod *PaymentMethod   `json:"payment_method"`
	Recipient     *string          `json:"recipient"`
	Proof         *ProofUpload     `json:"proof"`
	RemoveProof   bool             `json:"remove_proof"`
}

func (input *ContributionUpdate) Validate() error {
	if input.Amount != nil && !input.Amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	if input.PaymentMethod != nil && !input.PaymentMethod.IsValid() {
		return NewValidationError("payment_method", "must be Cash or GCash")
	}
	if input.Recipient != nil {
		trimmed := strings.TrimSpace(*input.Recipient)
		if trimmed == "" {
			return NewValidationError("recipient", "is required")
		}
		input.Recipient = &trimmed
	}
	if err := input.Proof.validate(); err != nil {
		return err
	}
	if input.Proof != nil && input.RemoveProof {
		return NewValidationError("proof", "cannot replace and remove proof at once")
	}
	return nil
}

var transactionDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTransactionDate accepts RFC3339 or a local date/time in PeriodLocation.
func ParseTransactionDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("is required")
	}
	for _, layout := range transactionDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, periodLocation); err == nil {
			return t, nil
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).In(periodLocation), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a valid date", raw)
}

func FindContribution(ctx context.Context, db *gorm.DB, id int) (*ContributionRecord, error) {
	var record ContributionRecord
	if err := db.WithContext(ctx).Take(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "contribution", Key: strconv.Itoa(id)}
		}
		return nil, err
	}
	return &record, nil
}

func ContributionExists(ctx context.Context, db *gorm.DB, accountNo, period string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&ContributionRecord{}).
		Where("member_account_no = ? AND period = ?", accountNo, period).
		Count(&count).Error
	return count > 0, err
}

func ListContributionsByPeriod(ctx context.Context, db *gorm.DB, period string) ([]*ContributionRecord, error) {
	var records []*ContributionRecord
	err := db.WithContext(ctx).Where("period = ?", period).Order("member_account_no").Find(&records).Error
	return records, err
}

func ListContributionsByMember(ctx context.Context, db *gorm.DB, accountNo string) ([]*ContributionRecord, error) {
	var records []*ContributionRecord
	err := db.WithContext(ctx).Where("member_account_no = ?", accountNo).Order("transaction_date").Find(&records).Error
	return records, err
}

// ListContributionsBetween returns records with from <= transaction_date < to.
// Dates are stored in UTC so range predicates compare like for like on every driver.
func ListContributionsBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*ContributionRecord, error) {
	var records []*ContributionRecord
	err := db.WithContext(ctx).
		Where("transaction_date >= ? AND transaction_date < ?", from.UTC(), to.UTC()).
		Order("transaction_date").
		Find(&records).Error
	return records, err
}

// PaidAccountNos is the set of members with a record for the period.
func PaidAccountNos(ctx context.Context, db *gorm.DB, period string) (map[string]bool, error) {
	var accountNos []string
	if err := db.WithContext(ctx).Model(&ContributionRecord{}).
		Where("period = ?", period).
		Distinct().
		Pluck("member_account_no", &accountNos).Error; err != nil {
		return nil, err
	}
	paid := make(map[string]bool, len(accountNos))
	for _, no := range accountNos {
		paid[no] = true
	}
	return paid, nil
}
