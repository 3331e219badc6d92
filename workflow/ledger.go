package workflow

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/mmdatafocus/hoa_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("hoa_backend/workflow")

// BlobStore keeps proof-of-payment files. Upload returns the reference stored on the record.
type BlobStore interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// ReconcilePublisher announces that a member's status may need recomputing.
type ReconcilePublisher func(ctx context.Context, msg config.ReconcileRequest) (string, error)

// Ledger records contribution payments, one per member per period.
type Ledger struct {
	db            *gorm.DB
	blobs         BlobStore
	guard         SubmissionGuard
	dues          *DuesRegistry
	authorizer    Authorizer
	logger        *logrus.Logger
	proofRequired bool
	publish       ReconcilePublisher
	now           func() time.Time
}

type LedgerOption func(*Ledger)

func WithBlobStore(blobs BlobStore) LedgerOption {
	return func(l *Ledger) { l.blobs = blobs }
}

func WithSubmissionGuard(guard SubmissionGuard) LedgerOption {
	return func(l *Ledger) { l.guard = guard }
}

func WithAuthorizer(authorizer Authorizer) LedgerOption {
	return func(l *Ledger) { l.authorizer = authorizer }
}

func WithProofRequired(required bool) LedgerOption {
	return func(l *Ledger) { l.proofRequired = required }
}

func WithReconcilePublisher(publish ReconcilePublisher) LedgerOption {
	return func(l *Ledger) { l.publish = publish }
}

func NewLedger(db *gorm.DB, dues *DuesRegistry, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		db:            db,
		dues:          dues,
		guard:         NewLocalSubmissionGuard(),
		authorizer:    RoleAuthorizer{},
		logger:        config.GetLogger(),
		proofRequired: config.ProofRequired(),
		publish:       config.PublishReconcileRequest,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SubmitResult is the stored record plus any non-fatal problems, such as a failed optional proof upload.
type SubmitResult struct {
	Record   *models.ContributionRecord `json:"record"`
	Warnings []string                   `json:"warnings,omitempty"`
}

type storedProof struct {
	ref          string
	thumbnailRef string
}

func (p storedProof) refs() []string {
	var out []string
	for _, ref := range []string{p.ref, p.thumbnailRef} {
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

// Submit records a payment. Preconditions are checked in order: the member must exist and be
// eligible at submit time, the fields must be valid, and the period must not already be paid.
// Either a complete record is written or nothing is, and a proof uploaded for a failed write
// is removed again.
func (l *Ledger) Submit(ctx context.Context, actor Actor, input models.NewContribution) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("account_no", input.MemberAccountNo))

	input.MemberAccountNo = strings.TrimSpace(input.MemberAccountNo)
	if input.MemberAccountNo == "" {
		return nil, models.NewValidationError("member_account_no", "is required")
	}

	member, err := models.FindMemberByAccountNo(ctx, l.db, input.MemberAccountNo)
	if err != nil {
		return nil, err
	}
	if !member.Status.CanPay() {
		return nil, &models.MemberNotEligibleError{AccountNo: member.AccountNo, Status: member.Status}
	}

	if input.Amount == nil && l.dues != nil {
		amount, err := l.dues.Amount(ctx)
		if err != nil {
			config.LogError(l.logger, "ledger.go", "Submit", "default dues amount", nil, err)
			return nil, err
		}
		input.Amount = &amount
	}
	txDate, err := input.Validate()
	if err != nil {
		return nil, err
	}
	period := models.PeriodLabel(txDate)
	logger := l.logger.WithFields(logrus.Fields{
		"account_no":     member.AccountNo,
		"period":         period,
		"correlation_id": correlationId(ctx),
	})

	release, err := l.guard.Acquire(ctx, submissionKey(actor, member.AccountNo, period))
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := models.ContributionExists(ctx, l.db, member.AccountNo, period)
	if err != nil {
		config.LogError(l.logger, "ledger.go", "Submit", "ContributionExists", period, err)
		return nil, err
	}
	if exists {
		return nil, &models.DuplicatePeriodError{AccountNo: member.AccountNo, Period: period}
	}

	result := &SubmitResult{}
	var proof storedProof
	if input.Proof != nil {
		proof, err = l.storeProof(ctx, member.AccountNo, period, input.Proof)
		if err != nil {
			if input.Proof.Required || l.proofRequired {
				return nil, err
			}
			logger.Warn("proof upload failed; recording payment without proof: " + err.Error())
			result.Warnings = append(result.Warnings, "proof of payment could not be stored: "+err.Error())
		}
	}

	record := &models.ContributionRecord{
		MemberAccountNo:   member.AccountNo,
		Period:            period,
		Amount:            *input.Amount,
		PaymentMethod:     input.PaymentMethod,
		Recipient:         input.Recipient,
		TransactionDate:   txDate.UTC(),
		ProofRef:          proof.ref,
		ProofThumbnailRef: proof.thumbnailRef,
		RecordedBy:        actor.Username,
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := models.FindMemberByAccountNo(ctx, tx, member.AccountNo)
		if err != nil {
			return err
		}
		if !current.Status.CanPay() {
			return &models.MemberNotEligibleError{AccountNo: current.AccountNo, Status: current.Status}
		}
		return tx.Create(record).Error
	})
	if err != nil {
		l.discardBlobs(ctx, proof.refs())
		if models.IsDuplicateKeyErr(err) {
			return nil, &models.DuplicatePeriodError{AccountNo: member.AccountNo, Period: period}
		}
		var notEligible *models.MemberNotEligibleError
		if errors.As(err, &notEligible) || models.IsNotFoundErr(err) {
			return nil, err
		}
		config.LogError(l.logger, "ledger.go", "Submit", "create contribution", record, err)
		return nil, err
	}
	result.Record = record
	logger.WithField("record_id", record.ID).Info("contribution recorded")

	l.announce(ctx, config.ReconcileRequest{
		Reason:        "contribution",
		AccountNo:     member.AccountNo,
		Period:        period,
		RequestedAt:   l.now().UTC(),
		CorrelationId: correlationId(ctx),
	})
	return result, nil
}

// Update edits an existing record. Only officials may call it; period and member never change.
func (l *Ledger) Update(ctx context.Context, actor Actor, recordId int, input models.ContributionUpdate) (*models.ContributionRecord, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Update")
	defer span.End()

	if !l.authorizer.IsAuthorized(ctx, actor) {
		return nil, models.ErrUnauthorized
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	record, err := models.FindContribution(ctx, l.db, recordId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Amount != nil {
		updates["amount"] = *input.Amount
	}
	if input.PaymentMethod != nil {
		updates["payment_method"] = *input.PaymentMethod
	}
	if input.Recipient != nil {
		updates["recipient"] = *input.Recipient
	}

	var staleRefs []string
	var proof storedProof
	if input.Proof != nil {
		proof, err = l.storeProof(ctx, record.MemberAccountNo, record.Period, input.Proof)
		if err != nil {
			return nil, err
		}
		updates["proof_ref"] = proof.ref
		updates["proof_thumbnail_ref"] = proof.thumbnailRef
		staleRefs = storedProof{ref: record.ProofRef, thumbnailRef: record.ProofThumbnailRef}.refs()
	} else if input.RemoveProof {
		updates["proof_ref"] = ""
		updates["proof_thumbnail_ref"] = ""
		staleRefs = storedProof{ref: record.ProofRef, thumbnailRef: record.ProofThumbnailRef}.refs()
	}
	if len(updates) == 0 {
		return record, nil
	}

	if err := l.db.WithContext(ctx).Model(&models.ContributionRecord{}).Where("id = ?", record.ID).Updates(updates).Error; err != nil {
		l.discardBlobs(ctx, proof.refs())
		config.LogError(l.logger, "ledger.go", "Update", "update contribution", updates, err)
		return nil, err
	}
	l.discardBlobs(ctx, staleRefs)

	l.logger.WithFields(logrus.Fields{
		"record_id":  record.ID,
		"account_no": record.MemberAccountNo,
		"period":     record.Period,
		"updated_by": actor.Username,
	}).Info("contribution updated")
	return models.FindContribution(ctx, l.db, record.ID)
}

// DeleteProof detaches and removes the proof of a record.
func (l *Ledger) DeleteProof(ctx context.Context, actor Actor, recordId int) (*models.ContributionRecord, error) {
	return l.Update(ctx, actor, recordId, models.ContributionUpdate{RemoveProof: true})
}

func (l *Ledger) Get(ctx context.Context, recordId int) (*models.ContributionRecord, error) {
	return models.FindContribution(ctx, l.db, recordId)
}

func (l *Ledger) ListByPeriod(ctx context.Context, period string) ([]*models.ContributionRecord, error) {
	if _, err := models.ParsePeriodLabel(period); err != nil {
		return nil, models.NewValidationError("period", err.Error())
	}
	return models.ListContributionsByPeriod(ctx, l.db, period)
}

func (l *Ledger) ListByMember(ctx context.Context, accountNo string) ([]*models.ContributionRecord, error) {
	if _, err := models.FindMemberByAccountNo(ctx, l.db, accountNo); err != nil {
		return nil, err
	}
	return models.ListContributionsByMember(ctx, l.db, accountNo)
}

// storeProof uploads the proof and, for images, a thumbnail. A thumbnail failure is logged only.
func (l *Ledger) storeProof(ctx context.Context, accountNo, period string, proof *models.ProofUpload) (storedProof, error) {
	if l.blobs == nil {
		return storedProof{}, &models.StorageError{Op: "upload", Err: errors.New("no proof storage configured")}
	}
	_, ext, _ := utils.DetectProofContentType(proof.Data)
	objectKey := path.Join("proofs", strings.ReplaceAll(period, " ", "-"), accountNo, uuid.NewString()+ext)

	ref, err := l.blobs.Upload(ctx, objectKey, proof.Data, proof.ContentType)
	if err != nil {
		return storedProof{}, &models.StorageError{Op: "upload", Err: err}
	}
	stored := storedProof{ref: ref}

	if utils.IsImageContentType(proof.ContentType) {
		thumbnail, err := utils.MakeThumbnail(proof.Data)
		if err == nil {
			stored.thumbnailRef, err = l.blobs.Upload(ctx, utils.ThumbnailObjectKey(objectKey), thumbnail, "image/jpeg")
		}
		if err != nil {
			config.LogError(l.logger, "ledger.go", "storeProof", "thumbnail", objectKey, err)
		}
	}
	return stored, nil
}

func (l *Ledger) discardBlobs(ctx context.Context, refs []string) {
	if l.blobs == nil {
		return
	}
	for _, ref := range refs {
		if err := l.blobs.Delete(ctx, ref); err != nil {
			config.LogError(l.logger, "ledger.go", "discardBlobs", "delete blob", ref, err)
		}
	}
}

func (l *Ledger) announce(ctx context.Context, msg config.ReconcileRequest) {
	if l.publish == nil {
		return
	}
	if _, err := l.publish(ctx, msg); err != nil {
		config.LogError(l.logger, "ledger.go", "announce", "publish reconcile request", msg, err)
	}
}

// correlationId prefers the request id and falls back to the active trace id.
func correlationId(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

