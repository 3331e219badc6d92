package models

import (
	"errors"
	"fmt"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrSubmissionInProgress is returned while the same caller already has a submission
	// for the same member and period in flight.
	ErrSubmissionInProgress = errors.New("a payment for this member and period is already being submitted")
	ErrUnauthorized         = errors.New("unauthorized")
	// ErrConcurrentUpdate means a conditional write lost to another writer.
	ErrConcurrentUpdate = errors.New("record was modified concurrently; reload and retry")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DuplicatePeriodError means the (member, period) pair already has a contribution record.
type DuplicatePeriodError struct {
	AccountNo string
	Period    string
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("a payment for member %s and period %s already exists", e.AccountNo, e.Period)
}

// MemberNotEligibleError means the member's current status does not allow payments.
type MemberNotEligibleError struct {
	AccountNo string
	Status    MemberStatus
}

func (e *MemberNotEligibleError) Error() string {
	return fmt.Sprintf("member %s cannot pay while status is %s; an official must confirm the member first", e.AccountNo, e.Status)
}

type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// StorageError wraps a blob store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("proof storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReconciliationError is a failure isolated to one member during a reconcile pass.
type ReconciliationError struct {
	AccountNo string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile member %s: %v", e.AccountNo, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// IsDuplicateKeyErr recognises unique-index violations from every driver we run on.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func IsNotFoundErr(err error) bool {
	var nf *NotFoundError
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.As(err, &nf)
}
