package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Expense is an association spending entry. Reports subtract these from contributions.
type Expense struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Description string          `gorm:"size:255;not null" json:"description"`
	Category    string          `gorm:"size:100;index" json:"category"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ExpenseDate time.Time       `gorm:"index" json:"expense_date"`
	RecordedBy  string          `gorm:"size:100" json:"recorded_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewExpense struct {
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate string          `json:"expense_date"`
}

func (e *Expense) GetTransactionDate() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.ExpenseDate
}

func (e *Expense) GetAmount() decimal.Decimal {
	if e == nil {
		return decimal.Zero
	}
	return e.Amount
}

func CreateExpense(ctx context.Context, db *gorm.DB, input *NewExpense, actor string) (*Expense, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, NewValidationError("description", "is required")
	}
	if !input.Amount.IsPositive() {
		return nil, NewValidationError("amount", "must be greater than zero")
	}
	expenseDate, err := ParseTransactionDate(input.ExpenseDate)
	if err != nil {
		return nil, NewValidationError("expense_date", err.Error())
	}
	expense := Expense{
		Description: description,
		Category:    strings.TrimSpace(input.Category),
		Amount:      input.Amount,
		ExpenseDate: expenseDate.UTC(),
		RecordedBy:  actor,
	}
	if err := db.WithContext(ctx).Create(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

// ListExpensesBetween returns expenses with from <= expense_date < to.
func ListExpensesBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*Expense, error) {
	var expenses []*Expense
	err := db.WithContext(ctx).
		Where("expense_date >= ? AND expense_date < ?", from.UTC(), to.UTC()).
		Order("expense_date").
		Find(&expenses).Error
	return expenses, err
}
