package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Identifier interface {
	GetId() int
}

// Dated is anything the financial reports can bucket by period.
type Dated interface {
	GetTransactionDate() time.Time
	GetAmount() decimal.Decimal
}

func (r *ContributionRecord) GetId() int { return r.ID }

func (e *Expense) GetId() int { return e.ID }
