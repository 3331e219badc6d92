package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DuesSettingID is the primary key of the only dues row.
const DuesSettingID = 1

// DuesSetting is the singleton monthly due amount offered as the default on new submissions.
type DuesSetting struct {
	ID          int             `gorm:"primary_key;autoIncrement:false" json:"id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	LastUpdated time.Time       `gorm:"not null" json:"last_updated"`
	UpdatedBy   string          `gorm:"size:100" json:"updated_by"`
}
