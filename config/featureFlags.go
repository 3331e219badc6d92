package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultDuesAmount     = "30"
	defaultPeriodTimezone = "Asia/Manila"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DefaultDuesAmount is the amount written when the dues singleton is bootstrapped.
//
// Set via env:
// - DEFAULT_DUES_AMOUNT=30
func DefaultDuesAmount() decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv("DEFAULT_DUES_AMOUNT"))
	if raw == "" {
		raw = defaultDuesAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.RequireFromString(defaultDuesAmount)
	}
	return d
}

// PeriodLocation is the timezone billing periods are cut in.
//
// Set via env:
// - PERIOD_TIMEZONE=Asia/Manila
func PeriodLocation() *time.Location {
	name := strings.TrimSpace(os.Getenv("PERIOD_TIMEZONE"))
	if name == "" {
		name = defaultPeriodTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// No tzdata on the host; Manila has no DST so a fixed offset is exact.
		return time.FixedZone("PHT", 8*60*60)
	}
	return loc
}

// GraceWindowDays switches the new-member grace rule from "created in the current period"
// to "created less than N days ago". Zero keeps the calendar-period rule.
//
// Set via env:
// - GRACE_WINDOW_DAYS=0
func GraceWindowDays() int {
	n := IntFromEnv("GRACE_WINDOW_DAYS", 0)
	if n < 0 {
		return 0
	}
	return n
}

// ProofRequired makes a failed proof-of-payment upload fatal to the submission.
//
// Set via env:
// - PROOF_REQUIRED=false
func ProofRequired() bool {
	return boolFromEnv("PROOF_REQUIRED", false)
}

// ReconcileConcurrency bounds parallel status writes during reconciliation.
func ReconcileConcurrency() int {
	n := IntFromEnv("RECONCILE_CONCURRENCY", 4)
	if n < 1 {
		return 1
	}
	return n
}

// ReconcileScheduleEnabled starts the in-process daily/period-start reconciliation loop.
func ReconcileScheduleEnabled() bool {
	return boolFromEnv("RECONCILE_SCHEDULE_ENABLED", true)
}
