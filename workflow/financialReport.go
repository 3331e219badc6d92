package workflow

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// minValidYear rejects zero and garbage timestamps.
const minValidYear = 1900

// DateRange is half open: From <= t < To.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// PeriodRange covers whole periods from the one containing from through the one containing to.
func PeriodRange(from, to time.Time) DateRange {
	return DateRange{From: models.PeriodOf(from).Start(), To: models.PeriodOf(to).Next().Start()}
}

// PeriodTotals maps a period label to the summed amount. Skipped counts records without a usable date.
type PeriodTotals struct {
	Totals  map[string]decimal.Decimal
	Skipped int
}

func validDate(t time.Time) bool {
	return !t.IsZero() && t.Year() >= minValidYear
}

// SumByPeriod totals the records inside r per period label.
// A record with a missing or malformed date is counted in Skipped and otherwise ignored.
func SumByPeriod[T models.Dated](records []T, r DateRange) PeriodTotals {
	out := PeriodTotals{Totals: map[string]decimal.Decimal{}}
	for _, rec := range records {
		t := rec.GetTransactionDate()
		if !validDate(t) {
			out.Skipped++
			continue
		}
		if !r.Contains(t) {
			continue
		}
		label := models.PeriodLabel(t)
		out.Totals[label] = out.Totals[label].Add(rec.GetAmount())
	}
	return out
}

// YearTotal sums the records dated within year in the billing timezone.
func YearTotal[T models.Dated](records []T, year int) (decimal.Decimal, int) {
	total := decimal.Zero
	skipped := 0
	for _, rec := range records {
		t := rec.GetTransactionDate()
		if !validDate(t) {
			skipped++
			continue
		}
		if models.PeriodOf(t).Year == year {
			total = total.Add(rec.GetAmount())
		}
	}
	return total, skipped
}

// ExpenseSource is the expense ledger reports subtract from contributions.
type ExpenseSource interface {
	ExpensesBetween(ctx context.Context, from, to time.Time) ([]*models.Expense, error)
}

type DBExpenseSource struct {
	db *gorm.DB
}

func NewDBExpenseSource(db *gorm.DB) *DBExpenseSource {
	return &DBExpenseSource{db: db}
}

func (s *DBExpenseSource) ExpensesBetween(ctx context.Context, from, to time.Time) ([]*models.Expense, error) {
	return models.ListExpensesBetween(ctx, s.db, from, to)
}

type MonthlyRow struct {
	Period        string          `json:"period"`
	Contributions decimal.Decimal `json:"contributions"`
	Expenses      decimal.Decimal `json:"expenses"`
	Net           decimal.Decimal `json:"net"`
}

type MonthlyReport struct {
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	Rows               []MonthlyRow    `json:"rows"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	TotalExpenses      decimal.Decimal `json:"total_expenses"`
	Net                decimal.Decimal `json:"net"`
	SkippedRecords     int             `json:"skipped_records"`
}

type YearSummary struct {
	Year           int             `json:"year"`
	Contributions  decimal.Decimal `json:"contributions"`
	Expenses       decimal.Decimal `json:"expenses"`
	Net            decimal.Decimal `json:"net"`
	SkippedRecords int             `json:"skipped_records"`
}

// FinancialAggregator builds read-only rollups of the ledger and the expense source.
type FinancialAggregator struct {
	db       *gorm.DB
	expenses ExpenseSource
	logger   *logrus.Logger
}

func NewFinancialAggregator(db *gorm.DB, expenses ExpenseSource) *FinancialAggregator {
	if expenses == nil {
		expenses = NewDBExpenseSource(db)
	}
	return &FinancialAggregator{db: db, expenses: expenses, logger: config.GetLogger()}
}

// MonthlyReport has one row per period from the month of from through the month of to, zero-filled.
func (a *FinancialAggregator) MonthlyReport(ctx context.Context, from, to time.Time) (*MonthlyReport, error) {
	if to.Before(from) {
		return nil, models.NewValidationError("to", "must not be before from")
	}
	r := PeriodRange(from, to)

	contributions, err := models.ListContributionsBetween(ctx, a.db, r.From, r.To)
	if err != nil {
		config.LogError(a.logger, "financialReport.go", "MonthlyReport", "ListContributionsBetween", r, err)
		return nil, err
	}
	expenses, err := a.expenses.ExpensesBetween(ctx, r.From, r.To)
	if err != nil {
		config.LogError(a.logger, "financialReport.go", "MonthlyReport", "ExpensesBetween", r, err)
		return nil, err
	}
	income := SumByPeriod(contributions, r)
	spending := SumByPeriod(expenses, r)

	report := &MonthlyReport{
		From:               r.From,
		To:                 r.To,
		TotalContributions: decimal.Zero,
		TotalExpenses:      decimal.Zero,
		SkippedRecords:     income.Skipped + spending.Skipped,
	}
	for _, p := range models.PeriodsBetween(from, to) {
		label := p.Label()
		row := MonthlyRow{
			Period:        label,
			Contributions: income.Totals[label],
			Expenses:      spending.Totals[label],
		}
		row.Net = row.Contributions.Sub(row.Expenses)
		report.Rows = append(report.Rows, row)
		report.TotalContributions = report.TotalContributions.Add(row.Contributions)
		report.TotalExpenses = report.TotalExpenses.Add(row.Expenses)
	}
	report.Net = report.TotalContributions.Sub(report.TotalExpenses)
	return report, nil
}

func (a *FinancialAggregator) YearTotal(ctx context.Context, year int) (*YearSummary, error) {
	if year < minValidYear {
		return nil, models.NewValidationError("year", fmt.Sprintf("must be %d or later", minValidYear))
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, models.PeriodLocation())
	end := start.AddDate(1, 0, 0)

	contributions, err := models.ListContributionsBetween(ctx, a.db, start, end)
	if err != nil {
		return nil, err
	}
	expenses, err := a.expenses.ExpensesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	income, skippedIncome := YearTotal(contributions, year)
	spending, skippedSpending := YearTotal(expenses, year)
	return &YearSummary{
		Year:           year,
		Contributions:  income,
		Expenses:       spending,
		Net:            income.Sub(spending),
		SkippedRecords: skippedIncome + skippedSpending,
	}, nil
}

const reportSheet = "Sheet1"

// WriteMonthlyReportXLSX renders the report as a single-sheet workbook.
func WriteMonthlyReportXLSX(w io.Writer, report *MonthlyReport) error {
	f := excelize.NewFile()
	defer f.Close()

	headings := []string{"Period", "Contributions", "Expenses", "Net"}
	col := 'A'
	for _, h := range headings {
		if err := f.SetCellValue(reportSheet, string(col)+"1", h); err != nil {
			return err
		}
		col++
	}

	rowNo := 2
	for _, row := range report.Rows {
		values := []interface{}{row.Period, row.Contributions.InexactFloat64(), row.Expenses.InexactFloat64(), row.Net.InexactFloat64()}
		col := 'A'
		for _, value := range values {
			if err := f.SetCellValue(reportSheet, string(col)+fmt.Sprint(rowNo), value); err != nil {
				return err
			}
			col++
		}
		rowNo++
	}
	totals := []interface{}{"Total", report.TotalContributions.InexactFloat64(), report.TotalExpenses.InexactFloat64(), report.Net.InexactFloat64()}
	col = 'A'
	for _, value := range totals {
		if err := f.SetCellValue(reportSheet, string(col)+fmt.Sprint(rowNo), value); err != nil {
			return err
		}
		col++
	}
	return f.Write(w)
}
