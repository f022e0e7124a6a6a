// backend/src/services/interfaces.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/username/wealthvisor/backend/src/models"
)

// Common service errors. Calculation-level failures (degenerate cash flows,
// solver non-convergence, negative valuations) are reported through
// IRRCalculationResult instead so batch callers can keep going.
var (
	ErrFundNotFound      = errors.New("fund not found")
	ErrPortfolioNotFound = errors.New("portfolio not found")
)

// IRRCalculationResult is the structured outcome of an IRR calculation.
// Rates are decimal fractions; IRRPercent is the percentage form persisted
// and exposed over the API.
type IRRCalculationResult struct {
	Success        bool    `json:"success"`
	Reason         string  `json:"reason,omitempty"`
	FundIDs        []int64 `json:"fund_ids"`
	Date           string  `json:"date"` // calculation date, YYYY-MM-DD
	IRRPercent     float64 `json:"irr_percent"`
	PeriodicRate   float64 `json:"periodic_rate"`
	AnnualizedRate float64 `json:"annualized_rate"`
	DaysInPeriod   int     `json:"days_in_period"`
	CashFlowCount  int     `json:"cash_flow_count"`
	PeriodStart    string  `json:"period_start,omitempty"`
	PeriodEnd      string  `json:"period_end,omitempty"`
	IsSimpleReturn bool    `json:"is_simple_return,omitempty"`
	CacheHit       bool    `json:"cache_hit,omitempty"`
	Note           string  `json:"note,omitempty"`
}

// ActivityStore provides read access to the holding activity log.
type ActivityStore interface {
	// FetchActivities returns all activities for a fund up to and including
	// the cutoff date, as typed cash-flow events.
	FetchActivities(fundID int64, upto time.Time) ([]models.CashFlowEvent, error)
	// FetchActivitiesForFunds pools activities across several funds.
	FetchActivitiesForFunds(fundIDs []int64, upto time.Time) ([]models.CashFlowEvent, error)
}

// ValuationStore provides access to fund and portfolio valuations.
type ValuationStore interface {
	// FetchLatestValuation returns the most recent valuation for a fund on
	// or before asOf, or nil when none exists.
	FetchLatestValuation(fundID int64, asOf time.Time) (*models.ValuationPoint, error)
	// FetchValuationOnDate returns the valuation recorded on the exact
	// date, or nil.
	FetchValuationOnDate(fundID int64, date time.Time) (*models.ValuationPoint, error)
	// FetchValuationHistory returns all valuations for a fund, newest first.
	FetchValuationHistory(fundID int64) ([]models.ValuationPoint, error)
	// LatestValuationDate returns the most recent valuation date across the
	// given funds, or nil when none of them has a valuation.
	LatestValuationDate(fundIDs []int64) (*time.Time, error)
	HasValuationOnDate(fundID int64, date time.Time) (bool, error)
	// UpsertPortfolioValuation writes the portfolio-level valuation for a
	// date and returns the row id.
	UpsertPortfolioValuation(portfolioID int64, date time.Time, valuation float64) (int64, error)
	DeletePortfolioValuation(portfolioID int64, date time.Time) error
}

// PortfolioStore provides read access to portfolios and their funds.
type PortfolioStore interface {
	// GetFund returns the fund or nil when it does not exist.
	GetFund(fundID int64) (*models.PortfolioFund, error)
	// GetPortfolio returns the portfolio or nil when it does not exist.
	GetPortfolio(portfolioID int64) (*models.Portfolio, error)
	FetchPortfolioFunds(portfolioID int64) ([]models.PortfolioFund, error)
}

// IRRStore persists calculated IRR results.
type IRRStore interface {
	// UpsertFundIRR updates the row for (fundID, date) if present, else
	// inserts one. Last writer wins under concurrent recalculation.
	UpsertFundIRR(fundID int64, date time.Time, irrPercent float64, fundValuationID *int64) error
	UpsertPortfolioIRR(portfolioID int64, date time.Time, irrPercent float64, portfolioValuationID *int64) error
	DeletePortfolioIRR(portfolioID int64, date time.Time) error
	// FetchLatestPortfolioIRR returns the most recent persisted portfolio
	// IRR row, or nil.
	FetchLatestPortfolioIRR(portfolioID int64) (*models.PortfolioIRRValue, error)
}

// IRRService exposes the fund-level IRR calculators to the route layer.
type IRRService interface {
	// CalculateSingleFundIRR computes, persists and caches the IRR for one
	// fund. A nil asOf resolves to the fund's latest valuation date.
	CalculateSingleFundIRR(ctx context.Context, fundID int64, asOf *time.Time) (IRRCalculationResult, error)
	// CalculateGroupIRR treats the funds as one synthetic holding by
	// pooling activities and summing valuations. The result is cached but
	// not persisted; portfolio orchestration owns the portfolio-level write.
	CalculateGroupIRR(ctx context.Context, fundIDs []int64, asOf *time.Time) (IRRCalculationResult, error)
}

// ValuationService owns the common-valuation-date rule and the
// recalculation cascades triggered by activity and valuation writes.
type ValuationService interface {
	// ShouldRecalculatePortfolioIRR reports whether every fund in the
	// portfolio has a determinable value on the date.
	ShouldRecalculatePortfolioIRR(ctx context.Context, portfolioID int64, date time.Time) (bool, error)
	// RecalculatePortfolioIRR computes and persists the portfolio-level IRR
	// and valuation for a common valuation date.
	RecalculatePortfolioIRR(ctx context.Context, portfolioID int64, asOf *time.Time) (IRRCalculationResult, error)
	// HandleFundDataChanged runs the invalidate-and-recalculate cascade
	// after an activity or valuation write touching the fund.
	HandleFundDataChanged(ctx context.Context, fundID int64, date time.Time) error
	// HandleFundValuationDeleted re-evaluates the common date a deleted
	// valuation participated in and cleans up dependent portfolio rows.
	HandleFundValuationDeleted(ctx context.Context, fundID int64, date time.Time) error
}
