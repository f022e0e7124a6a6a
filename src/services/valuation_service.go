// backend/src/services/valuation_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
)

type valuationServiceImpl struct {
	portfolios PortfolioStore
	valuations ValuationStore
	irrStore   IRRStore
	irrService IRRService
	cache      *IRRCache
	summaries  *SummaryService
}

// NewValuationService constructs the cascade/common-date orchestration. The
// summary service may be nil (no report cache to invalidate).
func NewValuationService(
	portfolios PortfolioStore,
	valuations ValuationStore,
	irrStore IRRStore,
	irrService IRRService,
	cache *IRRCache,
	summaries *SummaryService,
) ValuationService {
	return &valuationServiceImpl{
		portfolios: portfolios,
		valuations: valuations,
		irrStore:   irrStore,
		irrService: irrService,
		cache:      cache,
		summaries:  summaries,
	}
}

// ShouldRecalculatePortfolioIRR applies the common-valuation-date rule: a
// portfolio IRR is meaningful only when every fund has a determinable value
// on the date. Active funds need an actual valuation row on that exact
// date. Inactive funds are satisfied by an actual row, or by the date
// falling after their last-ever valuation (an exited fund holds zero from
// that point onward, which counts as a value).
func (s *valuationServiceImpl) ShouldRecalculatePortfolioIRR(ctx context.Context, portfolioID int64, date time.Time) (bool, error) {
	funds, err := s.portfolios.FetchPortfolioFunds(portfolioID)
	if err != nil {
		return false, fmt.Errorf("fetching funds for portfolio %d: %w", portfolioID, err)
	}
	if len(funds) == 0 {
		return false, nil
	}

	for _, fund := range funds {
		has, err := s.valuations.HasValuationOnDate(fund.ID, date)
		if err != nil {
			return false, fmt.Errorf("checking valuation for fund %d: %w", fund.ID, err)
		}
		if has {
			continue
		}
		if fund.Status == models.FundStatusActive {
			return false, nil
		}
		history, err := s.valuations.FetchValuationHistory(fund.ID)
		if err != nil {
			return false, fmt.Errorf("fetching valuation history for fund %d: %w", fund.ID, err)
		}
		if len(history) == 0 {
			// Inactive with no valuations ever: implied zero throughout.
			continue
		}
		if !date.After(history[0].Date) {
			return false, nil
		}
	}
	return true, nil
}

func (s *valuationServiceImpl) RecalculatePortfolioIRR(ctx context.Context, portfolioID int64, asOf *time.Time) (IRRCalculationResult, error) {
	log := logger.FromContext(ctx)

	portfolio, err := s.portfolios.GetPortfolio(portfolioID)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching portfolio %d: %w", portfolioID, err)
	}
	if portfolio == nil {
		return IRRCalculationResult{}, fmt.Errorf("%w: id %d", ErrPortfolioNotFound, portfolioID)
	}

	funds, err := s.portfolios.FetchPortfolioFunds(portfolioID)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching funds for portfolio %d: %w", portfolioID, err)
	}
	if len(funds) == 0 {
		return failedResult(nil, "", "portfolio has no funds"), nil
	}
	fundIDs := make([]int64, 0, len(funds))
	for _, fund := range funds {
		fundIDs = append(fundIDs, fund.ID)
	}

	calcDate := time.Time{}
	if asOf != nil {
		calcDate = *asOf
	} else {
		latest, err := s.valuations.LatestValuationDate(fundIDs)
		if err != nil {
			return IRRCalculationResult{}, fmt.Errorf("resolving latest valuation date for portfolio %d: %w", portfolioID, err)
		}
		if latest == nil {
			return failedResult(fundIDs, "", "no valuations found for portfolio"), nil
		}
		calcDate = *latest
	}
	dateStr := calcDate.Format(dateLayout)

	common, err := s.ShouldRecalculatePortfolioIRR(ctx, portfolioID, calcDate)
	if err != nil {
		return IRRCalculationResult{}, err
	}
	if !common {
		return failedResult(fundIDs, dateStr, "not a common valuation date for all funds in portfolio"), nil
	}

	result, err := s.irrService.CalculateGroupIRR(ctx, fundIDs, &calcDate)
	if err != nil {
		return IRRCalculationResult{}, err
	}
	if !result.Success {
		return result, nil
	}

	// Portfolio valuation for the common date: sum of the fund valuations
	// recorded on that exact date. Inactive funds past their last valuation
	// contribute zero.
	var total float64
	for _, fundID := range fundIDs {
		valuation, err := s.valuations.FetchValuationOnDate(fundID, calcDate)
		if err != nil {
			return IRRCalculationResult{}, fmt.Errorf("fetching valuation for fund %d on %s: %w", fundID, dateStr, err)
		}
		if valuation != nil {
			total += valuation.Amount
		}
	}

	valuationID, err := s.valuations.UpsertPortfolioValuation(portfolioID, calcDate, total)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("persisting portfolio valuation for portfolio %d: %w", portfolioID, err)
	}
	if err := s.irrStore.UpsertPortfolioIRR(portfolioID, calcDate, result.IRRPercent, &valuationID); err != nil {
		return IRRCalculationResult{}, fmt.Errorf("persisting portfolio IRR for portfolio %d: %w", portfolioID, err)
	}

	log.Info("Portfolio IRR recalculated",
		"portfolioID", portfolioID, "date", dateStr, "irrPercent", result.IRRPercent, "valuation", total)
	return result, nil
}

// HandleFundDataChanged is the write-path cascade: invalidate caches for
// the touched fund, recalculate its IRR, and recompute the portfolio IRR
// when the written date is (still) a common valuation date.
func (s *valuationServiceImpl) HandleFundDataChanged(ctx context.Context, fundID int64, date time.Time) error {
	log := logger.FromContext(ctx)

	removed := s.cache.Invalidate([]int64{fundID})
	if removed > 0 {
		log.Debug("IRR cache entries invalidated", "fundID", fundID, "removed", removed)
	}

	fund, err := s.portfolios.GetFund(fundID)
	if err != nil {
		return fmt.Errorf("fetching fund %d: %w", fundID, err)
	}
	if fund == nil {
		return fmt.Errorf("%w: id %d", ErrFundNotFound, fundID)
	}
	if s.summaries != nil {
		s.summaries.InvalidatePortfolio(fund.PortfolioID)
	}

	result, err := s.irrService.CalculateSingleFundIRR(ctx, fundID, nil)
	if err != nil {
		return fmt.Errorf("recalculating IRR for fund %d: %w", fundID, err)
	}
	if !result.Success {
		log.Info("Fund IRR not recalculated after data change", "fundID", fundID, "reason", result.Reason)
	}

	common, err := s.ShouldRecalculatePortfolioIRR(ctx, fund.PortfolioID, date)
	if err != nil {
		return err
	}
	if common {
		pResult, err := s.RecalculatePortfolioIRR(ctx, fund.PortfolioID, &date)
		if err != nil {
			return err
		}
		if !pResult.Success {
			log.Info("Portfolio IRR not recalculated after data change",
				"portfolioID", fund.PortfolioID, "reason", pResult.Reason)
		}
	}
	return nil
}

// HandleFundValuationDeleted re-evaluates the common date the deleted
// valuation participated in. A broken common date cascades: the dependent
// portfolio IRR and portfolio valuation rows for that date are deleted.
// Either way the fund's own IRR is recalculated afterwards.
func (s *valuationServiceImpl) HandleFundValuationDeleted(ctx context.Context, fundID int64, date time.Time) error {
	log := logger.FromContext(ctx)

	s.cache.Invalidate([]int64{fundID})

	fund, err := s.portfolios.GetFund(fundID)
	if err != nil {
		return fmt.Errorf("fetching fund %d: %w", fundID, err)
	}
	if fund == nil {
		return fmt.Errorf("%w: id %d", ErrFundNotFound, fundID)
	}
	if s.summaries != nil {
		s.summaries.InvalidatePortfolio(fund.PortfolioID)
	}

	dateStr := date.Format(dateLayout)
	common, err := s.ShouldRecalculatePortfolioIRR(ctx, fund.PortfolioID, date)
	if err != nil {
		return err
	}
	if !common {
		log.Info("Common valuation date broken by deletion; removing dependent portfolio rows",
			"portfolioID", fund.PortfolioID, "fundID", fundID, "date", dateStr)
		if err := s.irrStore.DeletePortfolioIRR(fund.PortfolioID, date); err != nil {
			return fmt.Errorf("deleting portfolio IRR for portfolio %d on %s: %w", fund.PortfolioID, dateStr, err)
		}
		if err := s.valuations.DeletePortfolioValuation(fund.PortfolioID, date); err != nil {
			return fmt.Errorf("deleting portfolio valuation for portfolio %d on %s: %w", fund.PortfolioID, dateStr, err)
		}
	} else {
		pResult, err := s.RecalculatePortfolioIRR(ctx, fund.PortfolioID, &date)
		if err != nil {
			return err
		}
		if !pResult.Success {
			log.Info("Portfolio IRR not recalculated after valuation deletion",
				"portfolioID", fund.PortfolioID, "reason", pResult.Reason)
		}
	}

	result, err := s.irrService.CalculateSingleFundIRR(ctx, fundID, nil)
	if err != nil {
		return fmt.Errorf("recalculating IRR for fund %d: %w", fundID, err)
	}
	if !result.Success {
		log.Info("Fund IRR not recalculated after valuation deletion", "fundID", fundID, "reason", result.Reason)
	}
	return nil
}
