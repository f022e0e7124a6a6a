// backend/src/services/irr_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/username/wealthvisor/backend/src/irr"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
)

const dateLayout = "2006-01-02"

type irrServiceImpl struct {
	activities ActivityStore
	valuations ValuationStore
	portfolios PortfolioStore
	irrStore   IRRStore
	cache      *IRRCache
}

// NewIRRService constructs the fund-level IRR calculators with their data
// stores and the shared calculation cache.
func NewIRRService(
	activities ActivityStore,
	valuations ValuationStore,
	portfolios PortfolioStore,
	irrStore IRRStore,
	cache *IRRCache,
) IRRService {
	return &irrServiceImpl{
		activities: activities,
		valuations: valuations,
		portfolios: portfolios,
		irrStore:   irrStore,
		cache:      cache,
	}
}

func failedResult(fundIDs []int64, date string, reason string) IRRCalculationResult {
	return IRRCalculationResult{
		Success: false,
		Reason:  reason,
		FundIDs: fundIDs,
		Date:    date,
	}
}

func (s *irrServiceImpl) CalculateSingleFundIRR(ctx context.Context, fundID int64, asOf *time.Time) (IRRCalculationResult, error) {
	log := logger.FromContext(ctx)

	fund, err := s.portfolios.GetFund(fundID)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching fund %d: %w", fundID, err)
	}
	if fund == nil {
		return IRRCalculationResult{}, fmt.Errorf("%w: id %d", ErrFundNotFound, fundID)
	}

	fundIDs := []int64{fundID}
	calcDate, dateKey, resolved, err := s.resolveCalculationDate(fundIDs, asOf)
	if err != nil {
		return IRRCalculationResult{}, err
	}
	if !resolved {
		return failedResult(fundIDs, "", "no valuations found for fund"), nil
	}
	dateStr := calcDate.Format(dateLayout)

	valuation, err := s.valuations.FetchLatestValuation(fundID, calcDate)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching valuation for fund %d: %w", fundID, err)
	}
	if valuation != nil && valuation.Amount < 0 {
		return failedResult(fundIDs, dateStr, "cannot calculate IRR for negative valuation"), nil
	}

	events, err := s.activities.FetchActivities(fundID, calcDate)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching activities for fund %d: %w", fundID, err)
	}
	if len(events) == 0 {
		result := IRRCalculationResult{
			Success: true,
			FundIDs: fundIDs,
			Date:    dateStr,
			Note:    "no activities recorded; IRR reported as 0%",
		}
		if err := s.persistFundIRR(fundID, calcDate, result.IRRPercent, valuation); err != nil {
			return IRRCalculationResult{}, err
		}
		return result, nil
	}

	valuationSnapshot := map[int64]float64{}
	if valuation != nil {
		valuationSnapshot[fundID] = valuation.Amount
	}

	vector, err := irr.Aggregate(events, valuation)
	if err != nil {
		log.Info("Cash flow aggregation failed", "fundID", fundID, "date", dateStr, "error", err)
		return failedResult(fundIDs, dateStr, err.Error()), nil
	}

	if cached, found := s.cache.Get(fundIDs, dateKey, vector, valuationSnapshot); found {
		log.Debug("IRR cache hit", "fundID", fundID, "date", dateKey)
		return cached, nil
	}

	result, solveErr := s.solveVector(ctx, fundIDs, dateStr, vector)
	if solveErr != nil {
		return failedResult(fundIDs, dateStr, solveErr.Error()), nil
	}

	if err := s.persistFundIRR(fundID, calcDate, result.IRRPercent, valuation); err != nil {
		return IRRCalculationResult{}, err
	}
	s.cache.Set(fundIDs, dateKey, vector, valuationSnapshot, result)
	return result, nil
}

func (s *irrServiceImpl) CalculateGroupIRR(ctx context.Context, fundIDs []int64, asOf *time.Time) (IRRCalculationResult, error) {
	log := logger.FromContext(ctx)

	if len(fundIDs) == 0 {
		return failedResult(nil, "", "no funds supplied"), nil
	}
	for _, fundID := range fundIDs {
		fund, err := s.portfolios.GetFund(fundID)
		if err != nil {
			return IRRCalculationResult{}, fmt.Errorf("fetching fund %d: %w", fundID, err)
		}
		if fund == nil {
			return IRRCalculationResult{}, fmt.Errorf("%w: id %d", ErrFundNotFound, fundID)
		}
	}

	calcDate, dateKey, resolved, err := s.resolveCalculationDate(fundIDs, asOf)
	if err != nil {
		return IRRCalculationResult{}, err
	}
	if !resolved {
		return failedResult(fundIDs, "", "no valuations found for funds"), nil
	}
	dateStr := calcDate.Format(dateLayout)

	// Pool the group into one synthetic fund: sum valuations, merge all
	// activities. Funds with no valuation are excluded from the snapshot
	// but contribute zero to the pooled total.
	valuationSnapshot := map[int64]float64{}
	var pooledTotal float64
	for _, fundID := range fundIDs {
		valuation, err := s.valuations.FetchLatestValuation(fundID, calcDate)
		if err != nil {
			return IRRCalculationResult{}, fmt.Errorf("fetching valuation for fund %d: %w", fundID, err)
		}
		if valuation == nil {
			continue
		}
		if valuation.Amount < 0 {
			return failedResult(fundIDs, dateStr,
				fmt.Sprintf("cannot calculate IRR for negative valuation (fund %d)", fundID)), nil
		}
		valuationSnapshot[fundID] = valuation.Amount
		pooledTotal += valuation.Amount
	}

	events, err := s.activities.FetchActivitiesForFunds(fundIDs, calcDate)
	if err != nil {
		return IRRCalculationResult{}, fmt.Errorf("fetching activities for funds %v: %w", fundIDs, err)
	}
	if len(events) == 0 {
		return IRRCalculationResult{
			Success: true,
			FundIDs: fundIDs,
			Date:    dateStr,
			Note:    "no activities recorded; IRR reported as 0%",
		}, nil
	}

	var pooledValuation *models.ValuationPoint
	if len(valuationSnapshot) > 0 {
		pooledValuation = &models.ValuationPoint{Date: calcDate, Amount: pooledTotal}
	}

	vector, err := irr.Aggregate(events, pooledValuation)
	if err != nil {
		log.Info("Cash flow aggregation failed for fund group", "fundIDs", fundIDs, "date", dateStr, "error", err)
		return failedResult(fundIDs, dateStr, err.Error()), nil
	}

	if cached, found := s.cache.Get(fundIDs, dateKey, vector, valuationSnapshot); found {
		log.Debug("IRR cache hit for fund group", "fundIDs", fundIDs, "date", dateKey)
		return cached, nil
	}

	result, solveErr := s.solveVector(ctx, fundIDs, dateStr, vector)
	if solveErr != nil {
		return failedResult(fundIDs, dateStr, solveErr.Error()), nil
	}

	s.cache.Set(fundIDs, dateKey, vector, valuationSnapshot, result)
	return result, nil
}

// resolveCalculationDate picks the as-of date and the cache date key. When
// no explicit date is given, the latest valuation date across the funds is
// used and the cache key carries the "latest" sentinel.
func (s *irrServiceImpl) resolveCalculationDate(fundIDs []int64, asOf *time.Time) (time.Time, string, bool, error) {
	if asOf != nil {
		return *asOf, asOf.Format(dateLayout), true, nil
	}
	latest, err := s.valuations.LatestValuationDate(fundIDs)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("resolving latest valuation date for funds %v: %w", fundIDs, err)
	}
	if latest == nil {
		return time.Time{}, "", false, nil
	}
	return *latest, latestDateKey, true, nil
}

// solveVector runs the solver over an aggregated vector and shapes the
// service-level result. Solver failures are returned as errors for the
// caller to fold into a structured failure; the offending vector is logged
// for diagnosis, never replaced with a fabricated rate.
func (s *irrServiceImpl) solveVector(ctx context.Context, fundIDs []int64, dateStr string, vector irr.MonthlyCashFlowVector) (IRRCalculationResult, error) {
	log := logger.FromContext(ctx)

	solved, err := irr.Solve(vector)
	if err != nil {
		if errors.Is(err, irr.ErrNoSolution) {
			log.Error("IRR solver found no solution",
				"fundIDs", fundIDs, "date", dateStr, "cashFlowCount", len(vector), "vector", vector)
		}
		return IRRCalculationResult{}, err
	}
	if solved.ExtremeRate {
		log.Warn("Extreme monthly IRR calculated",
			"fundIDs", fundIDs, "date", dateStr, "monthlyRate", solved.PeriodicRate)
	}

	return IRRCalculationResult{
		Success:        true,
		FundIDs:        fundIDs,
		Date:           dateStr,
		IRRPercent:     solved.AnnualizedRate * 100,
		PeriodicRate:   solved.PeriodicRate,
		AnnualizedRate: solved.AnnualizedRate,
		DaysInPeriod:   solved.DaysInPeriod,
		CashFlowCount:  len(vector),
		PeriodStart:    solved.FirstDate.Format(dateLayout),
		PeriodEnd:      solved.LastDate.Format(dateLayout),
		IsSimpleReturn: solved.IsSimpleReturn,
	}, nil
}

func (s *irrServiceImpl) persistFundIRR(fundID int64, date time.Time, irrPercent float64, valuation *models.ValuationPoint) error {
	var valuationRef *int64
	if valuation != nil && valuation.ID > 0 {
		valuationRef = &valuation.ID
	}
	if err := s.irrStore.UpsertFundIRR(fundID, date, irrPercent, valuationRef); err != nil {
		return fmt.Errorf("persisting IRR for fund %d: %w", fundID, err)
	}
	return nil
}
