// backend/src/services/summary_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
)

const (
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

const ckPortfolioSummary = "portfolio_summary:%d"

// PortfolioSummary is the cached aggregate view of one portfolio.
type PortfolioSummary struct {
	PortfolioID      int64    `json:"portfolio_id"`
	PortfolioName    string   `json:"portfolio_name"`
	FundCount        int      `json:"fund_count"`
	ActiveFundCount  int      `json:"active_fund_count"`
	TotalValuation   float64  `json:"total_valuation"`
	ValuationDate    string   `json:"valuation_date,omitempty"`
	LatestIRRPercent *float64 `json:"latest_irr_percent,omitempty"`
	IRRDate          string   `json:"irr_date,omitempty"`
}

// SummaryService serves portfolio report aggregates with a go-cache in
// front, invalidated by the same write paths that invalidate the IRR cache.
type SummaryService struct {
	portfolios  PortfolioStore
	valuations  ValuationStore
	irrStore    IRRStore
	reportCache *cache.Cache
}

func NewSummaryService(
	portfolios PortfolioStore,
	valuations ValuationStore,
	irrStore IRRStore,
	reportCache *cache.Cache,
) *SummaryService {
	return &SummaryService{
		portfolios:  portfolios,
		valuations:  valuations,
		irrStore:    irrStore,
		reportCache: reportCache,
	}
}

func (s *SummaryService) GetPortfolioSummary(ctx context.Context, portfolioID int64) (*PortfolioSummary, error) {
	cacheKey := fmt.Sprintf(ckPortfolioSummary, portfolioID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.(*PortfolioSummary), nil
	}

	portfolio, err := s.portfolios.GetPortfolio(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("fetching portfolio %d: %w", portfolioID, err)
	}
	if portfolio == nil {
		return nil, fmt.Errorf("%w: id %d", ErrPortfolioNotFound, portfolioID)
	}

	funds, err := s.portfolios.FetchPortfolioFunds(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("fetching funds for portfolio %d: %w", portfolioID, err)
	}

	summary := &PortfolioSummary{
		PortfolioID:   portfolioID,
		PortfolioName: portfolio.PortfolioName,
		FundCount:     len(funds),
	}

	var latestDate time.Time
	for _, fund := range funds {
		if fund.Status == models.FundStatusActive {
			summary.ActiveFundCount++
		}
		valuation, err := s.valuations.FetchLatestValuation(fund.ID, time.Now())
		if err != nil {
			return nil, fmt.Errorf("fetching valuation for fund %d: %w", fund.ID, err)
		}
		if valuation == nil {
			continue
		}
		summary.TotalValuation += valuation.Amount
		if valuation.Date.After(latestDate) {
			latestDate = valuation.Date
		}
	}
	if !latestDate.IsZero() {
		summary.ValuationDate = latestDate.Format(dateLayout)
	}

	latestIRR, err := s.irrStore.FetchLatestPortfolioIRR(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("fetching latest IRR for portfolio %d: %w", portfolioID, err)
	}
	if latestIRR != nil {
		summary.LatestIRRPercent = &latestIRR.IRRResult
		summary.IRRDate = latestIRR.Date
	}

	s.reportCache.Set(cacheKey, summary, DefaultCacheExpiration)
	logger.FromContext(ctx).Debug("Portfolio summary computed", "portfolioID", portfolioID)
	return summary, nil
}

// InvalidatePortfolio drops the cached summary for a portfolio. Called by
// the write paths alongside IRR cache invalidation.
func (s *SummaryService) InvalidatePortfolio(portfolioID int64) {
	s.reportCache.Delete(fmt.Sprintf(ckPortfolioSummary, portfolioID))
}
