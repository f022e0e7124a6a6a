package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/wealthvisor/backend/src/models"
)

func newValuationFixture() (*fixture, ValuationService) {
	f := newFixture()
	vs := NewValuationService(f.portfolios, f.valuations, f.irrStore, f.irrService, f.cache, nil)
	return f, vs
}

func TestShouldRecalculatePortfolioIRR(t *testing.T) {
	commonDate := day(2024, time.June, 30)

	t.Run("empty portfolio", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.portfolios.portfolios[10] = models.Portfolio{ID: 10}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("all active funds valued on date", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusActive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}
		f.valuations.valuations[2] = []models.ValuationPoint{{Date: commonDate, Amount: 200}}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("active fund missing valuation", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusActive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("inactive fund past its last valuation", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusInactive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}
		// Fund 2 exited in March; June counts as an implied zero.
		f.valuations.valuations[2] = []models.ValuationPoint{{Date: day(2024, time.March, 31), Amount: 150}}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("inactive fund before its last valuation", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusInactive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}
		// Fund 2's history extends beyond the date but has no row on it, so
		// its value on the date is unknown.
		f.valuations.valuations[2] = []models.ValuationPoint{
			{Date: day(2024, time.March, 31), Amount: 150},
			{Date: day(2024, time.September, 30), Amount: 120},
		}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("inactive fund with no valuations ever", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusInactive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("inactive fund valued exactly on its last date", func(t *testing.T) {
		f, vs := newValuationFixture()
		f.addFund(1, 10, models.FundStatusActive)
		f.addFund(2, 10, models.FundStatusInactive)
		f.valuations.valuations[1] = []models.ValuationPoint{{Date: commonDate, Amount: 100}}
		f.valuations.valuations[2] = []models.ValuationPoint{{Date: commonDate, Amount: 80}}

		ok, err := vs.ShouldRecalculatePortfolioIRR(context.Background(), 10, commonDate)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRecalculatePortfolioIRRUnknownPortfolio(t *testing.T) {
	_, vs := newValuationFixture()
	_, err := vs.RecalculatePortfolioIRR(context.Background(), 99, nil)
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestRecalculatePortfolioIRRPersistsValuationAndIRR(t *testing.T) {
	f, vs := newValuationFixture()
	commonDate := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 600, ActivityType: models.ActivityInvestment},
	}
	f.activities.events[2] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 20), Amount: 400, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: commonDate, Amount: 700}}
	f.valuations.valuations[2] = []models.ValuationPoint{{ID: 6, Date: commonDate, Amount: 500}}

	result, err := vs.RecalculatePortfolioIRR(context.Background(), 10, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.InDelta(t, 37.02, result.IRRPercent, 0.1)

	require.Len(t, f.valuations.portfolioUpserts, 1)
	assert.Equal(t, int64(10), f.valuations.portfolioUpserts[0].PortfolioID)
	assert.Equal(t, commonDate, f.valuations.portfolioUpserts[0].Date)
	assert.Equal(t, 1200.0, f.valuations.portfolioUpserts[0].Valuation)

	require.Len(t, f.irrStore.portfolioUpserts, 1)
	assert.Equal(t, int64(10), f.irrStore.portfolioUpserts[0].ID)
	assert.InDelta(t, result.IRRPercent, f.irrStore.portfolioUpserts[0].IRRPercent, 1e-9)
}

func TestRecalculatePortfolioIRRNotCommonDate(t *testing.T) {
	f, vs := newValuationFixture()
	commonDate := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: commonDate, Amount: 700}}
	// Fund 2 is active but only valued in June.
	f.valuations.valuations[2] = []models.ValuationPoint{{ID: 6, Date: day(2024, time.June, 1), Amount: 500}}

	result, err := vs.RecalculatePortfolioIRR(context.Background(), 10, &commonDate)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "common valuation date")
	assert.Empty(t, f.valuations.portfolioUpserts)
	assert.Empty(t, f.irrStore.portfolioUpserts)
}

func TestHandleFundDataChangedRecalculatesFundAndPortfolio(t *testing.T) {
	f, vs := newValuationFixture()
	commonDate := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: commonDate, Amount: 1200}}

	// Warm the cache so invalidation is observable.
	_, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Stats().Total)

	err = vs.HandleFundDataChanged(context.Background(), 1, commonDate)
	require.NoError(t, err)

	// Fund IRR recalculated (initial warm-up plus the cascade's write) and
	// the portfolio IRR written for the common date.
	assert.GreaterOrEqual(t, len(f.irrStore.fundUpserts), 2)
	require.Len(t, f.irrStore.portfolioUpserts, 1)
	assert.Equal(t, int64(10), f.irrStore.portfolioUpserts[0].ID)
}

func TestHandleFundDataChangedUnknownFund(t *testing.T) {
	_, vs := newValuationFixture()
	err := vs.HandleFundDataChanged(context.Background(), 99, day(2024, time.July, 1))
	assert.ErrorIs(t, err, ErrFundNotFound)
}

func TestHandleFundDataChangedSkipsPortfolioWhenNotCommon(t *testing.T) {
	f, vs := newValuationFixture()
	date := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: date, Amount: 1200}}
	// Fund 2 has no valuation on the date, so it is not common.

	err := vs.HandleFundDataChanged(context.Background(), 1, date)
	require.NoError(t, err)
	assert.Empty(t, f.irrStore.portfolioUpserts)
}

func TestHandleFundValuationDeletedBreaksCommonDate(t *testing.T) {
	f, vs := newValuationFixture()
	date := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	// Fund 1's valuation for the date was just deleted; fund 2 still has
	// one, so the date is no longer common and dependent rows must go.
	f.valuations.valuations[2] = []models.ValuationPoint{{ID: 6, Date: date, Amount: 500}}

	err := vs.HandleFundValuationDeleted(context.Background(), 1, date)
	require.NoError(t, err)

	require.Len(t, f.irrStore.portfolioDeletes, 1)
	assert.Equal(t, int64(10), f.irrStore.portfolioDeletes[0].ID)
	assert.Equal(t, date, f.irrStore.portfolioDeletes[0].Date)

	require.Len(t, f.valuations.portfolioDeletes, 1)
	assert.Equal(t, int64(10), f.valuations.portfolioDeletes[0].PortfolioID)
	assert.Equal(t, date, f.valuations.portfolioDeletes[0].Date)
}

func TestHandleFundValuationDeletedStillCommon(t *testing.T) {
	f, vs := newValuationFixture()
	date := day(2024, time.July, 1)

	// Single-fund portfolio where the fund keeps a valuation on the date
	// (the deleted row belonged to another date entirely).
	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: date, Amount: 1200}}

	err := vs.HandleFundValuationDeleted(context.Background(), 1, date)
	require.NoError(t, err)

	assert.Empty(t, f.irrStore.portfolioDeletes)
	assert.Empty(t, f.valuations.portfolioDeletes)
	require.Len(t, f.irrStore.portfolioUpserts, 1)
	assert.Equal(t, int64(10), f.irrStore.portfolioUpserts[0].ID)
}

func TestHandleFundDataChangedInvalidatesCache(t *testing.T) {
	f, vs := newValuationFixture()
	commonDate := day(2024, time.July, 1)

	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: commonDate, Amount: 1200}}

	first, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	// New activity changes the inputs; the cascade must drop the stale
	// entry so the next calculation reflects the new flows.
	f.activities.events[1] = append(f.activities.events[1], models.CashFlowEvent{
		Date: day(2024, time.March, 10), Amount: 200, ActivityType: models.ActivityInvestment,
	})
	err = vs.HandleFundDataChanged(context.Background(), 1, day(2024, time.March, 10))
	require.NoError(t, err)

	recalculated, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.IRRPercent, recalculated.IRRPercent)
}
