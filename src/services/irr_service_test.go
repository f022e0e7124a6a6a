package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/wealthvisor/backend/src/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// In-memory store fakes. They mirror the SQL stores' contracts: missing rows
// come back as nil values, never as errors.

type fakeActivityStore struct {
	events map[int64][]models.CashFlowEvent
}

func (f *fakeActivityStore) FetchActivities(fundID int64, upto time.Time) ([]models.CashFlowEvent, error) {
	var out []models.CashFlowEvent
	for _, ev := range f.events[fundID] {
		if !ev.Date.After(upto) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeActivityStore) FetchActivitiesForFunds(fundIDs []int64, upto time.Time) ([]models.CashFlowEvent, error) {
	var out []models.CashFlowEvent
	for _, fundID := range fundIDs {
		events, _ := f.FetchActivities(fundID, upto)
		out = append(out, events...)
	}
	return out, nil
}

type portfolioValuationWrite struct {
	PortfolioID int64
	Date        time.Time
	Valuation   float64
}

type fakeValuationStore struct {
	valuations map[int64][]models.ValuationPoint

	portfolioUpserts []portfolioValuationWrite
	portfolioDeletes []portfolioValuationWrite
	nextID           int64
}

func (f *fakeValuationStore) FetchLatestValuation(fundID int64, asOf time.Time) (*models.ValuationPoint, error) {
	var latest *models.ValuationPoint
	for i := range f.valuations[fundID] {
		v := f.valuations[fundID][i]
		if v.Date.After(asOf) {
			continue
		}
		if latest == nil || v.Date.After(latest.Date) {
			latest = &v
		}
	}
	return latest, nil
}

func (f *fakeValuationStore) FetchValuationOnDate(fundID int64, date time.Time) (*models.ValuationPoint, error) {
	for i := range f.valuations[fundID] {
		if f.valuations[fundID][i].Date.Equal(date) {
			v := f.valuations[fundID][i]
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeValuationStore) FetchValuationHistory(fundID int64) ([]models.ValuationPoint, error) {
	history := append([]models.ValuationPoint(nil), f.valuations[fundID]...)
	for i := 0; i < len(history); i++ {
		for j := i + 1; j < len(history); j++ {
			if history[j].Date.After(history[i].Date) {
				history[i], history[j] = history[j], history[i]
			}
		}
	}
	return history, nil
}

func (f *fakeValuationStore) LatestValuationDate(fundIDs []int64) (*time.Time, error) {
	var latest *time.Time
	for _, fundID := range fundIDs {
		for _, v := range f.valuations[fundID] {
			d := v.Date
			if latest == nil || d.After(*latest) {
				latest = &d
			}
		}
	}
	return latest, nil
}

func (f *fakeValuationStore) HasValuationOnDate(fundID int64, date time.Time) (bool, error) {
	v, _ := f.FetchValuationOnDate(fundID, date)
	return v != nil, nil
}

func (f *fakeValuationStore) UpsertPortfolioValuation(portfolioID int64, date time.Time, valuation float64) (int64, error) {
	f.portfolioUpserts = append(f.portfolioUpserts, portfolioValuationWrite{portfolioID, date, valuation})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeValuationStore) DeletePortfolioValuation(portfolioID int64, date time.Time) error {
	f.portfolioDeletes = append(f.portfolioDeletes, portfolioValuationWrite{PortfolioID: portfolioID, Date: date})
	return nil
}

type fakePortfolioStore struct {
	funds      map[int64]models.PortfolioFund
	portfolios map[int64]models.Portfolio
}

func (f *fakePortfolioStore) GetFund(fundID int64) (*models.PortfolioFund, error) {
	if fund, ok := f.funds[fundID]; ok {
		return &fund, nil
	}
	return nil, nil
}

func (f *fakePortfolioStore) GetPortfolio(portfolioID int64) (*models.Portfolio, error) {
	if p, ok := f.portfolios[portfolioID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakePortfolioStore) FetchPortfolioFunds(portfolioID int64) ([]models.PortfolioFund, error) {
	var out []models.PortfolioFund
	for _, fund := range f.funds {
		if fund.PortfolioID == portfolioID {
			out = append(out, fund)
		}
	}
	return out, nil
}

type irrWrite struct {
	ID         int64
	Date       time.Time
	IRRPercent float64
}

type fakeIRRStore struct {
	fundUpserts      []irrWrite
	portfolioUpserts []irrWrite
	portfolioDeletes []irrWrite
}

func (f *fakeIRRStore) UpsertFundIRR(fundID int64, date time.Time, irrPercent float64, fundValuationID *int64) error {
	f.fundUpserts = append(f.fundUpserts, irrWrite{fundID, date, irrPercent})
	return nil
}

func (f *fakeIRRStore) UpsertPortfolioIRR(portfolioID int64, date time.Time, irrPercent float64, portfolioValuationID *int64) error {
	f.portfolioUpserts = append(f.portfolioUpserts, irrWrite{portfolioID, date, irrPercent})
	return nil
}

func (f *fakeIRRStore) DeletePortfolioIRR(portfolioID int64, date time.Time) error {
	f.portfolioDeletes = append(f.portfolioDeletes, irrWrite{ID: portfolioID, Date: date})
	return nil
}

func (f *fakeIRRStore) FetchLatestPortfolioIRR(portfolioID int64) (*models.PortfolioIRRValue, error) {
	return nil, nil
}

type fixture struct {
	activities *fakeActivityStore
	valuations *fakeValuationStore
	portfolios *fakePortfolioStore
	irrStore   *fakeIRRStore
	cache      *IRRCache
	irrService IRRService
}

func newFixture() *fixture {
	f := &fixture{
		activities: &fakeActivityStore{events: map[int64][]models.CashFlowEvent{}},
		valuations: &fakeValuationStore{valuations: map[int64][]models.ValuationPoint{}},
		portfolios: &fakePortfolioStore{
			funds:      map[int64]models.PortfolioFund{},
			portfolios: map[int64]models.Portfolio{},
		},
		irrStore: &fakeIRRStore{},
		cache:    NewIRRCache(time.Minute),
	}
	f.irrService = NewIRRService(f.activities, f.valuations, f.portfolios, f.irrStore, f.cache)
	return f
}

func (f *fixture) addFund(fundID, portfolioID int64, status string) {
	f.portfolios.funds[fundID] = models.PortfolioFund{
		ID:          fundID,
		PortfolioID: portfolioID,
		FundName:    "Fund",
		Status:      status,
	}
	if _, ok := f.portfolios.portfolios[portfolioID]; !ok {
		f.portfolios.portfolios[portfolioID] = models.Portfolio{ID: portfolioID, PortfolioName: "Portfolio"}
	}
}

func TestCalculateSingleFundIRRUnknownFund(t *testing.T) {
	f := newFixture()
	_, err := f.irrService.CalculateSingleFundIRR(context.Background(), 99, nil)
	assert.ErrorIs(t, err, ErrFundNotFound)
}

func TestCalculateSingleFundIRRNoValuations(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)

	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "no valuations")
}

func TestCalculateSingleFundIRRNoActivities(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.June, 30), Amount: 1000},
	}

	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.IRRPercent)
	assert.NotEmpty(t, result.Note)

	// A 0% result is still persisted for the calculation date.
	require.Len(t, f.irrStore.fundUpserts, 1)
	assert.Equal(t, int64(1), f.irrStore.fundUpserts[0].ID)
	assert.Zero(t, f.irrStore.fundUpserts[0].IRRPercent)
}

func TestCalculateSingleFundIRRNegativeValuation(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.June, 30), Amount: -50},
	}
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}

	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "negative valuation")
	assert.Empty(t, f.irrStore.fundUpserts)
}

func TestCalculateSingleFundIRREndToEnd(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.July, 1), Amount: 1200},
	}

	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "2024-07-01", result.Date)
	// 1000 grows to 1200 over six monthly periods, annualized linearly.
	assert.InDelta(t, 37.02, result.IRRPercent, 0.1)
	assert.False(t, result.CacheHit)

	require.Len(t, f.irrStore.fundUpserts, 1)
	assert.InDelta(t, result.IRRPercent, f.irrStore.fundUpserts[0].IRRPercent, 1e-9)
	assert.Equal(t, day(2024, time.July, 1), f.irrStore.fundUpserts[0].Date)
}

func TestCalculateSingleFundIRRServesFromCache(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.July, 1), Amount: 1200},
	}

	first, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.IRRPercent, second.IRRPercent)

	// The cache hit must not write a second IRR row.
	assert.Len(t, f.irrStore.fundUpserts, 1)
}

func TestCalculateSingleFundIRRExplicitDate(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityInvestment},
		{Date: day(2024, time.August, 1), Amount: 500, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.July, 1), Amount: 1200},
		{ID: 6, Date: day(2024, time.September, 30), Amount: 1800},
	}

	asOf := day(2024, time.July, 1)
	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, &asOf)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "2024-07-01", result.Date)
	// The August activity and September valuation are outside the window.
	assert.InDelta(t, 37.02, result.IRRPercent, 0.1)
}

func TestCalculateGroupIRRPoolsFunds(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 600, ActivityType: models.ActivityInvestment},
	}
	f.activities.events[2] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 20), Amount: 400, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: day(2024, time.July, 1), Amount: 700}}
	f.valuations.valuations[2] = []models.ValuationPoint{{ID: 6, Date: day(2024, time.July, 1), Amount: 500}}

	result, err := f.irrService.CalculateGroupIRR(context.Background(), []int64{1, 2}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	// Pooled: 1000 in, 1200 out, the same series as a single fund would give.
	assert.InDelta(t, 37.02, result.IRRPercent, 0.1)

	// Group calculations never persist; portfolio orchestration owns writes.
	assert.Empty(t, f.irrStore.fundUpserts)
	assert.Empty(t, f.irrStore.portfolioUpserts)
}

func TestCalculateGroupIRRUnknownFund(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	_, err := f.irrService.CalculateGroupIRR(context.Background(), []int64{1, 99}, nil)
	assert.ErrorIs(t, err, ErrFundNotFound)
}

func TestCalculateGroupIRRNoFunds(t *testing.T) {
	f := newFixture()
	result, err := f.irrService.CalculateGroupIRR(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestCalculateGroupIRRNegativeValuation(t *testing.T) {
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.addFund(2, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 600, ActivityType: models.ActivityInvestment},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{{ID: 5, Date: day(2024, time.July, 1), Amount: 700}}
	f.valuations.valuations[2] = []models.ValuationPoint{{ID: 6, Date: day(2024, time.July, 1), Amount: -10}}

	result, err := f.irrService.CalculateGroupIRR(context.Background(), []int64{1, 2}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "negative valuation")
}

func TestCalculateSingleFundIRRDegenerateFlows(t *testing.T) {
	// All flows on the inflow side: aggregation cannot build a solvable
	// vector and the failure is structured, not an error.
	f := newFixture()
	f.addFund(1, 10, models.FundStatusActive)
	f.activities.events[1] = []models.CashFlowEvent{
		{Date: day(2024, time.January, 15), Amount: 1000, ActivityType: models.ActivityWithdrawal},
	}
	f.valuations.valuations[1] = []models.ValuationPoint{
		{ID: 5, Date: day(2024, time.July, 1), Amount: 500},
	}

	result, err := f.irrService.CalculateSingleFundIRR(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "degenerate")
	assert.Empty(t, f.irrStore.fundUpserts)
}
