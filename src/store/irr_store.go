// backend/src/store/irr_store.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/wealthvisor/backend/src/models"
)

// SQLIRRStore persists calculated IRR results. Upserts are single
// statements, so concurrent recalculation of the same (id, date) pair is a
// benign last-writer-wins.
type SQLIRRStore struct {
	db *sql.DB
}

func NewIRRStore(db *sql.DB) *SQLIRRStore {
	return &SQLIRRStore{db: db}
}

func (s *SQLIRRStore) UpsertFundIRR(fundID int64, date time.Time, irrPercent float64, fundValuationID *int64) error {
	_, err := s.db.Exec(`
		INSERT INTO portfolio_fund_irr_values (fund_id, irr_result, date, fund_valuation_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fund_id, date) DO UPDATE SET
			irr_result = excluded.irr_result,
			fund_valuation_id = excluded.fund_valuation_id`,
		fundID, irrPercent, date.Format(dateLayout), fundValuationID)
	if err != nil {
		return fmt.Errorf("upserting fund IRR: %w", err)
	}
	return nil
}

func (s *SQLIRRStore) UpsertPortfolioIRR(portfolioID int64, date time.Time, irrPercent float64, portfolioValuationID *int64) error {
	_, err := s.db.Exec(`
		INSERT INTO portfolio_irr_values (portfolio_id, irr_result, date, portfolio_valuation_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (portfolio_id, date) DO UPDATE SET
			irr_result = excluded.irr_result,
			portfolio_valuation_id = excluded.portfolio_valuation_id`,
		portfolioID, irrPercent, date.Format(dateLayout), portfolioValuationID)
	if err != nil {
		return fmt.Errorf("upserting portfolio IRR: %w", err)
	}
	return nil
}

func (s *SQLIRRStore) DeletePortfolioIRR(portfolioID int64, date time.Time) error {
	_, err := s.db.Exec(`
		DELETE FROM portfolio_irr_values
		WHERE portfolio_id = ? AND date = ?`, portfolioID, date.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("deleting portfolio IRR: %w", err)
	}
	return nil
}

func (s *SQLIRRStore) FetchLatestPortfolioIRR(portfolioID int64) (*models.PortfolioIRRValue, error) {
	var row models.PortfolioIRRValue
	var valuationID sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, portfolio_id, irr_result, date, portfolio_valuation_id, created_at
		FROM portfolio_irr_values
		WHERE portfolio_id = ?
		ORDER BY date DESC
		LIMIT 1`, portfolioID).Scan(
		&row.ID, &row.PortfolioID, &row.IRRResult, &row.Date, &valuationID, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest portfolio IRR: %w", err)
	}
	if valuationID.Valid {
		row.PortfolioValuationID = &valuationID.Int64
	}
	return &row, nil
}
