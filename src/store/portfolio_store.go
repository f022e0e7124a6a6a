// backend/src/store/portfolio_store.go
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/username/wealthvisor/backend/src/models"
)

// SQLPortfolioStore reads portfolios and their funds.
type SQLPortfolioStore struct {
	db *sql.DB
}

func NewPortfolioStore(db *sql.DB) *SQLPortfolioStore {
	return &SQLPortfolioStore{db: db}
}

func (s *SQLPortfolioStore) GetFund(fundID int64) (*models.PortfolioFund, error) {
	var fund models.PortfolioFund
	var isin sql.NullString
	var weighting sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT id, portfolio_id, fund_name, isin, status, target_weighting, created_at
		FROM portfolio_funds
		WHERE id = ?`, fundID).Scan(
		&fund.ID, &fund.PortfolioID, &fund.FundName, &isin, &fund.Status, &weighting, &fund.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying fund %d: %w", fundID, err)
	}
	if isin.Valid {
		fund.ISIN = isin.String
	}
	if weighting.Valid {
		fund.TargetWeighting = &weighting.Float64
	}
	return &fund, nil
}

func (s *SQLPortfolioStore) GetPortfolio(portfolioID int64) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	var productID sql.NullInt64
	var startDate sql.NullString
	err := s.db.QueryRow(`
		SELECT id, product_id, portfolio_name, status, start_date, created_at
		FROM portfolios
		WHERE id = ?`, portfolioID).Scan(
		&portfolio.ID, &productID, &portfolio.PortfolioName, &portfolio.Status, &startDate, &portfolio.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying portfolio %d: %w", portfolioID, err)
	}
	if productID.Valid {
		portfolio.ProductID = &productID.Int64
	}
	if startDate.Valid {
		portfolio.StartDate = startDate.String
	}
	return &portfolio, nil
}

func (s *SQLPortfolioStore) FetchPortfolioFunds(portfolioID int64) ([]models.PortfolioFund, error) {
	rows, err := s.db.Query(`
		SELECT id, portfolio_id, fund_name, isin, status, target_weighting, created_at
		FROM portfolio_funds
		WHERE portfolio_id = ?
		ORDER BY fund_name ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("querying funds for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	var funds []models.PortfolioFund
	for rows.Next() {
		var fund models.PortfolioFund
		var isin sql.NullString
		var weighting sql.NullFloat64
		if err := rows.Scan(&fund.ID, &fund.PortfolioID, &fund.FundName, &isin, &fund.Status, &weighting, &fund.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning fund row: %w", err)
		}
		if isin.Valid {
			fund.ISIN = isin.String
		}
		if weighting.Valid {
			fund.TargetWeighting = &weighting.Float64
		}
		funds = append(funds, fund)
	}
	return funds, rows.Err()
}
