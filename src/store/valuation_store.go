// backend/src/store/valuation_store.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/username/wealthvisor/backend/src/models"
)

// SQLValuationStore reads and writes fund and portfolio valuations.
type SQLValuationStore struct {
	db *sql.DB
}

func NewValuationStore(db *sql.DB) *SQLValuationStore {
	return &SQLValuationStore{db: db}
}

func (s *SQLValuationStore) FetchLatestValuation(fundID int64, asOf time.Time) (*models.ValuationPoint, error) {
	row := s.db.QueryRow(`
		SELECT id, valuation_date, valuation
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id = ? AND valuation_date <= ?
		ORDER BY valuation_date DESC
		LIMIT 1`, fundID, asOf.Format(dateLayout))
	return scanValuationPoint(row)
}

func (s *SQLValuationStore) FetchValuationOnDate(fundID int64, date time.Time) (*models.ValuationPoint, error) {
	row := s.db.QueryRow(`
		SELECT id, valuation_date, valuation
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id = ? AND valuation_date = ?`, fundID, date.Format(dateLayout))
	return scanValuationPoint(row)
}

func (s *SQLValuationStore) FetchValuationHistory(fundID int64) ([]models.ValuationPoint, error) {
	rows, err := s.db.Query(`
		SELECT id, valuation_date, valuation
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id = ?
		ORDER BY valuation_date DESC`, fundID)
	if err != nil {
		return nil, fmt.Errorf("querying valuation history: %w", err)
	}
	defer rows.Close()

	var history []models.ValuationPoint
	for rows.Next() {
		var point models.ValuationPoint
		var dateStr string
		if err := rows.Scan(&point.ID, &dateStr, &point.Amount); err != nil {
			return nil, fmt.Errorf("scanning valuation row: %w", err)
		}
		date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing valuation date %q: %w", dateStr, err)
		}
		point.Date = date
		history = append(history, point)
	}
	return history, rows.Err()
}

func (s *SQLValuationStore) LatestValuationDate(fundIDs []int64) (*time.Time, error) {
	if len(fundIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(fundIDs)), ",")
	query := fmt.Sprintf(`
		SELECT MAX(valuation_date)
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id IN (%s)`, placeholders)

	args := make([]interface{}, 0, len(fundIDs))
	for _, fundID := range fundIDs {
		args = append(args, fundID)
	}

	var dateStr sql.NullString
	if err := s.db.QueryRow(query, args...).Scan(&dateStr); err != nil {
		return nil, fmt.Errorf("querying latest valuation date: %w", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return nil, nil
	}
	date, err := time.ParseInLocation(dateLayout, dateStr.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parsing latest valuation date %q: %w", dateStr.String, err)
	}
	return &date, nil
}

func (s *SQLValuationStore) HasValuationOnDate(fundID int64, date time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id = ? AND valuation_date = ?`, fundID, date.Format(dateLayout)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking valuation on date: %w", err)
	}
	return count > 0, nil
}

func (s *SQLValuationStore) UpsertPortfolioValuation(portfolioID int64, date time.Time, valuation float64) (int64, error) {
	dateStr := date.Format(dateLayout)
	_, err := s.db.Exec(`
		INSERT INTO portfolio_valuations (portfolio_id, valuation_date, valuation)
		VALUES (?, ?, ?)
		ON CONFLICT (portfolio_id, valuation_date) DO UPDATE SET valuation = excluded.valuation`,
		portfolioID, dateStr, valuation)
	if err != nil {
		return 0, fmt.Errorf("upserting portfolio valuation: %w", err)
	}

	var id int64
	err = s.db.QueryRow(`
		SELECT id FROM portfolio_valuations
		WHERE portfolio_id = ? AND valuation_date = ?`, portfolioID, dateStr).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading back portfolio valuation id: %w", err)
	}
	return id, nil
}

func (s *SQLValuationStore) DeletePortfolioValuation(portfolioID int64, date time.Time) error {
	_, err := s.db.Exec(`
		DELETE FROM portfolio_valuations
		WHERE portfolio_id = ? AND valuation_date = ?`, portfolioID, date.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("deleting portfolio valuation: %w", err)
	}
	return nil
}

func scanValuationPoint(row *sql.Row) (*models.ValuationPoint, error) {
	var point models.ValuationPoint
	var dateStr string
	err := row.Scan(&point.ID, &dateStr, &point.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning valuation: %w", err)
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parsing valuation date %q: %w", dateStr, err)
	}
	point.Date = date
	return &point, nil
}
