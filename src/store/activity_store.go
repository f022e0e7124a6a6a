// backend/src/store/activity_store.go
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/username/wealthvisor/backend/src/models"
)

const dateLayout = "2006-01-02"

// SQLActivityStore reads holding_activity_log rows as cash-flow events.
type SQLActivityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) *SQLActivityStore {
	return &SQLActivityStore{db: db}
}

func (s *SQLActivityStore) FetchActivities(fundID int64, upto time.Time) ([]models.CashFlowEvent, error) {
	return s.FetchActivitiesForFunds([]int64{fundID}, upto)
}

func (s *SQLActivityStore) FetchActivitiesForFunds(fundIDs []int64, upto time.Time) ([]models.CashFlowEvent, error) {
	if len(fundIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(fundIDs)), ",")
	query := fmt.Sprintf(`
		SELECT activity_timestamp, activity_type, amount
		FROM holding_activity_log
		WHERE portfolio_fund_id IN (%s) AND activity_timestamp <= ?
		ORDER BY activity_timestamp ASC, id ASC`, placeholders)

	args := make([]interface{}, 0, len(fundIDs)+1)
	for _, fundID := range fundIDs {
		args = append(args, fundID)
	}
	args = append(args, upto.Format(dateLayout))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var events []models.CashFlowEvent
	for rows.Next() {
		var dateStr, activityType string
		var amount float64
		if err := rows.Scan(&dateStr, &activityType, &amount); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing activity date %q: %w", dateStr, err)
		}
		events = append(events, models.CashFlowEvent{
			Date:         date,
			Amount:       amount,
			ActivityType: models.ActivityType(activityType),
		})
	}
	return events, rows.Err()
}
