// backend/src/handlers/activity_handler.go
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/username/wealthvisor/backend/src/database"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
	"github.com/username/wealthvisor/backend/src/services"
	"github.com/username/wealthvisor/backend/src/utils"
)

// ActivityHandler owns the holding_activity_log CRUD surface. Every write
// triggers the fund's invalidate-and-recalculate cascade.
type ActivityHandler struct {
	valuationService services.ValuationService
}

func NewActivityHandler(valuationService services.ValuationService) *ActivityHandler {
	return &ActivityHandler{valuationService: valuationService}
}

type activityRequest struct {
	ActivityTimestamp string  `json:"activity_timestamp"`
	ActivityType      string  `json:"activity_type"`
	Amount            float64 `json:"amount"`
}

func (req *activityRequest) validate() (time.Time, error) {
	if !models.IsKnownActivityType(models.ActivityType(req.ActivityType)) {
		return time.Time{}, fmt.Errorf("unknown activity_type %q", req.ActivityType)
	}
	date, err := time.ParseInLocation(dateLayout, req.ActivityTimestamp, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid activity_timestamp %q, expected YYYY-MM-DD", req.ActivityTimestamp)
	}
	if req.Amount == 0 {
		return time.Time{}, errors.New("amount must be non-zero")
	}
	return date, nil
}

// HandleListFundActivities returns all activities for a fund, oldest first.
// GET /api/funds/{fundID}/activities
func (h *ActivityHandler) HandleListFundActivities(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := database.DB.Query(`
		SELECT id, portfolio_fund_id, activity_timestamp, activity_type, amount, created_at
		FROM holding_activity_log
		WHERE portfolio_fund_id = ?
		ORDER BY activity_timestamp ASC, id ASC`, fundID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list activities", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve activities", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var activities []models.HoldingActivity
	for rows.Next() {
		var activity models.HoldingActivity
		if err := rows.Scan(&activity.ID, &activity.PortfolioFundID, &activity.ActivityTimestamp,
			&activity.ActivityType, &activity.Amount, &activity.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		activities = append(activities, activity)
	}
	if activities == nil {
		activities = []models.HoldingActivity{}
	}
	utils.SendJSON(w, activities, http.StatusOK)
}

// HandleCreateActivity records a new activity for a fund.
// POST /api/funds/{fundID}/activities
func (h *ActivityHandler) HandleCreateActivity(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	date, err := req.validate()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`
		INSERT INTO holding_activity_log (portfolio_fund_id, activity_timestamp, activity_type, amount)
		VALUES (?, ?, ?, ?)`, fundID, req.ActivityTimestamp, req.ActivityType, req.Amount)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create activity", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to create activity (fund must exist)", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()

	h.cascade(r, fundID, date)
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Activity created"}, http.StatusCreated)
}

// HandleUpdateActivity replaces an activity's date, type and amount.
// PUT /api/activities/{activityID}
func (h *ActivityHandler) HandleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	activityID, err := urlParamInt64(r, "activityID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	date, err := req.validate()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fundID, err := h.fundIDForActivity(activityID)
	if err != nil {
		utils.SendJSONError(w, "Activity not found", http.StatusNotFound)
		return
	}

	_, err = database.DB.Exec(`
		UPDATE holding_activity_log
		SET activity_timestamp = ?, activity_type = ?, amount = ?
		WHERE id = ?`, req.ActivityTimestamp, req.ActivityType, req.Amount, activityID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to update activity", "activityID", activityID, "error", err)
		utils.SendJSONError(w, "Failed to update activity", http.StatusInternalServerError)
		return
	}

	h.cascade(r, fundID, date)
	utils.SendJSON(w, map[string]string{"message": "Activity updated"}, http.StatusOK)
}

// HandleDeleteActivity removes an activity.
// DELETE /api/activities/{activityID}
func (h *ActivityHandler) HandleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	activityID, err := urlParamInt64(r, "activityID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fundID, err := h.fundIDForActivity(activityID)
	if err != nil {
		utils.SendJSONError(w, "Activity not found", http.StatusNotFound)
		return
	}
	var dateStr string
	if err := database.DB.QueryRow(
		`SELECT activity_timestamp FROM holding_activity_log WHERE id = ?`, activityID).Scan(&dateStr); err != nil {
		utils.SendJSONError(w, "Activity not found", http.StatusNotFound)
		return
	}
	date, _ := time.ParseInLocation(dateLayout, dateStr, time.UTC)

	if _, err := database.DB.Exec(`DELETE FROM holding_activity_log WHERE id = ?`, activityID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete activity", "activityID", activityID, "error", err)
		utils.SendJSONError(w, "Failed to delete activity", http.StatusInternalServerError)
		return
	}

	h.cascade(r, fundID, date)
	utils.SendJSON(w, map[string]string{"message": "Activity deleted"}, http.StatusOK)
}

func (h *ActivityHandler) fundIDForActivity(activityID int64) (int64, error) {
	var fundID int64
	err := database.DB.QueryRow(
		`SELECT portfolio_fund_id FROM holding_activity_log WHERE id = ?`, activityID).Scan(&fundID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("activity not found")
	}
	return fundID, err
}

// cascade runs the recalculation cascade after a write. The write itself
// has already succeeded, so cascade failures are logged rather than
// surfaced to the client.
func (h *ActivityHandler) cascade(r *http.Request, fundID int64, date time.Time) {
	if err := h.valuationService.HandleFundDataChanged(r.Context(), fundID, date); err != nil {
		logger.FromContext(r.Context()).Error("Recalculation cascade failed after activity write",
			"fundID", fundID, "error", err)
	}
}
