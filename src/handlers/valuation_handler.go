// backend/src/handlers/valuation_handler.go
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

// ValuationHandler owns the portfolio_fund_valuations CRUD surface. Writes
// trigger the fund cascade; deletions additionally re-evaluate the common
// valuation date they participated in.
type ValuationHandler struct {
	valuationService services.ValuationService
}

func NewValuationHandler(valuationService services.ValuationService) *ValuationHandler {
	return &ValuationHandler{valuationService: valuationService}
}

type valuationRequest struct {
	ValuationDate string  `json:"valuation_date"`
	Valuation     float64 `json:"valuation"`
}

func (req *valuationRequest) validate() (time.Time, error) {
	date, err := time.ParseInLocation(dateLayout, req.ValuationDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid valuation_date %q, expected YYYY-MM-DD", req.ValuationDate)
	}
	if req.Valuation < 0 {
		return time.Time{}, errors.New("valuation cannot be negative")
	}
	return date, nil
}

// HandleListFundValuations returns all valuations for a fund, newest first.
// GET /api/funds/{fundID}/valuations
func (h *ValuationHandler) HandleListFundValuations(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := database.DB.Query(`
		SELECT id, portfolio_fund_id, valuation_date, valuation, created_at
		FROM portfolio_fund_valuations
		WHERE portfolio_fund_id = ?
		ORDER BY valuation_date DESC`, fundID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list valuations", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve valuations", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var valuations []models.FundValuation
	for rows.Next() {
		var valuation models.FundValuation
		if err := rows.Scan(&valuation.ID, &valuation.PortfolioFundID, &valuation.ValuationDate,
			&valuation.Valuation, &valuation.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		valuations = append(valuations, valuation)
	}
	if valuations == nil {
		valuations = []models.FundValuation{}
	}
	utils.SendJSON(w, valuations, http.StatusOK)
}

// HandleCreateValuation records a fund valuation for a date (one per date).
// POST /api/funds/{fundID}/valuations
func (h *ValuationHandler) HandleCreateValuation(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req valuationRequest
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
		INSERT INTO portfolio_fund_valuations (portfolio_fund_id, valuation_date, valuation)
		VALUES (?, ?, ?)
		ON CONFLICT (portfolio_fund_id, valuation_date) DO UPDATE SET valuation = excluded.valuation`,
		fundID, req.ValuationDate, req.Valuation)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create valuation", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to create valuation (fund must exist)", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()

	h.cascade(r, fundID, date)
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Valuation recorded"}, http.StatusCreated)
}

// HandleUpdateValuation replaces a valuation's date and amount.
// PUT /api/valuations/{valuationID}
func (h *ValuationHandler) HandleUpdateValuation(w http.ResponseWriter, r *http.Request) {
	valuationID, err := urlParamInt64(r, "valuationID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req valuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	date, err := req.validate()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fundID, oldDate, err := h.lookupValuation(valuationID)
	if err != nil {
		utils.SendJSONError(w, "Valuation not found", http.StatusNotFound)
		return
	}

	_, err = database.DB.Exec(`
		UPDATE portfolio_fund_valuations
		SET valuation_date = ?, valuation = ?
		WHERE id = ?`, req.ValuationDate, req.Valuation, valuationID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to update valuation", "valuationID", valuationID, "error", err)
		utils.SendJSONError(w, "Failed to update valuation", http.StatusInternalServerError)
		return
	}

	// Moving a valuation off a date can break that date's commonality, so
	// treat the old date as a deletion before cascading the new one.
	if !oldDate.Equal(date) {
		if err := h.valuationService.HandleFundValuationDeleted(r.Context(), fundID, oldDate); err != nil {
			logger.FromContext(r.Context()).Error("Cascade failed for vacated valuation date",
				"fundID", fundID, "date", oldDate.Format(dateLayout), "error", err)
		}
	}
	h.cascade(r, fundID, date)
	utils.SendJSON(w, map[string]string{"message": "Valuation updated"}, http.StatusOK)
}

// HandleDeleteValuation removes a fund valuation and cascades the cleanup
// of portfolio-level rows that depended on its date.
// DELETE /api/valuations/{valuationID}
func (h *ValuationHandler) HandleDeleteValuation(w http.ResponseWriter, r *http.Request) {
	valuationID, err := urlParamInt64(r, "valuationID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fundID, date, err := h.lookupValuation(valuationID)
	if err != nil {
		utils.SendJSONError(w, "Valuation not found", http.StatusNotFound)
		return
	}

	if _, err := database.DB.Exec(`DELETE FROM portfolio_fund_valuations WHERE id = ?`, valuationID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete valuation", "valuationID", valuationID, "error", err)
		utils.SendJSONError(w, "Failed to delete valuation", http.StatusInternalServerError)
		return
	}

	if err := h.valuationService.HandleFundValuationDeleted(r.Context(), fundID, date); err != nil {
		logger.FromContext(r.Context()).Error("Cascade failed after valuation deletion",
			"fundID", fundID, "date", date.Format(dateLayout), "error", err)
	}
	utils.SendJSON(w, map[string]string{"message": "Valuation deleted"}, http.StatusOK)
}

func (h *ValuationHandler) lookupValuation(valuationID int64) (int64, time.Time, error) {
	var fundID int64
	var dateStr string
	err := database.DB.QueryRow(`
		SELECT portfolio_fund_id, valuation_date
		FROM portfolio_fund_valuations
		WHERE id = ?`, valuationID).Scan(&fundID, &dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, errors.New("valuation not found")
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	return fundID, date, err
}

func (h *ValuationHandler) cascade(r *http.Request, fundID int64, date time.Time) {
	if err := h.valuationService.HandleFundDataChanged(r.Context(), fundID, date); err != nil {
		logger.FromContext(r.Context()).Error("Recalculation cascade failed after valuation write",
			"fundID", fundID, "error", err)
	}
}
