// backend/src/handlers/portfolio_handler.go
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/microcosm-cc/bluemonday"
	"github.com/username/wealthvisor/backend/src/database"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
	"github.com/username/wealthvisor/backend/src/services"
	"github.com/username/wealthvisor/backend/src/utils"
)

// sanitizer strips any markup from free-text fields before they reach the
// database.
var sanitizer = bluemonday.StrictPolicy()

type PortfolioHandler struct {
	summaryService *services.SummaryService
	irrCache       *services.IRRCache
}

func NewPortfolioHandler(summaryService *services.SummaryService, irrCache *services.IRRCache) *PortfolioHandler {
	return &PortfolioHandler{summaryService: summaryService, irrCache: irrCache}
}

// ListPortfolios returns all portfolios.
// GET /api/portfolios
func (h *PortfolioHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	rows, err := database.DB.Query(`
		SELECT id, product_id, portfolio_name, status, COALESCE(start_date, ''), created_at
		FROM portfolios
		ORDER BY portfolio_name ASC`)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list portfolios", "error", err)
		utils.SendJSONError(w, "Failed to retrieve portfolios", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var portfolios []models.Portfolio
	for rows.Next() {
		var p models.Portfolio
		var productID *int64
		if err := rows.Scan(&p.ID, &productID, &p.PortfolioName, &p.Status, &p.StartDate, &p.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		p.ProductID = productID
		portfolios = append(portfolios, p)
	}
	if portfolios == nil {
		portfolios = []models.Portfolio{}
	}
	utils.SendJSON(w, portfolios, http.StatusOK)
}

// CreatePortfolio creates a portfolio.
// POST /api/portfolios
func (h *PortfolioHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID     *int64 `json:"product_id"`
		PortfolioName string `json:"portfolio_name"`
		StartDate     string `json:"start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	req.PortfolioName = sanitizer.Sanitize(req.PortfolioName)
	if req.PortfolioName == "" {
		utils.SendJSONError(w, "portfolio_name is required", http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`
		INSERT INTO portfolios (product_id, portfolio_name, start_date)
		VALUES (?, ?, NULLIF(?, ''))`, req.ProductID, req.PortfolioName, req.StartDate)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create portfolio", "error", err)
		utils.SendJSONError(w, "Failed to create portfolio", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Portfolio created"}, http.StatusCreated)
}

// DeletePortfolio removes a portfolio and, through foreign keys, its funds,
// activities, valuations and IRR rows.
// DELETE /api/portfolios/{portfolioID}
func (h *PortfolioHandler) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := urlParamInt64(r, "portfolioID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := database.DB.Exec(`DELETE FROM portfolios WHERE id = ?`, portfolioID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete portfolio", "portfolioID", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to delete portfolio", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		utils.SendJSONError(w, "Portfolio not found", http.StatusNotFound)
		return
	}
	if h.summaryService != nil {
		h.summaryService.InvalidatePortfolio(portfolioID)
	}
	utils.SendJSON(w, map[string]string{"message": "Portfolio deleted"}, http.StatusOK)
}

// ListPortfolioFunds returns the funds held in a portfolio.
// GET /api/portfolios/{portfolioID}/funds
func (h *PortfolioHandler) ListPortfolioFunds(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := urlParamInt64(r, "portfolioID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := database.DB.Query(`
		SELECT id, portfolio_id, fund_name, COALESCE(isin, ''), status, target_weighting, created_at
		FROM portfolio_funds
		WHERE portfolio_id = ?
		ORDER BY fund_name ASC`, portfolioID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list funds", "portfolioID", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve funds", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var funds []models.PortfolioFund
	for rows.Next() {
		var fund models.PortfolioFund
		if err := rows.Scan(&fund.ID, &fund.PortfolioID, &fund.FundName, &fund.ISIN,
			&fund.Status, &fund.TargetWeighting, &fund.CreatedAt); err != nil {
			logger.FromContext(r.Context()).Error("Row scan error", "error", err)
			continue
		}
		funds = append(funds, fund)
	}
	if funds == nil {
		funds = []models.PortfolioFund{}
	}
	utils.SendJSON(w, funds, http.StatusOK)
}

// CreatePortfolioFund adds a fund to a portfolio.
// POST /api/portfolios/{portfolioID}/funds
func (h *PortfolioHandler) CreatePortfolioFund(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := urlParamInt64(r, "portfolioID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		FundName        string   `json:"fund_name"`
		ISIN            string   `json:"isin"`
		TargetWeighting *float64 `json:"target_weighting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	req.FundName = sanitizer.Sanitize(req.FundName)
	if req.FundName == "" {
		utils.SendJSONError(w, "fund_name is required", http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`
		INSERT INTO portfolio_funds (portfolio_id, fund_name, isin, target_weighting)
		VALUES (?, ?, NULLIF(?, ''), ?)`, portfolioID, req.FundName, req.ISIN, req.TargetWeighting)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to create fund", "portfolioID", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to create fund (portfolio must exist)", http.StatusInternalServerError)
		return
	}
	id, _ := res.LastInsertId()
	if h.summaryService != nil {
		h.summaryService.InvalidatePortfolio(portfolioID)
	}
	utils.SendJSON(w, map[string]interface{}{"id": id, "message": "Fund created"}, http.StatusCreated)
}

// GetFund returns one fund.
// GET /api/funds/{fundID}
func (h *PortfolioHandler) GetFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var fund models.PortfolioFund
	err = database.DB.QueryRow(`
		SELECT id, portfolio_id, fund_name, COALESCE(isin, ''), status, target_weighting, created_at
		FROM portfolio_funds
		WHERE id = ?`, fundID).Scan(&fund.ID, &fund.PortfolioID, &fund.FundName,
		&fund.ISIN, &fund.Status, &fund.TargetWeighting, &fund.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		utils.SendJSONError(w, "Fund not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to get fund", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve fund", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, fund, http.StatusOK)
}

// DeleteFund removes a fund and, through foreign keys, its activities,
// valuations and IRR rows.
// DELETE /api/funds/{fundID}
func (h *PortfolioHandler) DeleteFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var portfolioID int64
	if err := database.DB.QueryRow(
		`SELECT portfolio_id FROM portfolio_funds WHERE id = ?`, fundID).Scan(&portfolioID); err != nil {
		utils.SendJSONError(w, "Fund not found", http.StatusNotFound)
		return
	}

	if _, err := database.DB.Exec(`DELETE FROM portfolio_funds WHERE id = ?`, fundID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to delete fund", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to delete fund", http.StatusInternalServerError)
		return
	}

	if h.irrCache != nil {
		h.irrCache.Invalidate([]int64{fundID})
	}
	if h.summaryService != nil {
		h.summaryService.InvalidatePortfolio(portfolioID)
	}
	utils.SendJSON(w, map[string]string{"message": "Fund deleted"}, http.StatusOK)
}

// UpdateFundStatus flips a fund between active and inactive.
// PATCH /api/funds/{fundID}/status
func (h *PortfolioHandler) UpdateFundStatus(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	if req.Status != models.FundStatusActive && req.Status != models.FundStatusInactive {
		utils.SendJSONError(w, "status must be 'active' or 'inactive'", http.StatusBadRequest)
		return
	}

	res, err := database.DB.Exec(`UPDATE portfolio_funds SET status = ? WHERE id = ?`, req.Status, fundID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to update fund status", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to update fund status", http.StatusInternalServerError)
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		utils.SendJSONError(w, "Fund not found", http.StatusNotFound)
		return
	}
	utils.SendJSON(w, map[string]string{"message": "Fund status updated"}, http.StatusOK)
}

// HandleGetPortfolioSummary returns the cached aggregate view of a
// portfolio.
// GET /api/portfolios/{portfolioID}/summary
func (h *PortfolioHandler) HandleGetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := urlParamInt64(r, "portfolioID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.summaryService.GetPortfolioSummary(r.Context(), portfolioID)
	if err != nil {
		if errors.Is(err, services.ErrPortfolioNotFound) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to get portfolio summary", "portfolioID", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve portfolio summary", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, summary, http.StatusOK)
}
