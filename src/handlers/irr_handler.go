// backend/src/handlers/irr_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/services"
	"github.com/username/wealthvisor/backend/src/utils"
)

const dateLayout = "2006-01-02"

type IRRHandler struct {
	irrService       services.IRRService
	valuationService services.ValuationService
	cache            *services.IRRCache
}

func NewIRRHandler(irrService services.IRRService, valuationService services.ValuationService, cache *services.IRRCache) *IRRHandler {
	return &IRRHandler{
		irrService:       irrService,
		valuationService: valuationService,
		cache:            cache,
	}
}

// parseOptionalDate reads an optional YYYY-MM-DD date from a query or body
// value. An empty value means "latest".
func parseOptionalDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	date, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return &date, nil
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// HandleCalculateFundIRR computes the IRR for one fund.
// GET /api/funds/{fundID}/irr?date=YYYY-MM-DD
func (h *IRRHandler) HandleCalculateFundIRR(w http.ResponseWriter, r *http.Request) {
	fundID, err := urlParamInt64(r, "fundID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf, err := parseOptionalDate(r.URL.Query().Get("date"))
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.irrService.CalculateSingleFundIRR(r.Context(), fundID, asOf)
	if err != nil {
		if errors.Is(err, services.ErrFundNotFound) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Fund IRR calculation failed", "fundID", fundID, "error", err)
		utils.SendJSONError(w, "Failed to calculate fund IRR", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}

// HandleCalculateGroupIRR computes the IRR for a set of funds pooled as one
// synthetic holding.
// POST /api/irr/group {"fund_ids": [..], "date": "YYYY-MM-DD"?}
func (h *IRRHandler) HandleCalculateGroupIRR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FundIDs []int64 `json:"fund_ids"`
		Date    string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	if len(req.FundIDs) == 0 {
		utils.SendJSONError(w, "fund_ids is required", http.StatusBadRequest)
		return
	}
	asOf, err := parseOptionalDate(req.Date)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.irrService.CalculateGroupIRR(r.Context(), req.FundIDs, asOf)
	if err != nil {
		if errors.Is(err, services.ErrFundNotFound) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Group IRR calculation failed", "fundIDs", req.FundIDs, "error", err)
		utils.SendJSONError(w, "Failed to calculate group IRR", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}

// HandleCalculatePortfolioIRR recalculates and persists the portfolio-level
// IRR for a common valuation date.
// POST /api/portfolios/{portfolioID}/irr {"date": "YYYY-MM-DD"?}
func (h *IRRHandler) HandleCalculatePortfolioIRR(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := urlParamInt64(r, "portfolioID")
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
			return
		}
	}
	asOf, err := parseOptionalDate(req.Date)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.valuationService.RecalculatePortfolioIRR(r.Context(), portfolioID, asOf)
	if err != nil {
		if errors.Is(err, services.ErrPortfolioNotFound) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Portfolio IRR calculation failed", "portfolioID", portfolioID, "error", err)
		utils.SendJSONError(w, "Failed to calculate portfolio IRR", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}

// HandleCacheStats reports total/active/expired IRR cache entry counts.
// GET /api/irr/cache/stats
func (h *IRRHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	utils.SendJSON(w, h.cache.Stats(), http.StatusOK)
}

// HandleInvalidateCache removes cached results for the given funds.
// POST /api/irr/cache/invalidate {"fund_ids": [..]}
func (h *IRRHandler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FundIDs []int64 `json:"fund_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid body", http.StatusBadRequest)
		return
	}
	if len(req.FundIDs) == 0 {
		utils.SendJSONError(w, "fund_ids is required", http.StatusBadRequest)
		return
	}
	removed := h.cache.Invalidate(req.FundIDs)
	logger.FromContext(r.Context()).Info("IRR cache invalidated", "fundIDs", req.FundIDs, "removed", removed)
	utils.SendJSON(w, map[string]int{"invalidated": removed}, http.StatusOK)
}

// HandleClearExpiredCache reclaims expired IRR cache entries in bulk.
// POST /api/irr/cache/clear-expired
func (h *IRRHandler) HandleClearExpiredCache(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.ClearExpired()
	utils.SendJSON(w, map[string]int{"cleared": removed}, http.StatusOK)
}
