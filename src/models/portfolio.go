package models

import "time"

// Fund status values for portfolio_funds.status.
const (
	FundStatusActive   = "active"
	FundStatusInactive = "inactive"
)

// ClientGroup represents a group of related clients managed together.
type ClientGroup struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	AdvisorName string `json:"advisor_name,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Product represents a wrapper product (e.g. ISA, SIPP) held by a client group.
type Product struct {
	ID            int64  `json:"id,omitempty"`
	ClientGroupID int64  `json:"client_group_id"`
	ProductName   string `json:"product_name"`
	Provider      string `json:"provider,omitempty"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Portfolio represents a managed portfolio of funds.
type Portfolio struct {
	ID            int64  `json:"id,omitempty"`
	ProductID     *int64 `json:"product_id,omitempty"`
	PortfolioName string `json:"portfolio_name"`
	Status        string `json:"status"`
	StartDate     string `json:"start_date,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// PortfolioFund represents a fund held within a portfolio.
type PortfolioFund struct {
	ID              int64    `json:"id,omitempty"`
	PortfolioID     int64    `json:"portfolio_id"`
	FundName        string   `json:"fund_name"`
	ISIN            string   `json:"isin,omitempty"`
	Status          string   `json:"status"` // "active" or "inactive"
	TargetWeighting *float64 `json:"target_weighting,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// FundValuation represents a row in portfolio_fund_valuations.
type FundValuation struct {
	ID              int64   `json:"id,omitempty"`
	PortfolioFundID int64   `json:"portfolio_fund_id"`
	ValuationDate   string  `json:"valuation_date"` // YYYY-MM-DD
	Valuation       float64 `json:"valuation"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// ValuationPoint is the in-memory form of a valuation used by the IRR pipeline.
type ValuationPoint struct {
	ID     int64     `json:"id,omitempty"`
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

// PortfolioValuation represents a row in portfolio_valuations.
type PortfolioValuation struct {
	ID            int64   `json:"id,omitempty"`
	PortfolioID   int64   `json:"portfolio_id"`
	ValuationDate string  `json:"valuation_date"`
	Valuation     float64 `json:"valuation"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// FundIRRValue represents a row in portfolio_fund_irr_values.
// IRRResult is stored as a percentage (API boundary form).
type FundIRRValue struct {
	ID              int64   `json:"id,omitempty"`
	FundID          int64   `json:"fund_id"`
	IRRResult       float64 `json:"irr_result"`
	Date            string  `json:"date"`
	FundValuationID *int64  `json:"fund_valuation_id,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// PortfolioIRRValue represents a row in portfolio_irr_values.
type PortfolioIRRValue struct {
	ID                   int64   `json:"id,omitempty"`
	PortfolioID          int64   `json:"portfolio_id"`
	IRRResult            float64 `json:"irr_result"`
	Date                 string  `json:"date"`
	PortfolioValuationID *int64  `json:"portfolio_valuation_id,omitempty"`
	CreatedAt            string  `json:"created_at,omitempty"`
}
