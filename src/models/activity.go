package models

import "time"

// ActivityType is the closed set of holding activity categories.
// The cash-flow sign convention for each type lives in the irr package.
type ActivityType string

const (
	ActivityInvestment        ActivityType = "Investment"
	ActivityRegularInvestment ActivityType = "RegularInvestment"
	ActivityTaxUplift         ActivityType = "TaxUplift"
	ActivityProductSwitchIn   ActivityType = "ProductSwitchIn"
	ActivityFundSwitchIn      ActivityType = "FundSwitchIn"

	ActivityWithdrawal        ActivityType = "Withdrawal"
	ActivityRegularWithdrawal ActivityType = "RegularWithdrawal"
	ActivityProductSwitchOut  ActivityType = "ProductSwitchOut"
	ActivityFundSwitchOut     ActivityType = "FundSwitchOut"

	ActivityFee     ActivityType = "Fee"
	ActivityCharge  ActivityType = "Charge"
	ActivityExpense ActivityType = "Expense"

	ActivityDividend    ActivityType = "Dividend"
	ActivityInterest    ActivityType = "Interest"
	ActivityCapitalGain ActivityType = "CapitalGain"
)

// KnownActivityTypes lists every valid activity type, used for input validation.
var KnownActivityTypes = []ActivityType{
	ActivityInvestment, ActivityRegularInvestment, ActivityTaxUplift,
	ActivityProductSwitchIn, ActivityFundSwitchIn,
	ActivityWithdrawal, ActivityRegularWithdrawal,
	ActivityProductSwitchOut, ActivityFundSwitchOut,
	ActivityFee, ActivityCharge, ActivityExpense,
	ActivityDividend, ActivityInterest, ActivityCapitalGain,
}

// IsKnownActivityType reports whether t is in the closed activity set.
func IsKnownActivityType(t ActivityType) bool {
	for _, k := range KnownActivityTypes {
		if k == t {
			return true
		}
	}
	return false
}

// CashFlowEvent is a single dated monetary movement for a fund.
// Amount is the magnitude as recorded; the sign is assigned during
// cash-flow aggregation based on ActivityType.
type CashFlowEvent struct {
	Date         time.Time    `json:"date"`
	Amount       float64      `json:"amount"`
	ActivityType ActivityType `json:"activity_type"`
}

// HoldingActivity represents a row in holding_activity_log.
type HoldingActivity struct {
	ID                int64        `json:"id,omitempty"`
	PortfolioFundID   int64        `json:"portfolio_fund_id"`
	ActivityTimestamp string       `json:"activity_timestamp"` // YYYY-MM-DD
	ActivityType      ActivityType `json:"activity_type"`
	Amount            float64      `json:"amount"`
	CreatedAt         string       `json:"created_at,omitempty"`
}
