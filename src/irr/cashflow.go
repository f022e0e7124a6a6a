// backend/src/irr/cashflow.go
package irr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/username/wealthvisor/backend/src/logger"
	"github.com/username/wealthvisor/backend/src/models"
)

// Errors surfaced by the cash-flow core. Callers decide whether a degenerate
// vector maps to a 0% result or to a failed calculation.
var (
	ErrDegenerateCashFlow = errors.New("degenerate cash flow")
	ErrNoSolution         = errors.New("no IRR solution found")
	ErrNegativeFinalFlow  = errors.New("final cash flow must be positive")
)

// minFlowAmount: bucket totals below one minor currency unit are rounded to
// zero to suppress floating-point noise from summing many small flows.
const minFlowAmount = 0.01

// CashFlow is one entry of a monthly cash-flow vector: a dated signed amount.
type CashFlow struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
}

// MonthlyCashFlowVector is a chronologically sorted sequence of signed cash
// flows, at most one activity entry per calendar month plus an optional
// valuation entry. Zero-amount months are implicit.
type MonthlyCashFlowVector []CashFlow

// SignedAmount applies the investor-perspective sign convention for an
// activity type. Money entering the fund (investments, switch-ins,
// reinvested gains) is negative; money leaving (withdrawals, switch-outs,
// fees) is positive. The second return value is false for unknown types.
func SignedAmount(activityType models.ActivityType, amount float64) (float64, bool) {
	mag := math.Abs(amount)
	switch activityType {
	case models.ActivityInvestment, models.ActivityRegularInvestment,
		models.ActivityTaxUplift, models.ActivityProductSwitchIn,
		models.ActivityFundSwitchIn:
		return -mag, true
	case models.ActivityWithdrawal, models.ActivityRegularWithdrawal,
		models.ActivityProductSwitchOut, models.ActivityFundSwitchOut:
		return mag, true
	case models.ActivityFee, models.ActivityCharge, models.ActivityExpense:
		return mag, true
	case models.ActivityDividend, models.ActivityInterest, models.ActivityCapitalGain:
		return -mag, true
	default:
		return 0, false
	}
}

type monthKey struct {
	year  int
	month time.Month
}

func keyOf(t time.Time) monthKey {
	return monthKey{year: t.Year(), month: t.Month()}
}

// Aggregate converts a list of dated activity events plus a terminal
// valuation into a monthly cash-flow vector.
//
// Activities are bucketed by calendar month (anchored to day 1). The final
// valuation joins the vector as a positive flow anchored to the end of its
// own month; a valuation of exactly zero is omitted so fully-exited
// positions can still produce an IRR from activities alone. When everything
// lands in a single calendar month, the valuation is pushed to day 1 of the
// following month so the solver sees a non-zero period.
func Aggregate(events []models.CashFlowEvent, final *models.ValuationPoint) (MonthlyCashFlowVector, error) {
	buckets := make(map[monthKey]float64)
	for _, ev := range events {
		signed, ok := SignedAmount(ev.ActivityType, ev.Amount)
		if !ok {
			logger.L.Warn("Unknown activity type excluded from cash flow aggregation",
				"activityType", ev.ActivityType, "date", ev.Date.Format("2006-01-02"))
			continue
		}
		buckets[keyOf(ev.Date)] += signed
	}

	var valuationFlow *CashFlow
	if final != nil && final.Amount != 0 {
		vKey := keyOf(final.Date)
		singleMonth := len(buckets) > 0 && vKey == soleKey(buckets)
		if singleMonth {
			// All flows share one calendar month: anchor activities to day 1
			// and the valuation to day 1 of the following month, giving the
			// solver a one-month spread.
			next := time.Date(vKey.year, vKey.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			valuationFlow = &CashFlow{Date: next, Amount: final.Amount}
		} else {
			// The valuation shares its month slot with any activities booked
			// in the same month; it must not spill into an artificial
			// next-period bucket.
			end := endOfMonth(vKey)
			valuationFlow = &CashFlow{Date: end, Amount: final.Amount}
		}
	}

	vector := make(MonthlyCashFlowVector, 0, len(buckets)+1)
	for k, amount := range buckets {
		if math.Abs(amount) < minFlowAmount {
			continue
		}
		vector = append(vector, CashFlow{
			Date:   time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC),
			Amount: amount,
		})
	}
	if valuationFlow != nil && math.Abs(valuationFlow.Amount) >= minFlowAmount {
		vector = append(vector, *valuationFlow)
	}

	sort.Slice(vector, func(i, j int) bool { return vector[i].Date.Before(vector[j].Date) })

	if err := validateVector(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func validateVector(v MonthlyCashFlowVector) error {
	if len(v) < 2 {
		return fmt.Errorf("%w: need at least 2 non-zero flows, got %d", ErrDegenerateCashFlow, len(v))
	}
	hasPositive, hasNegative := false, false
	for _, cf := range v {
		if cf.Amount > 0 {
			hasPositive = true
		} else if cf.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasNegative {
		return fmt.Errorf("%w: no negative flow present", ErrDegenerateCashFlow)
	}
	if !hasPositive {
		return fmt.Errorf("%w: no positive flow present", ErrDegenerateCashFlow)
	}
	return nil
}

func soleKey(buckets map[monthKey]float64) monthKey {
	var only monthKey
	first := true
	for k := range buckets {
		if first {
			only = k
			first = false
			continue
		}
		// More than one month present; return a key that matches nothing.
		return monthKey{}
	}
	return only
}

func endOfMonth(k monthKey) time.Time {
	return time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}
