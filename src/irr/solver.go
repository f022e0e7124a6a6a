// backend/src/irr/solver.go
package irr

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Result is the outcome of a single IRR calculation. Rates are decimal
// fractions (0.0521 == 5.21%); conversion to percentage happens at the API
// boundary only.
type Result struct {
	PeriodicRate   float64   `json:"periodic_rate"`
	AnnualizedRate float64   `json:"annualized_rate"`
	DaysInPeriod   int       `json:"days_in_period"`
	FirstDate      time.Time `json:"first_date"`
	LastDate       time.Time `json:"last_date"`
	IsSimpleReturn bool      `json:"is_simple_return"`
	ExtremeRate    bool      `json:"extreme_rate"`
}

// periodClass classifies the span of a cash-flow vector. Each degenerate
// class maps to one documented fallback formula instead of a real solve.
type periodClass int

const (
	periodNormal periodClass = iota
	periodIdenticalDates
	periodSubDay
	periodSubMonth
)

const (
	newtonMaxIterations = 100
	newtonTolerance     = 1e-9
	bisectMaxIterations = 200
	bracketLow          = -0.9999
	bracketHigh         = 10.0
)

// Solve computes the monthly periodic rate at which the discounted sum of
// the given cash flows is zero, then annualizes it linearly (monthly × 12).
// Degenerate periods fall back to a simple-return approximation.
func Solve(vector MonthlyCashFlowVector) (Result, error) {
	if err := validateVector(vector); err != nil {
		return Result{}, err
	}

	flows := make(MonthlyCashFlowVector, len(vector))
	copy(flows, vector)
	sort.Slice(flows, func(i, j int) bool { return flows[i].Date.Before(flows[j].Date) })

	first, last := flows[0].Date, flows[len(flows)-1].Date
	days := int(last.Sub(first).Hours() / 24)
	monthSpan := monthsBetween(first, last)

	switch classifyPeriod(first, last, days, monthSpan) {
	case periodIdenticalDates, periodSubDay:
		// No rate exists over a zero-length period; report the simple
		// return of the whole series.
		sr := simpleReturn(flows)
		return Result{
			PeriodicRate:   sr,
			AnnualizedRate: sr * 12,
			DaysInPeriod:   0,
			FirstDate:      first,
			LastDate:       last,
			IsSimpleReturn: true,
			ExtremeRate:    math.Abs(sr) > 1,
		}, nil
	case periodSubMonth:
		sr := simpleReturn(flows)
		annualized := math.Pow(1+sr, 365/float64(days)) - 1
		return Result{
			PeriodicRate:   sr,
			AnnualizedRate: annualized,
			DaysInPeriod:   days,
			FirstDate:      first,
			LastDate:       last,
			IsSimpleReturn: true,
			ExtremeRate:    math.Abs(sr) > 1,
		}, nil
	}

	monthly, err := denseMonthlyFlows(flows, first, monthSpan)
	if err != nil {
		return Result{}, err
	}

	rate, err := solveMonthlyRate(monthly)
	if err != nil {
		return Result{}, fmt.Errorf("%w: cash flows %v", err, monthly)
	}

	return Result{
		PeriodicRate:   rate,
		AnnualizedRate: rate * 12,
		DaysInPeriod:   days,
		FirstDate:      first,
		LastDate:       last,
		IsSimpleReturn: false,
		ExtremeRate:    math.Abs(rate) > 1,
	}, nil
}

func classifyPeriod(first, last time.Time, days, monthSpan int) periodClass {
	switch {
	case first.Equal(last):
		return periodIdenticalDates
	case days <= 0:
		return periodSubDay
	case monthSpan == 0:
		return periodSubMonth
	default:
		return periodNormal
	}
}

// monthsBetween returns the calendar-month distance between two dates,
// ignoring days. The inclusive slot count is monthsBetween(a, b) + 1.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
}

// simpleReturn computes totalInflow / |totalOutflow| - 1 over the series.
func simpleReturn(flows MonthlyCashFlowVector) float64 {
	var inflow, outflow float64
	for _, cf := range flows {
		if cf.Amount > 0 {
			inflow += cf.Amount
		} else {
			outflow += -cf.Amount
		}
	}
	if outflow == 0 {
		return 0
	}
	return inflow/outflow - 1
}

// denseMonthlyFlows spreads the vector over an inclusive monthly array
// spanning [firstMonth, lastMonth], summing multiple events per month. The
// final month's net amount must be positive unless total withdrawals
// legitimately exceed total investments.
func denseMonthlyFlows(flows MonthlyCashFlowVector, first time.Time, monthSpan int) ([]float64, error) {
	monthly := make([]float64, monthSpan+1)
	for _, cf := range flows {
		idx := monthsBetween(first, cf.Date)
		monthly[idx] += cf.Amount
	}

	if monthly[len(monthly)-1] < 0 {
		var positive, negative float64
		for _, amount := range monthly {
			if amount > 0 {
				positive += amount
			} else {
				negative += -amount
			}
		}
		if positive <= negative {
			return nil, fmt.Errorf("%w: final month nets %.2f with inflows %.2f <= outflows %.2f",
				ErrNegativeFinalFlow, monthly[len(monthly)-1], positive, negative)
		}
	}
	return monthly, nil
}

// solveMonthlyRate finds r such that sum(flow[i] / (1+r)^i) = 0 using
// Newton's method with a bisection fallback when Newton fails to converge.
func solveMonthlyRate(monthly []float64) (float64, error) {
	npv := func(r float64) float64 {
		var sum float64
		for i, amount := range monthly {
			sum += amount / math.Pow(1+r, float64(i))
		}
		return sum
	}
	dnpv := func(r float64) float64 {
		var sum float64
		for i, amount := range monthly {
			if i == 0 {
				continue
			}
			sum -= float64(i) * amount / math.Pow(1+r, float64(i+1))
		}
		return sum
	}

	rate := 0.1
	for i := 0; i < newtonMaxIterations; i++ {
		value := npv(rate)
		derivative := dnpv(rate)
		if derivative == 0 || math.IsNaN(derivative) || math.IsInf(derivative, 0) {
			break
		}
		next := rate - value/derivative
		if next <= -1 {
			// Keep the iterate inside the solver's domain.
			next = (rate - 1) / 2
		}
		if math.IsNaN(next) || math.IsInf(next, 0) {
			break
		}
		if math.Abs(next-rate) < newtonTolerance {
			if math.Abs(npv(next)) < 1e-6 {
				return next, nil
			}
			break
		}
		rate = next
	}

	return bisectMonthlyRate(npv)
}

// bisectMonthlyRate scans [bracketLow, bracketHigh] for a sign change and
// bisects it. No sign change means no real solution in the practical range.
func bisectMonthlyRate(npv func(float64) float64) (float64, error) {
	const scanSteps = 1000
	step := (bracketHigh - bracketLow) / scanSteps

	lo, hi := math.NaN(), math.NaN()
	prev := bracketLow
	prevVal := npv(prev)
	for i := 1; i <= scanSteps; i++ {
		cur := bracketLow + float64(i)*step
		curVal := npv(cur)
		if prevVal == 0 {
			return prev, nil
		}
		if prevVal*curVal < 0 {
			lo, hi = prev, cur
			break
		}
		prev, prevVal = cur, curVal
	}
	if math.IsNaN(lo) {
		return 0, ErrNoSolution
	}

	loVal := npv(lo)
	for i := 0; i < bisectMaxIterations; i++ {
		mid := (lo + hi) / 2
		midVal := npv(mid)
		if math.Abs(midVal) < 1e-9 || (hi-lo)/2 < newtonTolerance {
			return mid, nil
		}
		if loVal*midVal < 0 {
			hi = mid
		} else {
			lo, loVal = mid, midVal
		}
	}
	return (lo + hi) / 2, nil
}
