// Package behavior implements the behavioural analyzer (C5): stateless
// derived signals -- spending baselines, anomaly scores, recurring-
// payment drift, and location risk -- consumed by the rule evaluator
// (C4) and by the rule compiler's prompt enrichment (C3). Every
// function here is a pure computation over its inputs; none of them
// write to the store.
package behavior

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendmonitor/alertengine/pkg/domain"
	sharedmath "github.com/spendmonitor/alertengine/pkg/shared/math"
)

// LocationRisk categorises how a transaction's location compares to a
// user's known whereabouts.
type LocationRisk string

const (
	LocationRiskNone                 LocationRisk = "NONE"
	LocationRiskOutOfHomeState       LocationRisk = "OUT_OF_HOME_STATE"
	LocationRiskDistantFromLastKnown LocationRisk = "DISTANT_FROM_LAST_KNOWN"
	LocationRiskImpossibleTravel     LocationRisk = "IMPOSSIBLE_TRAVEL"
)

// BaselineMetric names which aggregate Baseline computes.
type BaselineMetric string

const (
	BaselineMetricAvg    BaselineMetric = "AVG"
	BaselineMetricMedian BaselineMetric = "MEDIAN"
	BaselineMetricLastN  BaselineMetric = "LAST_N"
)

// Analyzer computes C5's derived signals over a fixed slice of a
// user's transaction history. Callers supply the relevant window
// already filtered; Analyzer performs no I/O of its own.
type Analyzer struct {
	// ImpossibleTravelKmh is the great-circle speed above which two
	// transactions are flagged as physically impossible for one
	// cardholder, default 800 km/h (commercial flight speed).
	ImpossibleTravelKmh float64
	// RecurringDriftPct is the percentage deviation from a detected
	// recurring amount that counts as drift, default 15.
	RecurringDriftPct float64
}

// NewAnalyzer builds an Analyzer with the spec's default thresholds.
func NewAnalyzer() *Analyzer {
	return &Analyzer{ImpossibleTravelKmh: 800, RecurringDriftPct: 15}
}

// Baseline computes the AVG/MEDIAN/LAST_N of txns' amounts, in the
// caller's chosen unit (the caller is responsible for narrowing txns
// to one category/merchant and one window before calling).
func (a *Analyzer) Baseline(metric BaselineMetric, txns []*domain.Transaction, lastN int) decimal.Decimal {
	if len(txns) == 0 {
		return decimal.Zero
	}

	amounts := make([]float64, 0, len(txns))
	sorted := make([]*domain.Transaction, len(txns))
	copy(sorted, txns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	switch metric {
	case BaselineMetricLastN:
		if lastN <= 0 || lastN > len(sorted) {
			lastN = len(sorted)
		}
		recent := sorted[len(sorted)-lastN:]
		for _, t := range recent {
			f, _ := t.Amount.Float64()
			amounts = append(amounts, f)
		}
		return decimalFromFloat(sharedmath.Mean(amounts))
	case BaselineMetricMedian:
		for _, t := range sorted {
			f, _ := t.Amount.Float64()
			amounts = append(amounts, f)
		}
		return decimalFromFloat(sharedmath.Median(amounts))
	default:
		for _, t := range sorted {
			f, _ := t.Amount.Float64()
			amounts = append(amounts, f)
		}
		return decimalFromFloat(sharedmath.Mean(amounts))
	}
}

// AnomalyScore is the ratio of txn's amount to the rolling median of
// same-category spend over the prior 30 days, bounded to [0, +inf).
// same30DayCategorySpend excludes txn itself.
func (a *Analyzer) AnomalyScore(txn *domain.Transaction, same30DayCategorySpend []*domain.Transaction) float64 {
	if len(same30DayCategorySpend) == 0 {
		return 0
	}
	amounts := make([]float64, 0, len(same30DayCategorySpend))
	for _, t := range same30DayCategorySpend {
		f, _ := t.Amount.Float64()
		amounts = append(amounts, f)
	}
	median := sharedmath.Median(amounts)
	if median == 0 {
		return 0
	}
	amount, _ := txn.Amount.Float64()
	score := amount / median
	if score < 0 {
		return 0
	}
	return score
}

// RecurringSeries describes the best-fit period and amount of a
// merchant's recurring charges.
type RecurringSeries struct {
	PeriodDays     float64
	ExpectedAmount decimal.Decimal
	Drifted        bool
}

// RecurringSeries fits a period and expected amount from a merchant's
// transaction history, ordered oldest-first, and flags whether the
// most recent charge drifted beyond RecurringDriftPct from the
// expected amount.
func (a *Analyzer) RecurringSeries(merchantTxns []*domain.Transaction) *RecurringSeries {
	if len(merchantTxns) < 2 {
		return nil
	}

	sorted := make([]*domain.Transaction, len(merchantTxns))
	copy(sorted, merchantTxns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	var gaps []float64
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].OccurredAt.Sub(sorted[i-1].OccurredAt).Hours()/24)
	}
	period := sharedmath.Median(gaps)

	amounts := make([]float64, 0, len(sorted)-1)
	for _, t := range sorted[:len(sorted)-1] {
		f, _ := t.Amount.Float64()
		amounts = append(amounts, f)
	}
	expected := sharedmath.Median(amounts)
	expectedDec := decimalFromFloat(expected)

	latest := sorted[len(sorted)-1]
	drifted := false
	if expected != 0 {
		latestAmount, _ := latest.Amount.Float64()
		pctDelta := ((latestAmount - expected) / expected) * 100
		if pctDelta < 0 {
			pctDelta = -pctDelta
		}
		drifted = pctDelta > a.RecurringDriftPct
	}

	return &RecurringSeries{PeriodDays: period, ExpectedAmount: expectedDec, Drifted: drifted}
}

// LocationRisk compares txn's coordinates against the user's home and
// last-known coordinates, returning the highest-severity category that
// applies. A txn or user with no coordinates on file returns
// LocationRiskNone rather than erroring; the evaluator treats that the
// same as a non-triggering LOCATION rule.
func (a *Analyzer) LocationRisk(user *domain.User, txn *domain.Transaction, lastKnownAt time.Time) LocationRisk {
	if txn.Coords == nil {
		return LocationRiskNone
	}

	if user.LastKnownCoords != nil && !lastKnownAt.IsZero() {
		elapsedHours := txn.OccurredAt.Sub(lastKnownAt).Hours()
		if elapsedHours > 0 {
			distanceKm := sharedmath.HaversineDistanceKm(
				user.LastKnownCoords.Lat, user.LastKnownCoords.Lon,
				txn.Coords.Lat, txn.Coords.Lon,
			)
			speedKmh := distanceKm / elapsedHours
			if speedKmh > a.ImpossibleTravelKmh {
				return LocationRiskImpossibleTravel
			}
			if distanceKm > 100 {
				return LocationRiskDistantFromLastKnown
			}
		}
	}

	if user.HomeCoords != nil {
		distanceFromHomeKm := sharedmath.HaversineDistanceKm(
			user.HomeCoords.Lat, user.HomeCoords.Lon,
			txn.Coords.Lat, txn.Coords.Lon,
		)
		if distanceFromHomeKm > 100 {
			return LocationRiskOutOfHomeState
		}
	}

	return LocationRiskNone
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
