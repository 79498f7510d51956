package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/resource-economy/internal/domain"
)

// InflationResult is the outcome of one inflation detection pass
type InflationResult struct {
	Currency      domain.Currency `json:"currency"`
	IsInflated    bool            `json:"is_inflated"`
	Rate          float64         `json:"rate"`
	WeeksAnalyzed int             `json:"weeks_analyzed"`
	OldestDelta   int64           `json:"oldest_delta"`
	NewestDelta   int64           `json:"newest_delta"`
}

// MitigationStrategy is one recommended counter-measure
type MitigationStrategy struct {
	Action          string   `json:"action"`
	Priority        string   `json:"priority"`
	TargetReduction float64  `json:"target_reduction,omitempty"`
	AffectedSources []string `json:"affected_sources,omitempty"`
	SuggestedSinks  []string `json:"suggested_sinks,omitempty"`
	TargetIncrease  float64  `json:"target_increase,omitempty"`
	CapMultiplier   float64  `json:"cap_multiplier,omitempty"`
	DurationDays    int      `json:"duration_days,omitempty"`
}

// MitigationPlan is the ordered strategy list for an inflated currency
type MitigationPlan struct {
	Currency      domain.Currency      `json:"currency"`
	InflationRate float64              `json:"inflation_rate"`
	Strategies    []MitigationStrategy `json:"strategies"`
	Timestamp     time.Time            `json:"timestamp"`
}

const (
	PriorityHigh   = "HIGH"
	PriorityMedium = "MEDIUM"

	severeInflationRate = 0.5
)

// WeeklyDelta recomputes the earned-minus-spent total of a (currency, ISO
// week) bucket from the full history and stores it
func (e *Engine) WeeklyDelta(c domain.Currency, week int) int64 {
	cs, ok := e.currencies[c]
	if !ok {
		return 0
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	var total int64
	for _, record := range cs.history {
		if ISOWeek(record.Timestamp) == week {
			total += flow(record)
		}
	}
	cs.weekly[week] = total
	return total
}

// WeeklyDeltas returns the accumulated weekly buckets for a currency
func (e *Engine) WeeklyDeltas(c domain.Currency) map[int]int64 {
	cs, ok := e.currencies[c]
	if !ok {
		return nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make(map[int]int64, len(cs.weekly))
	for w, v := range cs.weekly {
		out[w] = v
	}
	return out
}

// DetectInflation runs inflation detection with the configured lookback
func (e *Engine) DetectInflation(c domain.Currency) InflationResult {
	return e.DetectInflationLookback(c, e.cfg.LookbackWeeks)
}

// DetectInflationLookback compares the oldest and newest weekly delta in
// the last lookback weeks. Fewer weeks than lookback is never inflated.
// Every inflated result raises a WARNING alert.
func (e *Engine) DetectInflationLookback(c domain.Currency, lookback int) InflationResult {
	result := InflationResult{Currency: c}

	cs, ok := e.currencies[c]
	if !ok || lookback <= 0 {
		return result
	}

	cs.mu.Lock()
	weeks := make([]int, 0, len(cs.weekly))
	for w := range cs.weekly {
		weeks = append(weeks, w)
	}
	result.WeeksAnalyzed = len(weeks)
	if len(weeks) < lookback {
		cs.mu.Unlock()
		return result
	}

	sort.Ints(weeks)
	window := weeks[len(weeks)-lookback:]
	result.OldestDelta = cs.weekly[window[0]]
	result.NewestDelta = cs.weekly[window[len(window)-1]]
	if result.OldestDelta != 0 {
		result.Rate = float64(result.NewestDelta-result.OldestDelta) / math.Abs(float64(result.OldestDelta))
	}
	result.IsInflated = result.Rate > e.cfg.InflationThreshold

	cs.inflation = append(cs.inflation, domain.InflationSample{
		Timestamp:     e.now().UTC().Format(time.RFC3339),
		Rate:          result.Rate,
		WeeksAnalyzed: lookback,
	})
	if len(cs.inflation) > maxInflationSamples {
		cs.inflation = cs.inflation[len(cs.inflation)-maxInflationSamples:]
	}
	cs.mu.Unlock()

	if result.IsInflated {
		e.raise(domain.AlertWarning, fmt.Sprintf("Inflation detected in %s: %.1f%%", c, result.Rate*100),
			map[string]interface{}{
				"currency":       string(c),
				"inflation_rate": result.Rate,
				"threshold":      e.cfg.InflationThreshold,
			})
	}
	return result
}

// InflationHistory returns the recorded inflation rates for a currency
func (e *Engine) InflationHistory(c domain.Currency) []domain.InflationSample {
	cs, ok := e.currencies[c]
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]domain.InflationSample(nil), cs.inflation...)
}

// MitigateInflation re-runs detection and, when the currency is inflated,
// returns the recommended strategies ordered by severity gate. It never
// mutates any wallet.
func (e *Engine) MitigateInflation(c domain.Currency) (MitigationPlan, bool) {
	result := e.DetectInflation(c)
	if !result.IsInflated {
		return MitigationPlan{}, false
	}

	plan := MitigationPlan{
		Currency:      c,
		InflationRate: result.Rate,
		Strategies:    []MitigationStrategy{},
		Timestamp:     e.now().UTC(),
	}

	if result.Rate > e.cfg.InflationCritical {
		plan.Strategies = append(plan.Strategies, MitigationStrategy{
			Action:          "reduce_earn_rates",
			Priority:        PriorityHigh,
			TargetReduction: 0.2,
			AffectedSources: []string{"DailyLoginBonus", "WeeklyChallengeReward"},
		})
	}

	plan.Strategies = append(plan.Strategies, MitigationStrategy{
		Action:         "increase_sinks",
		Priority:       PriorityMedium,
		SuggestedSinks: []string{"Premium_Shop_Items", "Upgrade_Costs"},
		TargetIncrease: 0.15,
	})

	if result.Rate > severeInflationRate {
		plan.Strategies = append(plan.Strategies, MitigationStrategy{
			Action:        "temporary_earning_caps",
			Priority:      PriorityHigh,
			CapMultiplier: 0.8,
			DurationDays:  7,
		})
	}

	e.logger.Info("inflation mitigation plan generated",
		"currency", c,
		"inflation_rate", result.Rate,
		"strategies", len(plan.Strategies),
	)
	return plan, true
}
