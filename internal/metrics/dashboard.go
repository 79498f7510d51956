package metrics

import (
	"time"

	"github.com/resource-economy/internal/domain"
)

const recentAlerts = 5

// EconomicHealth is the figure set of a dashboard summary
type EconomicHealth struct {
	InflationRates     map[domain.Currency]float64 `json:"inflation_rates"`
	InflatedCurrencies []domain.Currency           `json:"inflated_currencies"`
	ResourceScarcity   map[domain.Currency]float64 `json:"resource_scarcity"`
	BonusDistribution  map[string]int64            `json:"bonus_distribution"`
}

// AlertSummary counts the active alerts
type AlertSummary struct {
	Active   int            `json:"active"`
	Critical int            `json:"critical"`
	Recent   []domain.Alert `json:"recent"`
}

// Dashboard is the composed monitoring view
type Dashboard struct {
	Timestamp       time.Time                         `json:"timestamp"`
	EconomicHealth  EconomicHealth                    `json:"economic_health"`
	Alerts          AlertSummary                      `json:"alerts"`
	WeeklyTrends    map[domain.Currency]map[int]int64 `json:"weekly_trends"`
	Recommendations []string                          `json:"recommendations"`
}

const (
	recommendSinks      = "Consider implementing sink mechanisms to combat inflation"
	recommendGeneration = "Increase resource generation for scarce currencies"
)

// DashboardSummary composes inflation, scarcity and bonus analytics with
// alert counts and canned recommendations
func (e *Engine) DashboardSummary() Dashboard {
	health := EconomicHealth{
		InflationRates:     make(map[domain.Currency]float64, len(domain.Currencies)),
		InflatedCurrencies: []domain.Currency{},
		ResourceScarcity:   make(map[domain.Currency]float64),
	}

	for _, c := range domain.Currencies {
		result := e.DetectInflation(c)
		health.InflationRates[c] = result.Rate
		if result.IsInflated {
			health.InflatedCurrencies = append(health.InflatedCurrencies, c)
		}
	}

	scarce := false
	for c, stats := range e.ScarcityHeatmap() {
		health.ResourceScarcity[c] = stats.ScarcityPercentage
		if stats.ScarcityPercentage > e.cfg.ScarcityWarnPercentage {
			scarce = true
		}
	}

	health.BonusDistribution = e.BonusAnalytics().TotalsByType

	trends := make(map[domain.Currency]map[int]int64, len(domain.Currencies))
	for _, c := range domain.Currencies {
		trends[c] = e.WeeklyDeltas(c)
	}

	active := e.ActiveAlerts()
	summary := AlertSummary{Active: len(active), Recent: []domain.Alert{}}
	for _, a := range active {
		if a.Level == domain.AlertCritical {
			summary.Critical++
		}
	}
	if len(active) > recentAlerts {
		summary.Recent = append(summary.Recent, active[len(active)-recentAlerts:]...)
	} else {
		summary.Recent = append(summary.Recent, active...)
	}

	recommendations := []string{}
	if len(health.InflatedCurrencies) > 0 {
		recommendations = append(recommendations, recommendSinks)
	}
	if scarce {
		recommendations = append(recommendations, recommendGeneration)
	}

	return Dashboard{
		Timestamp:       e.now().UTC(),
		EconomicHealth:  health,
		Alerts:          summary,
		WeeklyTrends:    trends,
		Recommendations: recommendations,
	}
}
