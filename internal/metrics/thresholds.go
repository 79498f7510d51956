package metrics

import (
	"fmt"
	"time"

	"github.com/resource-economy/internal/domain"
)

// BankruptcyFloors are the balances at or below which a player is flagged
var BankruptcyFloors = map[domain.Currency]int64{
	domain.CurrencySoft:           100,
	domain.CurrencyPremium:        0,
	domain.CurrencyCoachingCredit: 5,
}

// ThresholdTable is the fixed set of economic pressure thresholds
type ThresholdTable struct {
	BankruptcyRisk   map[domain.Currency]int64 `json:"bankruptcy_risk"`
	InflationWarning float64                   `json:"inflation_warning"`
	InflationCrit    float64                   `json:"inflation_critical"`
	ScarcityWarning  float64                   `json:"scarcity_warning"`
	ScarcityCritical float64                   `json:"scarcity_critical"`
	BonusCapWarning  float64                   `json:"bonus_cap_warning"`
}

// PressureWarning is one threshold breach
type PressureWarning struct {
	Type     string            `json:"type"`
	Currency domain.Currency   `json:"currency"`
	Level    domain.AlertLevel `json:"level"`
	Players  []string          `json:"players,omitempty"`
	Rate     float64           `json:"rate,omitempty"`
}

// PressureReport is the result of a threshold check
type PressureReport struct {
	Thresholds ThresholdTable    `json:"thresholds"`
	Warnings   []PressureWarning `json:"warnings"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Thresholds returns the threshold table in effect
func (e *Engine) Thresholds() ThresholdTable {
	floors := make(map[domain.Currency]int64, len(BankruptcyFloors))
	for c, v := range BankruptcyFloors {
		floors[c] = v
	}
	return ThresholdTable{
		BankruptcyRisk:   floors,
		InflationWarning: e.cfg.InflationThreshold,
		InflationCrit:    e.cfg.InflationCritical,
		ScarcityWarning:  e.cfg.ScarcityWarnPercentage,
		ScarcityCritical: e.cfg.ScarcityCritPercentage,
		BonusCapWarning:  e.cfg.BonusCapWarning,
	}
}

// PressureThresholds flags players at or below the bankruptcy floors and
// inflated currencies, and raises one alert per flag
func (e *Engine) PressureThresholds() PressureReport {
	report := PressureReport{
		Thresholds: e.Thresholds(),
		Warnings:   []PressureWarning{},
		Timestamp:  e.now().UTC(),
	}

	for _, c := range domain.Currencies {
		floor := BankruptcyFloors[c]
		cs := e.currencies[c]

		var flagged []string
		cs.mu.Lock()
		for _, p := range cs.order {
			if cs.distribution[p] <= floor {
				flagged = append(flagged, p)
			}
		}
		cs.mu.Unlock()

		if len(flagged) == 0 {
			continue
		}
		level := domain.AlertWarning
		if len(flagged) > e.cfg.BankruptcyPlayerCritical {
			level = domain.AlertCritical
		}
		report.Warnings = append(report.Warnings, PressureWarning{
			Type:     "bankruptcy_risk",
			Currency: c,
			Level:    level,
			Players:  flagged,
		})
	}

	for _, c := range domain.Currencies {
		result := e.DetectInflation(c)
		switch {
		case result.Rate > e.cfg.InflationCritical:
			report.Warnings = append(report.Warnings, PressureWarning{
				Type:     "inflation_critical",
				Currency: c,
				Level:    domain.AlertEmergency,
				Rate:     result.Rate,
			})
		case result.IsInflated:
			report.Warnings = append(report.Warnings, PressureWarning{
				Type:     "inflation_warning",
				Currency: c,
				Level:    domain.AlertWarning,
				Rate:     result.Rate,
			})
		}
	}

	for _, w := range report.Warnings {
		data := map[string]interface{}{"type": w.Type, "currency": string(w.Currency)}
		if len(w.Players) > 0 {
			data["players"] = len(w.Players)
		}
		if w.Rate != 0 {
			data["rate"] = w.Rate
		}
		e.raise(w.Level, fmt.Sprintf("%s - %s", w.Type, w.Currency), data)
	}
	return report
}
