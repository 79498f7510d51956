package service

import (
	"context"
	"fmt"
	"time"

	"github.com/resource-economy/internal/domain"
	"github.com/resource-economy/internal/metrics"
	"github.com/shopspring/decimal"
)

const analysisAlertLimit = 10

// WeeklyAnalysis is the full report produced for one ISO week
type WeeklyAnalysis struct {
	Week           int                                         `json:"week"`
	Timestamp      time.Time                                   `json:"timestamp"`
	Deltas         map[domain.Currency]int64                   `json:"deltas"`
	Inflation      map[domain.Currency]metrics.InflationResult `json:"inflation"`
	Mitigation     map[domain.Currency]metrics.MitigationPlan  `json:"mitigation"`
	Scarcity       map[domain.Currency]metrics.ScarcityStats   `json:"scarcity"`
	BonusAnalytics metrics.BonusAnalytics                      `json:"bonus_analytics"`
	Thresholds     metrics.PressureReport                      `json:"thresholds"`
	Alerts         []domain.Alert                              `json:"alerts"`
}

// CurrencySummary aggregates one currency across all wallets
type CurrencySummary struct {
	Currency domain.Currency `json:"currency"`
	Total    int64           `json:"total"`
	Average  float64         `json:"average"`
	Min      int64           `json:"min"`
	Max      int64           `json:"max"`
}

// EconomySummary is the overall economy snapshot
type EconomySummary struct {
	Players      int                                 `json:"players"`
	Transactions int                                 `json:"transactions"`
	ActiveAlerts int                                 `json:"active_alerts"`
	Backups      int                                 `json:"backups"`
	Currencies   map[domain.Currency]CurrencySummary `json:"currencies"`
	Timestamp    time.Time                           `json:"timestamp"`
}

// RunWeeklyAnalysis computes the week's deltas, inflation with mitigation
// plans, scarcity, bonus analytics and pressure thresholds
func (s *EconomyService) RunWeeklyAnalysis(ctx context.Context, week int) (*WeeklyAnalysis, error) {
	if week < 1 || week > 53 {
		return nil, fmt.Errorf("%w: week %d is not an ISO week", domain.ErrInvalidRequest, week)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &WeeklyAnalysis{
		Week:       week,
		Timestamp:  time.Now().UTC(),
		Deltas:     make(map[domain.Currency]int64, len(domain.Currencies)),
		Inflation:  make(map[domain.Currency]metrics.InflationResult, len(domain.Currencies)),
		Mitigation: make(map[domain.Currency]metrics.MitigationPlan),
	}

	for _, c := range domain.Currencies {
		report.Deltas[c] = s.engine.WeeklyDelta(c, week)

		inflation := s.engine.DetectInflation(c)
		report.Inflation[c] = inflation
		if inflation.IsInflated {
			if plan, ok := s.engine.MitigateInflation(c); ok {
				report.Mitigation[c] = plan
			}
		}
	}

	report.Scarcity = s.engine.ScarcityHeatmap()
	report.BonusAnalytics = s.engine.BonusAnalytics()
	report.Thresholds = s.engine.PressureThresholds()

	active := s.engine.ActiveAlerts()
	if len(active) > analysisAlertLimit {
		active = active[len(active)-analysisAlertLimit:]
	}
	report.Alerts = active

	s.settle("weekly analysis")
	s.storeReport(fmt.Sprintf("weekly_analysis_w%d", week), report)

	s.logger.Info("weekly analysis completed",
		"week", week,
		"inflated", len(report.Mitigation),
		"alerts", len(report.Alerts),
	)
	return report, nil
}

// GetDashboard returns the monitoring dashboard
func (s *EconomyService) GetDashboard(ctx context.Context) metrics.Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dashboard := s.engine.DashboardSummary()
	s.settle("dashboard")
	s.storeReport("dashboard", dashboard)
	return dashboard
}

// EconomySummary reports totals and averages per currency
func (s *EconomyService) EconomySummary(ctx context.Context) EconomySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := s.ledger.Wallets()
	summary := EconomySummary{
		Players:      len(wallets),
		Transactions: s.engine.TransactionCount(),
		ActiveAlerts: len(s.engine.ActiveAlerts()),
		Backups:      s.guard.StackDepth(),
		Currencies:   make(map[domain.Currency]CurrencySummary, len(domain.Currencies)),
		Timestamp:    time.Now().UTC(),
	}

	for _, c := range domain.Currencies {
		cs := CurrencySummary{Currency: c}
		for i, w := range wallets {
			b := w.Balance(c)
			cs.Total += b
			if i == 0 || b < cs.Min {
				cs.Min = b
			}
			if b > cs.Max {
				cs.Max = b
			}
		}
		if len(wallets) > 0 {
			cs.Average = decimal.NewFromInt(cs.Total).
				Div(decimal.NewFromInt(int64(len(wallets)))).
				Round(2).
				InexactFloat64()
		}
		summary.Currencies[c] = cs
	}
	return summary
}

// settle saves the aggregates an analysis pass appended (inflation
// samples, alerts) so the next backup includes them
func (s *EconomyService) settle(reason string) {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if result := s.persist(); !result.Saved {
		s.logger.Warn("failed to save analysis aggregates", "reason", reason, "error", result.Error)
	}
}

func (s *EconomyService) storeReport(name string, v interface{}) {
	if !s.cfg.Storage.StoreReports {
		return
	}
	if err := s.guard.StoreReport(name, v); err != nil {
		s.logger.Warn("failed to store report", "name", name, "error", err)
	}
}
