package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/resource-economy/internal/domain"
)

const (
	bonusWindow     = 20
	bonusHalfWindow = 10
	efficacyRecent  = 3
)

// PlayerBonus is a player's total bonus received
type PlayerBonus struct {
	PlayerID string `json:"player_id"`
	Total    int64  `json:"total"`
}

// BonusEfficacy is the performance change attributed to one bonus type
type BonusEfficacy struct {
	PlayerID  string  `json:"player_id"`
	BonusType string  `json:"bonus_type"`
	Score     float64 `json:"score"`
	Samples   int     `json:"samples"`
}

// BonusAnalytics aggregates every tracked bonus
type BonusAnalytics struct {
	TotalsByType   map[string]int64   `json:"totals_by_type"`
	CountsByType   map[string]int     `json:"counts_by_type"`
	PlayersByType  map[string]int     `json:"players_by_type"`
	AveragesByType map[string]float64 `json:"averages_by_type"`
	TopPerformers  []PlayerBonus      `json:"top_performers"`
	EfficacyScores map[string]float64 `json:"efficacy_scores"`
	InflationRisk  map[string]float64 `json:"inflation_risk"`
}

// TrackBonus records a bonus payout and the performance metric it was
// paid against. The efficacy score of the (player, type) pair is
// recomputed once it has at least two samples.
func (e *Engine) TrackBonus(playerID, bonusType string, amount int64, performance float64) BonusEfficacy {
	e.bonusMu.Lock()
	defer e.bonusMu.Unlock()

	totals, ok := e.bonusTotals[playerID]
	if !ok {
		totals = make(map[string]int64)
		e.bonusTotals[playerID] = totals
		e.bonusPlayers = append(e.bonusPlayers, playerID)
	}
	totals[bonusType] += amount

	e.bonusSamples = append(e.bonusSamples, domain.BonusSample{
		PlayerID:          playerID,
		BonusType:         bonusType,
		Amount:            amount,
		PerformanceMetric: performance,
		Timestamp:         e.now().UTC().Format(time.RFC3339Nano),
	})

	var perf []float64
	for _, s := range e.bonusSamples {
		if s.PlayerID == playerID && s.BonusType == bonusType {
			perf = append(perf, s.PerformanceMetric)
		}
	}

	result := BonusEfficacy{PlayerID: playerID, BonusType: bonusType, Samples: len(perf)}
	key := efficacyKey(playerID, bonusType)
	if len(perf) >= 2 {
		e.efficacy[key] = efficacy(perf)
	}
	result.Score = e.efficacy[key]
	return result
}

// BonusAnalytics aggregates totals per type, averages them over the
// players who received that type, ranks players by
// total received and measures per-type bonus inflation over the most
// recent samples. Inflation above the configured threshold raises a
// CRITICAL alert.
func (e *Engine) BonusAnalytics() BonusAnalytics {
	analytics := BonusAnalytics{
		TotalsByType:   make(map[string]int64),
		CountsByType:   make(map[string]int),
		PlayersByType:  make(map[string]int),
		AveragesByType: make(map[string]float64),
		TopPerformers:  []PlayerBonus{},
		EfficacyScores: make(map[string]float64),
		InflationRisk:  make(map[string]float64),
	}

	e.bonusMu.Lock()
	byType := make(map[string][]int64)
	var types []string
	for _, s := range e.bonusSamples {
		if _, seen := byType[s.BonusType]; !seen {
			types = append(types, s.BonusType)
		}
		byType[s.BonusType] = append(byType[s.BonusType], s.Amount)
		analytics.TotalsByType[s.BonusType] += s.Amount
		analytics.CountsByType[s.BonusType]++
	}

	for _, p := range e.bonusPlayers {
		var total int64
		for t, v := range e.bonusTotals[p] {
			total += v
			analytics.PlayersByType[t]++
		}
		analytics.TopPerformers = append(analytics.TopPerformers, PlayerBonus{PlayerID: p, Total: total})
	}
	for k, v := range e.efficacy {
		analytics.EfficacyScores[k] = v
	}
	e.bonusMu.Unlock()

	// Averages are per receiving player, not per payout
	for t, total := range analytics.TotalsByType {
		if n := analytics.PlayersByType[t]; n > 0 {
			analytics.AveragesByType[t] = float64(total) / float64(n)
		}
	}

	sort.SliceStable(analytics.TopPerformers, func(i, j int) bool {
		return analytics.TopPerformers[i].Total > analytics.TopPerformers[j].Total
	})
	if n := e.cfg.TopPerformers; n > 0 && len(analytics.TopPerformers) > n {
		analytics.TopPerformers = analytics.TopPerformers[:n]
	}

	for _, t := range types {
		rate, ok := bonusInflation(byType[t])
		if !ok {
			continue
		}
		analytics.InflationRisk[t] = rate
		if rate > e.cfg.BonusInflationThreshold {
			e.raise(domain.AlertCritical, fmt.Sprintf("Bonus inflation detected for %s: %.1f%%", t, rate*100),
				map[string]interface{}{
					"bonus_type":     t,
					"inflation_rate": rate,
					"threshold":      e.cfg.BonusInflationThreshold,
				})
		}
	}
	return analytics
}

// bonusInflation compares the latest and earliest half of the most recent
// sample window. It needs at least half a window of samples.
func bonusInflation(amounts []int64) (float64, bool) {
	window := amounts
	if len(window) > bonusWindow {
		window = window[len(window)-bonusWindow:]
	}
	if len(window) < bonusHalfWindow {
		return 0, false
	}

	early := meanInt(window[:bonusHalfWindow])
	late := meanInt(window[len(window)-bonusHalfWindow:])
	if early == 0 {
		return 0, true
	}
	return (late - early) / early, true
}

func efficacy(perf []float64) float64 {
	recent := perf
	if len(recent) > efficacyRecent {
		recent = recent[len(recent)-efficacyRecent:]
	}
	all := meanFloat(perf)
	if all == 0 {
		return 0
	}
	return (meanFloat(recent) - all) / all
}

func efficacyKey(playerID, bonusType string) string {
	return playerID + ":" + bonusType
}

func meanInt(values []int64) float64 {
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

func meanFloat(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
