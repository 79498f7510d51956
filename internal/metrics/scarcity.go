package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/resource-economy/internal/domain"
)

// ScarcityStats describes the balance distribution of one currency
type ScarcityStats struct {
	Currency           domain.Currency `json:"currency"`
	Players            int             `json:"players"`
	Mean               float64         `json:"mean"`
	StdDev             float64         `json:"std_dev"`
	Min                int64           `json:"min"`
	Median             float64         `json:"median"`
	Max                int64           `json:"max"`
	ScarcePlayers      []string        `json:"scarce_players"`
	ScarcityPercentage float64         `json:"scarcity_percentage"`
}

// ScarcityHeatmap computes distribution statistics for every currency with
// at least one tracked balance. A scarcity percentage above the alert
// level raises a WARNING.
func (e *Engine) ScarcityHeatmap() map[domain.Currency]ScarcityStats {
	heatmap := make(map[domain.Currency]ScarcityStats)

	for _, c := range domain.Currencies {
		cs := e.currencies[c]
		cs.mu.Lock()
		if len(cs.distribution) == 0 {
			cs.mu.Unlock()
			continue
		}
		players := make([]string, 0, len(cs.order))
		values := make([]int64, 0, len(cs.order))
		for _, p := range cs.order {
			players = append(players, p)
			values = append(values, cs.distribution[p])
		}
		cs.mu.Unlock()

		heatmap[c] = scarcityStats(c, players, values, e.cfg.ScarcityThreshold)
	}

	for _, c := range domain.Currencies {
		stats, ok := heatmap[c]
		if !ok || stats.ScarcityPercentage <= e.cfg.ScarcityAlertPercentage {
			continue
		}
		e.raise(domain.AlertWarning, fmt.Sprintf("High scarcity in %s: %.1f%% of players", c, stats.ScarcityPercentage),
			map[string]interface{}{
				"currency":            string(c),
				"scarcity_percentage": stats.ScarcityPercentage,
				"scarce_players":      len(stats.ScarcePlayers),
			})
	}
	return heatmap
}

func scarcityStats(c domain.Currency, players []string, values []int64, threshold float64) ScarcityStats {
	n := float64(len(values))
	stats := ScarcityStats{Currency: c, Players: len(values), ScarcePlayers: []string{}}

	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	stats.Mean = sum / n

	var sq float64
	for _, v := range values {
		d := float64(v) - stats.Mean
		sq += d * d
	}
	stats.StdDev = math.Sqrt(sq / n)

	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		stats.Median = float64(sorted[mid-1]+sorted[mid]) / 2
	} else {
		stats.Median = float64(sorted[mid])
	}

	cutoff := stats.Mean * threshold
	for i, v := range values {
		if float64(v) < cutoff {
			stats.ScarcePlayers = append(stats.ScarcePlayers, players[i])
		}
	}
	stats.ScarcityPercentage = float64(len(stats.ScarcePlayers)) / n * 100
	return stats
}
