package domain

// EconomyState is the full serializable economy: wallets plus metrics
type EconomyState struct {
	Wallets map[string]Wallet `json:"wallets"`
	Metrics MetricsState      `json:"metrics"`
}

// NewEconomyState returns the empty economy
func NewEconomyState() EconomyState {
	return EconomyState{
		Wallets: make(map[string]Wallet),
		Metrics: NewMetricsState(),
	}
}

// BonusSample is one tracked contract bonus payout
type BonusSample struct {
	PlayerID          string  `json:"player_id"`
	BonusType         string  `json:"bonus_type"`
	Amount            int64   `json:"amount"`
	PerformanceMetric float64 `json:"performance_metric"`
	Timestamp         string  `json:"timestamp"`
}

// InflationSample records one inflation computation
type InflationSample struct {
	Timestamp     string  `json:"timestamp"`
	Rate          float64 `json:"rate"`
	WeeksAnalyzed int     `json:"weeks_analyzed"`
}

// MetricsState is the serializable form of the metrics engine
type MetricsState struct {
	History          map[Currency][]TransactionRecord `json:"history"`
	WeeklyDeltas     map[Currency]map[int]int64       `json:"weekly_deltas"`
	Distribution     map[Currency]map[string]int64    `json:"distribution"`
	DistributionSeq  map[Currency][]string            `json:"distribution_seq"`
	BonusTotals      map[string]map[string]int64      `json:"bonus_totals"`
	BonusPlayers     []string                         `json:"bonus_players"`
	BonusSamples     []BonusSample                    `json:"bonus_samples"`
	EfficacyScores   map[string]float64               `json:"efficacy_scores"`
	InflationHistory map[Currency][]InflationSample   `json:"inflation_history"`
	ActiveAlerts     []Alert                          `json:"active_alerts"`
	AlertHistory     []Alert                          `json:"alert_history"`
}

// NewMetricsState returns an empty metrics state with allocated maps
func NewMetricsState() MetricsState {
	return MetricsState{
		History:          make(map[Currency][]TransactionRecord),
		WeeklyDeltas:     make(map[Currency]map[int]int64),
		Distribution:     make(map[Currency]map[string]int64),
		DistributionSeq:  make(map[Currency][]string),
		BonusTotals:      make(map[string]map[string]int64),
		EfficacyScores:   make(map[string]float64),
		InflationHistory: make(map[Currency][]InflationSample),
	}
}
