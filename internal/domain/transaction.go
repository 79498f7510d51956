package domain

import "time"

// TransactionType classifies a ledger mutation
type TransactionType string

const (
	TransactionEarn  TransactionType = "earn"
	TransactionSpend TransactionType = "spend"
)

// Context keys written by the ledger
const (
	ContextCapReached      = "cap_reached"
	ContextExcessDiscarded = "excess_amount_discarded"
	ContextRequestedAmount = "requested_amount"
)

// TransactionRecord is the immutable audit entry for one mutation attempt
type TransactionRecord struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	PlayerID      string                 `json:"player_id"`
	Currency      Currency               `json:"currency"`
	Type          TransactionType        `json:"type"`
	Delta         int64                  `json:"delta"`
	Source        string                 `json:"source"`
	Context       map[string]interface{} `json:"context,omitempty"`
	BalanceAfter  int64                  `json:"balance_after"`
	Success       bool                   `json:"success"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

// Truncated reports whether a capped add applied less than requested
func (r TransactionRecord) Truncated() bool {
	v, _ := r.Context[ContextCapReached].(bool)
	return v
}

// TransactionRequest represents a request to apply a signed amount to a wallet
type TransactionRequest struct {
	PlayerID      string                 `json:"player_id"`
	Currency      string                 `json:"currency"`
	Amount        int64                  `json:"amount"`
	Source        string                 `json:"source"`
	Context       map[string]interface{} `json:"context,omitempty"`
	AllowRollback *bool                  `json:"allow_rollback,omitempty"`
}

// RollbackEnabled returns the rollback flag, defaulting to true
func (r TransactionRequest) RollbackEnabled() bool {
	if r.AllowRollback == nil {
		return true
	}
	return *r.AllowRollback
}

// TransactionResult is the outcome of a processed transaction
type TransactionResult struct {
	Record    TransactionRecord `json:"record"`
	Saved     bool              `json:"saved"`
	SaveError string            `json:"save_error,omitempty"`
}

// BatchTransactionRequest represents multiple transactions
type BatchTransactionRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// BonusRequest represents a contract bonus payout
type BonusRequest struct {
	PlayerID              string  `json:"player_id"`
	BonusType             string  `json:"bonus_type"`
	BaseAmount            int64   `json:"base_amount"`
	PerformanceMultiplier float64 `json:"performance_multiplier"`
}

// BonusResult is the outcome of a bonus payout
type BonusResult struct {
	PlayerID      string `json:"player_id"`
	BonusType     string `json:"bonus_type"`
	BonusAmount   int64  `json:"bonus_amount"`
	AppliedAmount int64  `json:"applied_amount"`
}
