package domain

import "time"

// Wallet holds one player's balances
type Wallet struct {
	PlayerID  string             `json:"player_id"`
	Balances  map[Currency]int64 `json:"balances"`
	Caps      map[Currency]int64 `json:"caps"`
	CreatedAt time.Time          `json:"created_at"`
}

// Balance returns the balance for a currency
func (w Wallet) Balance(c Currency) int64 {
	return w.Balances[c]
}

// Clone returns a deep copy of the wallet
func (w Wallet) Clone() Wallet {
	out := Wallet{
		PlayerID:  w.PlayerID,
		Balances:  make(map[Currency]int64, len(w.Balances)),
		Caps:      make(map[Currency]int64, len(w.Caps)),
		CreatedAt: w.CreatedAt,
	}
	for c, v := range w.Balances {
		out.Balances[c] = v
	}
	for c, v := range w.Caps {
		out.Caps[c] = v
	}
	return out
}

// CreatePlayerRequest represents a request to register a player wallet
type CreatePlayerRequest struct {
	PlayerID          string           `json:"player_id"`
	Balances          map[string]int64 `json:"balances,omitempty"`
	CoachingCreditCap *int64           `json:"coaching_credit_cap,omitempty"`
}

// WalletDefaults holds the starting balances applied to new wallets
type WalletDefaults struct {
	Soft              int64
	Premium           int64
	CoachingCredit    int64
	CoachingCreditCap int64
}

// WithDefaults fills in starting balances and the cap when they were
// omitted. An explicit cap of zero is kept.
func (r CreatePlayerRequest) WithDefaults(d WalletDefaults) CreatePlayerRequest {
	out := CreatePlayerRequest{PlayerID: r.PlayerID}
	if r.Balances == nil {
		out.Balances = map[string]int64{
			string(CurrencySoft):           d.Soft,
			string(CurrencyPremium):        d.Premium,
			string(CurrencyCoachingCredit): d.CoachingCredit,
		}
	} else {
		out.Balances = make(map[string]int64, len(r.Balances))
		for k, v := range r.Balances {
			out.Balances[k] = v
		}
	}
	creditCap := d.CoachingCreditCap
	if r.CoachingCreditCap != nil {
		creditCap = *r.CoachingCreditCap
	}
	out.CoachingCreditCap = &creditCap
	return out
}

// CreditCap returns the requested cap, or zero when none was given
func (r CreatePlayerRequest) CreditCap() int64 {
	if r.CoachingCreditCap == nil {
		return 0
	}
	return *r.CoachingCreditCap
}

// PlayerCreated is returned when a wallet is registered
type PlayerCreated struct {
	Wallet      Wallet `json:"wallet"`
	RequestedID string `json:"requested_id,omitempty"`
	IDGenerated bool   `json:"id_generated"`
}

// Holder is a ranked balance for one currency
type Holder struct {
	Rank     int64  `json:"rank"`
	PlayerID string `json:"player_id"`
	Balance  int64  `json:"balance"`
}
