package domain

import "errors"

// Domain errors
var (
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrCapReached             = errors.New("currency cap reached")
	ErrPlayerNotFound         = errors.New("player not found")
	ErrPlayerExists           = errors.New("player already exists")
	ErrInvalidCap             = errors.New("invalid currency cap")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
	ErrNothingToRollback      = errors.New("rollback stack is empty")
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	ErrPersistenceReadCorrupt = errors.New("persisted state is corrupt")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInternalError          = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrCheckpointNotFound)
}

// IsRejection reports whether err is a ledger rejection, i.e. the mutation
// was refused before any balance changed.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnsupportedCurrency) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCapReached)
}
