package common

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid marks configuration failures. These are the only fatal errors of a cycle.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrRateLimited marks an upstream refusal due to request quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned by stores for absent keys.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when another run holds the run lock.
	ErrLocked = errors.New("run lock held by another process")

	// ErrLedgerInconsistent marks persisted ledger state that cannot be trusted,
	// such as a truncated last NAV row.
	ErrLedgerInconsistent = errors.New("ledger inconsistent")
)

// ProviderError is an upstream failure of a price or search provider.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	Endpoint    string
	RateLimited bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d, endpoint: %s)", e.Provider, e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap exposes ErrRateLimited so callers can use errors.Is.
func (e *ProviderError) Unwrap() error {
	if e.RateLimited {
		return ErrRateLimited
	}
	return nil
}

// IsRateLimited reports whether err signals a quota refusal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
