package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/folio/internal/common"
)

// newProviderBreaker trips after trips consecutive failed calls to one provider and
// keeps it open for cooloff. Rate limits and hard errors count as failures; an
// empty answer is a successful call.
func newProviderBreaker(name string, trips int, cooloff time.Duration, logger *common.Logger) *gobreaker.CircuitBreaker {
	if trips <= 0 {
		trips = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooloff,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(trips)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
	})
}
