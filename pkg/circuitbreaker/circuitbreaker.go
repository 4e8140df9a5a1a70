// Package circuitbreaker carries the breaker settings shared by every
// upstream feed client.
package circuitbreaker

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	// minRequests is the sample size required before the failure ratio is
	// considered meaningful.
	minRequests  = 10
	failingRatio = 0.6

	// openInterval is how long a tripped breaker rejects calls before
	// letting trial calls through.
	openInterval = 30 * time.Second
	// halfOpenRequests bounds concurrent trial calls while half-open.
	halfOpenRequests = 2
)

// NewCircuitBreaker returns a breaker tuned for polled HTTP price feeds: it
// trips once at least minRequests calls were observed and the failure ratio
// reaches failingRatio, stays open for openInterval, and logs every state
// transition through the process logger.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenRequests,
		Timeout:     openInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s moved from %s to %s", name, from, to)
		},
	})
}
